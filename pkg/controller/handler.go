package controller

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/downfa11-org/go-archive/pkg/archive"
	"github.com/downfa11-org/go-archive/pkg/config"
	"github.com/downfa11-org/go-archive/pkg/events"
	"github.com/downfa11-org/go-archive/pkg/recording"
	"github.com/downfa11-org/go-archive/pkg/replay"
	"github.com/downfa11-org/go-archive/util"
)

const REPLAY_DATA_SIGNAL = "REPLAY_DATA"
const EVENT_STREAM_SIGNAL = "EVENT_STREAM"

type CommandHandler struct {
	Recordings *recording.Manager
	Replays    *replay.Manager
	Dispatcher *events.Dispatcher
	Config     *config.Config
}

func NewCommandHandler(rm *recording.Manager, pm *replay.Manager, d *events.Dispatcher, cfg *config.Config) *CommandHandler {
	return &CommandHandler{
		Recordings: rm,
		Replays:    pm,
		Dispatcher: d,
		Config:     cfg,
	}
}

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

// HandleCommand parses a control command and returns the response text.
// REPLAY and EVENTS are validated here but stream on the connection, so the
// server dispatches them to the conn-aware handlers on the returned signal.
func (ch *CommandHandler) HandleCommand(rawCmd string) string {
	cmd := strings.TrimSpace(rawCmd)

	if cmd == "" {
		resp := "ERROR: empty command"
		ch.logCommandResult(rawCmd, resp)
		return resp
	}

	if strings.HasPrefix(strings.ToUpper(cmd), "REPLAY ") {
		args := parseKeyValueArgs(cmd[7:])
		if args["recording"] == "" {
			resp := "ERROR: invalid REPLAY syntax. Expected: REPLAY recording=<id> [position=<P>] [length=<N>]"
			ch.logCommandResult(rawCmd, resp)
			return resp
		}
		return REPLAY_DATA_SIGNAL
	}

	if strings.EqualFold(cmd, "EVENTS") {
		return EVENT_STREAM_SIGNAL
	}

	var resp string
	switch {
	case strings.EqualFold(cmd, "HELP"):
		resp = ch.handleHelp()
	case strings.EqualFold(cmd, "LIST"):
		resp = ch.handleList()
	case strings.HasPrefix(strings.ToUpper(cmd), "RECORD"):
		resp = ch.handleRecord(cmd)
	case strings.HasPrefix(strings.ToUpper(cmd), "STOP "):
		resp = ch.handleStop(cmd)
	default:
		resp = fmt.Sprintf("ERROR: unknown command '%s'. Type HELP for commands.", firstWord(cmd))
	}

	ch.logCommandResult(rawCmd, resp)
	return resp
}

// handleHelp processes HELP command
func (ch *CommandHandler) handleHelp() string {
	return `Available commands:
RECORD [session=<N>] [stream=<N>] [join=<P>] - start a recording at join position (default=0)
APPEND recording=<id> <payload> - append one message to an active recording
STOP recording=<id> - seal a recording
REPLAY recording=<id> [position=<P>] [length=<N>] - stream recorded fragments back
LIST - list all recordings
EVENTS - stream recording lifecycle events
HELP - show this help
EXIT - exit`
}

// handleRecord processes RECORD command
func (ch *CommandHandler) handleRecord(cmd string) string {
	args := parseKeyValueArgs(strings.TrimSpace(cmd[6:]))
	correlation := correlationID(args)

	sessionID := int32(util.ParseInt(args["session"], 0))
	streamID := int32(util.ParseInt(args["stream"], 0))
	joinPosition := util.ParseInt64(args["join"], 0)
	if joinPosition < 0 {
		return fmt.Sprintf("ERROR: correlation=%s join position must not be negative", correlation)
	}

	recordingID, err := ch.Recordings.Start(sessionID, streamID, joinPosition)
	if err != nil {
		return fmt.Sprintf("ERROR: correlation=%s %v", correlation, err)
	}
	return fmt.Sprintf("OK correlation=%s recording=%d join=%d", correlation, recordingID, joinPosition)
}

// handleStop processes STOP command
func (ch *CommandHandler) handleStop(cmd string) string {
	args := parseKeyValueArgs(cmd[5:])
	correlation := correlationID(args)

	if args["recording"] == "" {
		return fmt.Sprintf("ERROR: correlation=%s missing recording parameter. Expected: STOP recording=<id>", correlation)
	}
	recordingID := util.ParseInt64(args["recording"], -1)
	if recordingID < 0 {
		return fmt.Sprintf("ERROR: correlation=%s recording must be a non-negative integer", correlation)
	}

	position, err := ch.Recordings.Stop(recordingID)
	if err != nil {
		return fmt.Sprintf("ERROR: correlation=%s %v", correlation, err)
	}
	return fmt.Sprintf("OK correlation=%s recording=%d position=%d", correlation, recordingID, position)
}

// handleList processes LIST command
func (ch *CommandHandler) handleList() string {
	descriptors, err := ch.Recordings.Descriptors()
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if len(descriptors) == 0 {
		return "no recordings"
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].RecordingID < descriptors[j].RecordingID
	})

	var sb strings.Builder
	for i, d := range descriptors {
		if i > 0 {
			sb.WriteByte('\n')
		}
		state := "STOPPED"
		if ch.Recordings.IsActive(d.RecordingID) || d.IsLive() {
			state = "LIVE"
		}
		fmt.Fprintf(&sb, "recording=%d state=%s join=%d stop=%d session=%d stream=%d term=%d segment=%d",
			d.RecordingID, state, d.JoinPosition, d.StopPosition, d.SessionID, d.StreamID,
			d.TermBufferLength, d.SegmentFileLength)
	}
	return sb.String()
}

// HandleAppend processes an APPEND data message. The payload follows the
// command line after the first newline and may be arbitrary bytes.
func (ch *CommandHandler) HandleAppend(data []byte) string {
	line, payload, found := cutLine(data)
	args := parseKeyValueArgs(strings.TrimSpace(line[6:]))
	correlation := correlationID(args)

	if !found {
		return fmt.Sprintf("ERROR: correlation=%s missing payload. Expected: APPEND recording=<id>\\n<payload>", correlation)
	}
	if args["recording"] == "" {
		return fmt.Sprintf("ERROR: correlation=%s missing recording parameter. Expected: APPEND recording=<id>\\n<payload>", correlation)
	}
	recordingID := util.ParseInt64(args["recording"], -1)
	if recordingID < 0 {
		return fmt.Sprintf("ERROR: correlation=%s recording must be a non-negative integer", correlation)
	}

	position, err := ch.Recordings.Append(recordingID, payload)
	if err != nil {
		return fmt.Sprintf("ERROR: correlation=%s %v", correlation, err)
	}
	return fmt.Sprintf("OK correlation=%s recording=%d position=%d", correlation, recordingID, position)
}

// HandleReplayCommand opens a replay session for the REPLAY command and
// streams fragments over conn. It blocks until the replay finishes or the
// client goes away.
func (ch *CommandHandler) HandleReplayCommand(conn net.Conn, rawCmd string, ack func(net.Conn, string) error) error {
	args := parseKeyValueArgs(strings.TrimSpace(rawCmd)[7:])
	correlation := correlationID(args)

	recordingID := util.ParseInt64(args["recording"], -1)
	if recordingID < 0 {
		return fmt.Errorf("correlation=%s recording must be a non-negative integer", correlation)
	}
	position := util.ParseInt64(args["position"], archive.NullPosition)
	length := util.ParseInt64(args["length"], archive.NullLength)

	session, err := ch.Replays.OpenSession(recordingID, position, length, conn)
	if err != nil {
		return fmt.Errorf("correlation=%s %v", correlation, err)
	}
	defer ch.Replays.Release(session)

	if err := ack(conn, fmt.Sprintf("OK correlation=%s replay=%s position=%d",
		correlation, session.ID, session.FromPosition())); err != nil {
		return err
	}

	util.Info("replay %s serving recording %d from position %d", session.ID, recordingID, session.FromPosition())
	return session.Run()
}

// HandleEventsCommand streams recording lifecycle events as text responses
// until the subscriber disconnects.
func (ch *CommandHandler) HandleEventsCommand(conn net.Conn, send func(net.Conn, string) error) error {
	eventCh, cancel := ch.Dispatcher.Subscribe()
	defer cancel()

	if err := send(conn, "OK subscribed"); err != nil {
		return err
	}
	for e := range eventCh {
		line := fmt.Sprintf("EVENT type=%s recording=%d join=%d position=%d",
			e.Type, e.RecordingID, e.JoinPosition, e.Position)
		if err := send(conn, line); err != nil {
			return err
		}
	}
	return nil
}

func correlationID(args map[string]string) string {
	if c := args["correlation"]; c != "" {
		return c
	}
	return uuid.NewString()
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// cutLine splits a data message at the first newline into the command line
// and the raw payload bytes.
func cutLine(data []byte) (string, []byte, bool) {
	for i, b := range data {
		if b == '\n' {
			return string(data[:i]), data[i+1:], true
		}
	}
	return string(data), nil, false
}

func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Fields(argsStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}
