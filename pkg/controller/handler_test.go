package controller_test

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/downfa11-org/go-archive/pkg/config"
	"github.com/downfa11-org/go-archive/pkg/controller"
	"github.com/downfa11-org/go-archive/pkg/events"
	"github.com/downfa11-org/go-archive/pkg/recording"
	"github.com/downfa11-org/go-archive/pkg/replay"
)

func newHandler(t *testing.T) *controller.CommandHandler {
	t.Helper()
	cfg := &config.Config{
		ArchiveDir:         t.TempDir(),
		TermBufferLength:   4096,
		SegmentFileLength:  8192,
		FragmentLimit:      8,
		ReplayIdleMS:       1,
		MaxReplaySessions:  4,
		ProgressIntervalMS: 10,
		EventBufferSize:    16,
	}
	dispatcher := events.NewDispatcher(cfg.EventBufferSize)
	rm := recording.NewManager(cfg, dispatcher)
	pm := replay.NewManager(cfg.ArchiveDir, cfg.FragmentLimit, cfg.FragmentLimit,
		cfg.MaxReplaySessions, time.Duration(cfg.ReplayIdleMS)*time.Millisecond)
	return controller.NewCommandHandler(rm, pm, dispatcher, cfg)
}

func responseArgs(t *testing.T, resp string) map[string]string {
	t.Helper()
	if !strings.HasPrefix(resp, "OK") {
		t.Fatalf("expected OK response, got %q", resp)
	}
	args := make(map[string]string)
	for _, part := range strings.Fields(resp) {
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			args[kv[0]] = kv[1]
		}
	}
	return args
}

func TestRecordAppendStopCommands(t *testing.T) {
	ch := newHandler(t)

	resp := ch.HandleCommand("RECORD session=7 stream=3 join=0 correlation=abc")
	args := responseArgs(t, resp)
	if args["correlation"] != "abc" {
		t.Errorf("correlation %q not echoed", args["correlation"])
	}
	if args["recording"] != "0" {
		t.Errorf("expected recording=0, got %q", args["recording"])
	}

	resp = ch.HandleAppend([]byte("APPEND recording=0\nfirst payload"))
	args = responseArgs(t, resp)
	if args["position"] == "" || args["position"] == "0" {
		t.Errorf("append did not advance position: %q", resp)
	}

	resp = ch.HandleCommand("LIST")
	if !strings.Contains(resp, "recording=0") || !strings.Contains(resp, "state=LIVE") {
		t.Errorf("LIST missing live recording: %q", resp)
	}

	resp = ch.HandleCommand("STOP recording=0")
	args = responseArgs(t, resp)
	if args["position"] == "" {
		t.Errorf("STOP response missing position: %q", resp)
	}

	resp = ch.HandleCommand("LIST")
	if !strings.Contains(resp, "state=STOPPED") {
		t.Errorf("LIST still reports live after stop: %q", resp)
	}
}

func TestCommandErrors(t *testing.T) {
	ch := newHandler(t)

	cases := []struct {
		name string
		cmd  string
	}{
		{"empty", ""},
		{"unknown", "FROBNICATE recording=1"},
		{"stop missing id", "STOP "},
		{"stop bad id", "STOP recording=minusone"},
		{"replay missing id", "REPLAY position=0"},
	}
	for _, tc := range cases {
		resp := ch.HandleCommand(tc.cmd)
		if !strings.HasPrefix(resp, "ERROR:") {
			t.Errorf("%s: expected ERROR response, got %q", tc.name, resp)
		}
	}

	if resp := ch.HandleAppend([]byte("APPEND recording=99\nno such recording")); !strings.HasPrefix(resp, "ERROR:") {
		t.Errorf("append to unknown recording: expected ERROR, got %q", resp)
	}
	if resp := ch.HandleAppend([]byte("APPEND recording=0")); !strings.HasPrefix(resp, "ERROR:") {
		t.Errorf("append without payload: expected ERROR, got %q", resp)
	}
}

func TestReplaySignalAndStream(t *testing.T) {
	ch := newHandler(t)

	if resp := ch.HandleCommand("REPLAY recording=0 position=0"); resp != controller.REPLAY_DATA_SIGNAL {
		t.Fatalf("expected replay signal, got %q", resp)
	}

	responseArgs(t, ch.HandleCommand("RECORD"))
	payloads := []string{"replay one", "replay two", "replay three"}
	for _, p := range payloads {
		responseArgs(t, ch.HandleAppend([]byte("APPEND recording=0\n"+p)))
	}
	responseArgs(t, ch.HandleCommand("STOP recording=0"))

	client, serverConn := net.Pipe()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		defer serverConn.Close()
		errCh <- ch.HandleReplayCommand(serverConn, "REPLAY recording=0 correlation=xyz", writeFramed)
	}()

	ack, err := readFramed(client)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !strings.HasPrefix(string(ack), "OK correlation=xyz") {
		t.Fatalf("unexpected ack %q", ack)
	}

	var got []string
	for {
		frame, err := readFramed(client)
		if err != nil {
			t.Fatalf("read fragment: %v", err)
		}
		if frame == nil {
			break
		}
		got = append(got, string(frame))
	}
	if len(got) != len(payloads) {
		t.Fatalf("streamed %d fragments, want %d", len(got), len(payloads))
	}
	for i, p := range payloads {
		if got[i] != p {
			t.Errorf("fragment %d = %q, want %q", i, got[i], p)
		}
	}

	if err := <-errCh; err != nil {
		t.Fatalf("replay command: %v", err)
	}
}

func TestReplayUnknownRecordingFails(t *testing.T) {
	ch := newHandler(t)

	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	if err := ch.HandleReplayCommand(serverConn, "REPLAY recording=404", writeFramed); err == nil {
		t.Fatalf("expected error for unknown recording")
	}
}

func TestEventsCommandStreams(t *testing.T) {
	ch := newHandler(t)

	client, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		ch.HandleEventsCommand(serverConn, writeFramed)
	}()

	ack, err := readFramed(client)
	if err != nil || string(ack) != "OK subscribed" {
		t.Fatalf("subscribe ack = %q, %v", ack, err)
	}

	responseArgs(t, ch.HandleCommand("RECORD"))

	line, err := readFramed(client)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.Contains(string(line), "type=start recording=0") {
		t.Errorf("unexpected event line %q", line)
	}

	responseArgs(t, ch.HandleCommand("STOP recording=0"))
	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("events handler did not exit after disconnect")
	}
}

// writeFramed and readFramed mirror the server's length-prefixed framing.
// readFramed returns nil bytes on the end-of-replay marker.
func writeFramed(conn net.Conn, msg string) error {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(msg)))
	if _, err := conn.Write(lenBuf); err != nil {
		return err
	}
	_, err := conn.Write([]byte(msg))
	return err
}

func readFramed(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf)
	if frameLen == 0xFFFFFFFF {
		return nil, nil
	}
	msg := make([]byte, frameLen)
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
