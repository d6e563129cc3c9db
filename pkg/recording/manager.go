package recording

import (
	"fmt"
	"sync"
	"time"

	"github.com/downfa11-org/go-archive/pkg/archive"
	"github.com/downfa11-org/go-archive/pkg/config"
	"github.com/downfa11-org/go-archive/pkg/events"
	"github.com/downfa11-org/go-archive/pkg/metrics"
	"github.com/downfa11-org/go-archive/util"
)

// Manager owns the lifecycle of active recordings: it allocates recording
// IDs, feeds appended messages to the writers, publishes progress events and
// seals recordings on stop.
type Manager struct {
	cfg        *config.Config
	dispatcher *events.Dispatcher

	mu     sync.Mutex
	active map[int64]*liveRecording
}

type liveRecording struct {
	mu           sync.Mutex
	writer       *archive.RecordingWriter
	stopProgress chan struct{}
	progressDone sync.WaitGroup
}

func NewManager(cfg *config.Config, dispatcher *events.Dispatcher) *Manager {
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		active:     make(map[int64]*liveRecording),
	}
}

// Start begins a new recording joining the stream at joinPosition and
// returns its recording ID.
func (m *Manager) Start(sessionID, streamID int32, joinPosition int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recordingID, err := archive.NextRecordingID(m.cfg.ArchiveDir)
	if err != nil {
		return 0, err
	}

	writer, err := archive.NewRecordingWriter(m.cfg.ArchiveDir, archive.Descriptor{
		RecordingID:       recordingID,
		TermBufferLength:  int32(m.cfg.TermBufferLength),
		SegmentFileLength: int32(m.cfg.SegmentFileLength),
		JoinPosition:      joinPosition,
		SessionID:         sessionID,
		StreamID:          streamID,
	}, m.cfg.SyncOnAppend)
	if err != nil {
		return 0, err
	}

	rec := &liveRecording{
		writer:       writer,
		stopProgress: make(chan struct{}),
	}
	m.active[recordingID] = rec

	metrics.RecordingsStarted.Inc()
	m.dispatcher.NotifyStart(recordingID, joinPosition)

	rec.progressDone.Add(1)
	go m.progressLoop(recordingID, rec)

	util.Info("recording %d started (session=%d stream=%d join=%d)",
		recordingID, sessionID, streamID, joinPosition)
	return recordingID, nil
}

// Append writes one message to an active recording and returns the stream
// position after the frame.
func (m *Manager) Append(recordingID int64, payload []byte) (int64, error) {
	rec, err := m.lookup(recordingID)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	position, err := rec.writer.Append(payload)
	rec.mu.Unlock()
	if err != nil {
		return position, err
	}

	metrics.BytesRecorded.Add(float64(archive.AlignFrame(int32(archive.HeaderLength + len(payload)))))
	return position, nil
}

// Stop seals an active recording and returns its final stream position.
func (m *Manager) Stop(recordingID int64) (int64, error) {
	m.mu.Lock()
	rec, ok := m.active[recordingID]
	if ok {
		delete(m.active, recordingID)
	}
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("recording %d is not active", recordingID)
	}

	close(rec.stopProgress)
	rec.progressDone.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.writer.Stop(); err != nil {
		rec.writer.Close()
		return 0, err
	}
	position := rec.writer.Position()
	if err := rec.writer.Close(); err != nil {
		return position, err
	}

	metrics.RecordingsStopped.Inc()
	d := rec.writer.Descriptor()
	m.dispatcher.NotifyStop(recordingID, d.JoinPosition, position)
	util.Info("recording %d stopped at position %d", recordingID, position)
	return position, nil
}

// Descriptors returns metadata for every recording in the archive
// directory. Active recordings report their current position.
func (m *Manager) Descriptors() ([]archive.Descriptor, error) {
	ids, err := archive.ListRecordingIDs(m.cfg.ArchiveDir)
	if err != nil {
		return nil, err
	}

	descriptors := make([]archive.Descriptor, 0, len(ids))
	for _, id := range ids {
		m.mu.Lock()
		rec, active := m.active[id]
		m.mu.Unlock()

		if active {
			rec.mu.Lock()
			descriptors = append(descriptors, rec.writer.Descriptor())
			rec.mu.Unlock()
			continue
		}

		d, err := archive.LoadDescriptor(m.cfg.ArchiveDir, id)
		if err != nil {
			util.Warn("skipping unreadable descriptor for recording %d: %v", id, err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// IsActive reports whether a recording is currently accepting appends.
func (m *Manager) IsActive(recordingID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[recordingID]
	return ok
}

// StopAll seals every active recording, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(id); err != nil {
			util.Error("stopping recording %d: %v", id, err)
		}
	}
}

func (m *Manager) lookup(recordingID int64) (*liveRecording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[recordingID]
	if !ok {
		return nil, fmt.Errorf("recording %d is not active", recordingID)
	}
	return rec, nil
}

// progressLoop periodically flushes the descriptor snapshot so replay
// sessions tailing a live recording see its growing length, and publishes
// progress events.
func (m *Manager) progressLoop(recordingID int64, rec *liveRecording) {
	defer rec.progressDone.Done()

	interval := time.Duration(m.cfg.ProgressIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rec.stopProgress:
			return
		case <-ticker.C:
			rec.mu.Lock()
			err := rec.writer.Sync()
			d := rec.writer.Descriptor()
			rec.mu.Unlock()
			if err != nil {
				util.Error("recording %d progress sync: %v", recordingID, err)
				continue
			}
			m.dispatcher.NotifyProgress(recordingID, d.JoinPosition, d.StopPosition)
		}
	}
}
