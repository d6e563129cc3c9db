package events

import (
	"sync"

	"github.com/downfa11-org/go-archive/util"
)

type EventType int

const (
	RecordingStart EventType = iota
	RecordingProgress
	RecordingStop
)

func (t EventType) String() string {
	switch t {
	case RecordingStart:
		return "start"
	case RecordingProgress:
		return "progress"
	case RecordingStop:
		return "stop"
	}
	return "unknown"
}

// RecordingEvent is one notice on the recording events channel. Progress
// events let clients measure catch-up rate against a live recording.
type RecordingEvent struct {
	Type         EventType
	RecordingID  int64
	JoinPosition int64
	Position     int64
}

// Dispatcher fans recording events out to subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses events
// rather than stalling the recorder.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int]chan RecordingEvent
	nextID      int
	bufferSize  int
}

func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Dispatcher{
		subscribers: make(map[int]chan RecordingEvent),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new events channel and returns it with a cancel
// function. Cancel closes the channel.
func (d *Dispatcher) Subscribe() (<-chan RecordingEvent, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	ch := make(chan RecordingEvent, d.bufferSize)
	d.subscribers[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if ch, ok := d.subscribers[id]; ok {
			delete(d.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (d *Dispatcher) NotifyStart(recordingID, joinPosition int64) {
	d.publish(RecordingEvent{
		Type:         RecordingStart,
		RecordingID:  recordingID,
		JoinPosition: joinPosition,
		Position:     joinPosition,
	})
}

func (d *Dispatcher) NotifyProgress(recordingID, joinPosition, position int64) {
	d.publish(RecordingEvent{
		Type:         RecordingProgress,
		RecordingID:  recordingID,
		JoinPosition: joinPosition,
		Position:     position,
	})
}

func (d *Dispatcher) NotifyStop(recordingID, joinPosition, position int64) {
	d.publish(RecordingEvent{
		Type:         RecordingStop,
		RecordingID:  recordingID,
		JoinPosition: joinPosition,
		Position:     position,
	})
}

func (d *Dispatcher) publish(e RecordingEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id, ch := range d.subscribers {
		select {
		case ch <- e:
		default:
			util.Debug("events subscriber %d full, dropping %s event for recording %d", id, e.Type, e.RecordingID)
		}
	}
}
