package replay

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/downfa11-org/go-archive/pkg/archive"
	"github.com/downfa11-org/go-archive/pkg/metrics"
	"github.com/downfa11-org/go-archive/util"
)

// endOfReplayMarker is written as the wire length after the final fragment so
// the consumer can tell a completed replay from a dropped connection.
const endOfReplayMarker = uint32(0xFFFFFFFF)

// Session streams one replay to a destination connection. Fragments flow
// through a bounded queue; when the queue is full the fragment is rejected
// back to the reader, which re-offers it on the next poll, so a slow
// destination never loses or duplicates data.
type Session struct {
	ID string

	reader        *archive.ReplayReader
	conn          net.Conn
	fragmentLimit int
	idle          time.Duration

	outCh    chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once

	writeErr chan error
}

func NewSession(id string, reader *archive.ReplayReader, conn net.Conn, fragmentLimit, queueSize int, idle time.Duration) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Session{
		ID:            id,
		reader:        reader,
		conn:          conn,
		fragmentLimit: fragmentLimit,
		idle:          idle,
		outCh:         make(chan []byte, queueSize),
		stopCh:        make(chan struct{}),
		writeErr:      make(chan error, 1),
	}
}

// FromPosition returns the reader's effective start position.
func (s *Session) FromPosition() int64 {
	return s.reader.FromPosition()
}

// Stop aborts the session; Run returns after the current poll.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run polls the reader until the replay completes, the session is stopped or
// an error occurs. It blocks the calling goroutine; the destination write
// side runs on its own goroutine draining the fragment queue.
func (s *Session) Run() error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	err := s.pollLoop()

	close(s.outCh)
	wg.Wait()

	if err != nil {
		return err
	}
	select {
	case werr := <-s.writeErr:
		return werr
	default:
	}

	if s.reader.IsDone() {
		return s.writeMarker(endOfReplayMarker)
	}
	return nil
}

func (s *Session) pollLoop() error {
	for {
		select {
		case <-s.stopCh:
			util.Debug("replay session %s stopped", s.ID)
			return nil
		case err := <-s.writeErr:
			s.writeErr <- err
			return fmt.Errorf("replay session %s destination: %w", s.ID, err)
		default:
		}

		start := time.Now()
		n, err := s.reader.ControlledPoll(s.onFragment, s.fragmentLimit)
		metrics.ObserveReplayPoll(n, time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("replay session %s: %w", s.ID, err)
		}

		if s.reader.IsDone() {
			return nil
		}
		if n == 0 {
			// Either caught up with a live writer or pushed back by a full
			// queue; the retry cadence is ours to choose.
			time.Sleep(s.idle)
		}
	}
}

func (s *Session) onFragment(buf []byte, offset, length int32) bool {
	fragment := append([]byte(nil), buf[offset:offset+length]...)
	select {
	case s.outCh <- fragment:
		return true
	default:
		return false
	}
}

func (s *Session) writeLoop() {
	var lenBuf [4]byte
	for fragment := range s.outCh {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(fragment)))
		if _, err := s.conn.Write(lenBuf[:]); err != nil {
			s.reportWriteErr(err)
			return
		}
		if _, err := s.conn.Write(fragment); err != nil {
			s.reportWriteErr(err)
			return
		}
	}
}

func (s *Session) reportWriteErr(err error) {
	select {
	case s.writeErr <- err:
	default:
	}
	// Unblock the poll loop's queue sends by draining what remains.
	for range s.outCh {
	}
}

func (s *Session) writeMarker(marker uint32) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], marker)
	if _, err := s.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("replay session %s end marker: %w", s.ID, err)
	}
	return nil
}
