package replay_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/go-archive/pkg/archive"
	"github.com/downfa11-org/go-archive/pkg/replay"
)

func recordPayloads(t *testing.T, dir string, id int64, payloads [][]byte) {
	t.Helper()
	w, err := archive.NewRecordingWriter(dir, archive.Descriptor{
		RecordingID:       id,
		TermBufferLength:  4096,
		SegmentFileLength: 16384,
	}, false)
	if err != nil {
		t.Fatalf("NewRecordingWriter: %v", err)
	}
	for i, p := range payloads {
		if _, err := w.Append(p); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	w.Close()
}

// readReplayStream consumes length-prefixed fragments from conn until the
// end-of-replay marker.
func readReplayStream(t *testing.T, conn net.Conn) [][]byte {
	t.Helper()
	var fragments [][]byte
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			t.Fatalf("read fragment length: %v", err)
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length == 0xFFFFFFFF {
			return fragments
		}
		fragment := make([]byte, length)
		if _, err := io.ReadFull(conn, fragment); err != nil {
			t.Fatalf("read fragment body: %v", err)
		}
		fragments = append(fragments, fragment)
	}
}

func TestSessionStreamsRecording(t *testing.T) {
	dir := t.TempDir()
	payloads := [][]byte{
		[]byte("fragment one"),
		bytes.Repeat([]byte{0x42}, 500),
		[]byte("fragment three"),
	}
	recordPayloads(t, dir, 1, payloads)

	m := replay.NewManager(dir, 16, 4, 8, time.Millisecond)
	local, remote := net.Pipe()
	defer remote.Close()

	session, err := m.OpenSession(1, archive.NullPosition, archive.NullLength, local)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if m.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d; want 1", m.ActiveSessions())
	}

	done := make(chan error, 1)
	go func() {
		err := session.Run()
		local.Close()
		done <- err
	}()

	got := readReplayStream(t, remote)

	if err := <-done; err != nil {
		t.Fatalf("session Run: %v", err)
	}
	m.Release(session)

	if m.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions after release = %d; want 0", m.ActiveSessions())
	}
	if len(got) != len(payloads) {
		t.Fatalf("received %d fragments; want %d", len(got), len(payloads))
	}
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Errorf("fragment %d mismatch", i)
		}
	}
}

func TestSessionBackpressureKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var payloads [][]byte
	for i := 0; i < 50; i++ {
		payloads = append(payloads, []byte{byte(i), byte(i >> 1), byte(i + 3)})
	}
	recordPayloads(t, dir, 2, payloads)

	// Tiny queue forces the reader's reject-and-redeliver path; a slow
	// consumer must still observe every fragment exactly once, in order.
	m := replay.NewManager(dir, 8, 1, 8, time.Millisecond)
	local, remote := net.Pipe()
	defer remote.Close()

	session, err := m.OpenSession(2, archive.NullPosition, archive.NullLength, local)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer m.Release(session)

	done := make(chan error, 1)
	go func() {
		err := session.Run()
		local.Close()
		done <- err
	}()

	var got [][]byte
	lenBuf := make([]byte, 4)
	for {
		time.Sleep(200 * time.Microsecond)
		if _, err := io.ReadFull(remote, lenBuf); err != nil {
			t.Fatalf("read length: %v", err)
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length == 0xFFFFFFFF {
			break
		}
		fragment := make([]byte, length)
		if _, err := io.ReadFull(remote, fragment); err != nil {
			t.Fatalf("read body: %v", err)
		}
		got = append(got, fragment)
	}

	if err := <-done; err != nil {
		t.Fatalf("session Run: %v", err)
	}
	if len(got) != len(payloads) {
		t.Fatalf("received %d fragments; want %d", len(got), len(payloads))
	}
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Fatalf("fragment %d out of order or corrupted", i)
		}
	}
}

func TestManagerSessionLimit(t *testing.T) {
	dir := t.TempDir()
	recordPayloads(t, dir, 3, [][]byte{[]byte("x")})

	m := replay.NewManager(dir, 16, 4, 1, time.Millisecond)
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	session, err := m.OpenSession(3, archive.NullPosition, archive.NullLength, local)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer m.Release(session)

	if _, err := m.OpenSession(3, archive.NullPosition, archive.NullLength, local); err == nil {
		t.Fatal("expected session limit error")
	}
}

func TestManagerSessionLimitUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	recordPayloads(t, dir, 4, [][]byte{[]byte("x")})

	const maxSessions = 2
	m := replay.NewManager(dir, 16, 4, maxSessions, time.Millisecond)
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	const attempts = 8
	sessions := make(chan *replay.Session, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s, err := m.OpenSession(4, archive.NullPosition, archive.NullLength, local); err == nil {
				sessions <- s
			}
		}()
	}
	wg.Wait()
	close(sessions)

	opened := 0
	for s := range sessions {
		opened++
		defer m.Release(s)
	}
	if opened != maxSessions {
		t.Fatalf("%d concurrent opens succeeded; want exactly %d", opened, maxSessions)
	}
	if n := m.ActiveSessions(); n != maxSessions {
		t.Fatalf("ActiveSessions() = %d; want %d", n, maxSessions)
	}
}

func TestManagerRejectsUnknownRecording(t *testing.T) {
	m := replay.NewManager(t.TempDir(), 16, 4, 8, time.Millisecond)
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	if _, err := m.OpenSession(99, archive.NullPosition, archive.NullLength, local); err == nil {
		t.Fatal("expected error for unknown recording")
	}
}
