package replay

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/downfa11-org/go-archive/pkg/archive"
	"github.com/downfa11-org/go-archive/pkg/metrics"
	"github.com/downfa11-org/go-archive/util"
	"github.com/google/uuid"
)

// Manager tracks the open replay sessions. Each session owns its reader and
// its single mapped segment; sessions are independent of each other.
type Manager struct {
	archiveDir    string
	fragmentLimit int
	queueSize     int
	idle          time.Duration
	maxSessions   int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(archiveDir string, fragmentLimit, queueSize, maxSessions int, idle time.Duration) *Manager {
	return &Manager{
		archiveDir:    archiveDir,
		fragmentLimit: fragmentLimit,
		queueSize:     queueSize,
		idle:          idle,
		maxSessions:   maxSessions,
		sessions:      make(map[string]*Session),
	}
}

// OpenSession builds a reader for the requested range and registers a session
// delivering to conn. The caller drives it with Run and must hand it back to
// Release.
func (m *Manager) OpenSession(recordingID, position, length int64, conn net.Conn) (*Session, error) {
	reader, err := archive.NewReplayReader(m.archiveDir, recordingID, position, length)
	if err != nil {
		return nil, err
	}

	session := NewSession(uuid.NewString(), reader, conn, m.fragmentLimit, m.queueSize, m.idle)

	// Check-and-insert under one lock so concurrent opens cannot exceed the
	// session limit.
	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		reader.Close()
		return nil, fmt.Errorf("replay session limit %d reached", m.maxSessions)
	}
	m.sessions[session.ID] = session
	m.mu.Unlock()

	metrics.ReplaySessionsActive.Inc()
	util.Debug("replay session %s opened: recording=%d position=%d length=%d",
		session.ID, recordingID, position, length)
	return session, nil
}

// Release closes the session's reader and forgets it.
func (m *Manager) Release(session *Session) {
	m.mu.Lock()
	_, tracked := m.sessions[session.ID]
	delete(m.sessions, session.ID)
	m.mu.Unlock()

	if !tracked {
		return
	}

	session.Stop()
	if err := session.reader.Close(); err != nil {
		util.Error("replay session %s reader close: %v", session.ID, err)
	}
	metrics.ReplaySessionsActive.Dec()
}

// ActiveSessions returns the number of sessions currently registered.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StopAll aborts every open session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.Release(s)
	}
}
