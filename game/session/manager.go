package session

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a session is already processing a step.
var ErrBusy = errors.New("session: already processing")

// Manager serializes engine steps per session. A session must never process
// two choice applications concurrently: each depends on reading the prior
// progress state. Acquire is the server-side form of the client's
// "processing" guard and also closes the multi-tab race.
type Manager struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager creates a new session lock Manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[int64]*sync.Mutex)}
}

// Acquire takes the session's lock without blocking. It returns a release
// function on success and ErrBusy when a step is already in flight.
func (m *Manager) Acquire(sessionID int64) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	if !l.TryLock() {
		return nil, ErrBusy
	}
	return l.Unlock, nil
}

// Forget drops the lock entry of a finished session.
func (m *Manager) Forget(sessionID int64) {
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
}

// ForgetIdle drops the lock entry only when no step currently holds it, so a
// sweep cannot detach a lock out from under a step in flight. It reports
// whether the entry is gone.
func (m *Manager) ForgetIdle(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		return true
	}
	if !l.TryLock() {
		return false
	}
	l.Unlock()
	delete(m.locks, sessionID)
	return true
}
