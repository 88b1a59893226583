package ptyservice

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// SessionInfo is the list-action view of a session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	Running   bool   `json:"running"`
	Created   string `json:"created"`
}

// Manager owns the live session table.
type Manager struct {
	log *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty session table.
func NewManager() *Manager {
	return &Manager{
		log:      log.New(os.Stdout, "[pty] ", log.LstdFlags),
		sessions: make(map[string]*Session),
	}
}

// CreateSession starts command in a fresh PTY under id. An existing
// session with the same id is closed and replaced.
func (m *Manager) CreateSession(id, command string, timeout time.Duration) (*Session, error) {
	m.mu.Lock()
	old := m.sessions[id]
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	s, err := startSession(id, command, timeout)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.log.Printf("session %s started: %s", id, truncateCommand(command))
	return s, nil
}

// Get returns the session for id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// CloseSession closes and removes the session for id. It reports
// whether a session existed.
func (m *Manager) CloseSession(id string) bool {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.Close()
	m.log.Printf("session %s closed", id)
	return true
}

// CleanupStale closes sessions idle past their timeout and drops
// sessions whose process already finished and was torn down.
func (m *Manager) CleanupStale() {
	m.mu.Lock()
	stale := make([]string, 0)
	for id, s := range m.sessions {
		if s.IsTimedOut() || (!s.IsRunning() && s.Closed()) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.mu.Lock()
		s := m.sessions[id]
		delete(m.sessions, id)
		m.mu.Unlock()
		if s != nil {
			s.Close()
			m.log.Printf("session %s reaped", id)
		}
	}
}

// CleanupLoop runs CleanupStale every 30 seconds until ctx is done.
func (m *Manager) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupStale()
		}
	}
}

// ActiveCount returns the number of tracked sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List describes every tracked session.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			SessionID: s.ID,
			Command:   truncateCommand(s.Command),
			Running:   s.IsRunning(),
			Created:   s.CreatedAt.Format(time.RFC3339),
		})
	}
	return infos
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:50]
	}
	return cmd
}
