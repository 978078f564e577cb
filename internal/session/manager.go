package session

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager maps chat ids to sessions. Sessions idle longer than the idle TTL
// are dropped the next time the manager is used.
type Manager struct {
	catalog *Catalog
	opts    Options

	mu       sync.Mutex
	sessions map[int64]*Session
	logger   zerolog.Logger
}

// NewManager creates a session manager.
func NewManager(catalog *Catalog, opts Options) *Manager {
	return &Manager{
		catalog:  catalog,
		opts:     opts.withDefaults(),
		sessions: make(map[int64]*Session),
		logger:   log.With().Str("component", "session_manager").Logger(),
	}
}

// Get returns the session of id, creating it on first contact, and records
// the activity.
func (m *Manager) Get(id int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	m.evictLocked(id)

	s, ok := m.sessions[id]
	if !ok {
		s = New(id, m.catalog, m.opts)
		m.sessions[id] = s
		m.logger.Debug().Int64("session", id).Int("active", len(m.sessions)).Msg("Session created")
	}
	s.lastActivity = now
	return s
}

// Reset drops the session of id so the next Get starts fresh.
func (m *Manager) Reset(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// evictLocked drops idle sessions, including the caller's own.
func (m *Manager) evictLocked(caller int64) {
	now := m.opts.Now()
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity) > m.opts.IdleTTL {
			delete(m.sessions, id)
			m.logger.Debug().Int64("session", id).Bool("caller", id == caller).Msg("Idle session evicted")
		}
	}
}
