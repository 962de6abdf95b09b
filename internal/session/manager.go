package session

import (
	"context"
	"sync"
	"time"

	"feedsync/internal/observability"
)

// TokenSource returns the bearer token to forward for the current user.
type TokenSource func() string

// BackendFactory builds the content API client of one session.
type BackendFactory func(userID string, token TokenSource) Backend

type entry struct {
	session *Session
	mu      sync.RWMutex
	token   string
}

func (e *entry) setToken(tok string) {
	e.mu.Lock()
	e.token = tok
	e.mu.Unlock()
}

func (e *entry) getToken() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

// ManagerConfig tunes session lifetime.
type ManagerConfig struct {
	Options     Options
	IdleTimeout time.Duration
	// SweepInterval is how often Run looks for idle sessions.
	SweepInterval time.Duration
}

// Manager owns one Session per user id.
type Manager struct {
	factory BackendFactory
	cfg     ManagerConfig

	mu       sync.Mutex
	sessions map[string]*entry
	onCreate []func(*Session)
}

// NewManager creates a Manager.
func NewManager(factory BackendFactory, cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Manager{
		factory:  factory,
		cfg:      cfg,
		sessions: make(map[string]*entry),
	}
}

// OnCreate registers fn to run for every new session.
func (m *Manager) OnCreate(fn func(*Session)) {
	m.mu.Lock()
	m.onCreate = append(m.onCreate, fn)
	m.mu.Unlock()
}

// Get returns userID's session, creating it on first use. token becomes the
// bearer token forwarded on the session's later requests.
func (m *Manager) Get(userID, token string) *Session {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	if ok {
		m.mu.Unlock()
		e.setToken(token)
		e.session.Touch()
		return e.session
	}
	e = &entry{token: token}
	e.session = New(userID, m.factory(userID, e.getToken), m.cfg.Options)
	m.sessions[userID] = e
	hooks := append([]func(*Session){}, m.onCreate...)
	m.mu.Unlock()

	observability.ActiveSessions.Inc()
	observability.GlobalLogger.Info("session created", "user_id", userID)
	for _, fn := range hooks {
		fn(e.session)
	}
	return e.session
}

// Lookup returns userID's session without creating one.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Logout tears down userID's session. It reports whether one existed.
func (m *Manager) Logout(userID string) bool {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.session.Close()
	observability.ActiveSessions.Dec()
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle since before now minus the idle timeout.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)
	var idle []*entry

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.session.LastSeen().Before(cutoff) {
			idle = append(idle, e)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, e := range idle {
		e.session.Close()
		observability.ActiveSessions.Dec()
		observability.GlobalLogger.Info("session evicted", "user_id", e.session.UserID)
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range all {
		e.session.Close()
		observability.ActiveSessions.Dec()
	}
}
