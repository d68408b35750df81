package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/events"
	"github.com/controlface/deploy-console/internal/metrics"
	"github.com/controlface/deploy-console/internal/storage"
)

// ManagerOptions configures the views a Manager opens
type ManagerOptions struct {
	Store     storage.Store
	Deployer  Deployer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

type session struct {
	registry  *Registry
	expiresAt time.Time
}

// Manager owns one Registry per operator session
type Manager struct {
	opts ManagerOptions
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	revoked  map[string]time.Time
	closed   bool
}

// NewManager creates a session manager
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*session),
		revoked:  make(map[string]time.Time),
	}
}

// Open returns the view for sessionID, creating and starting it if needed.
// The view lives until Close, expiry or CloseAll.
func (m *Manager) Open(sessionID string, expiresAt time.Time) (*Registry, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := m.revoked[sessionID]; ok {
		m.mu.Unlock()
		return nil, ErrSessionRevoked
	}
	if s, ok := m.sessions[sessionID]; ok {
		if expiresAt.After(s.expiresAt) {
			s.expiresAt = expiresAt
		}
		m.mu.Unlock()
		return s.registry, nil
	}

	reg := New(Options{
		Store:     m.opts.Store,
		Deployer:  m.opts.Deployer,
		Publisher: m.opts.Publisher,
		Metrics:   m.opts.Metrics,
		SessionID: sessionID,
	})
	m.sessions[sessionID] = &session{registry: reg, expiresAt: expiresAt}
	count := len(m.sessions)
	m.mu.Unlock()

	m.opts.Metrics.SetActiveViews(count)

	// A failed subscription leaves an empty, non-loading view behind; the
	// operator sees the error on it.
	if err := reg.Start(context.Background()); err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("Failed to start operator view")
	} else {
		log.Info().Str("session", sessionID).Msg("Operator view opened")
	}

	return reg, nil
}

// Get returns the live view for sessionID
func (m *Manager) Get(sessionID string) (*Registry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || !m.now().Before(s.expiresAt) {
		return nil, false
	}
	return s.registry, true
}

// Close tears down the view for sessionID and reports whether one existed
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.registry.Close()
	m.opts.Metrics.SetActiveViews(count)
	log.Info().Str("session", sessionID).Msg("Operator view closed")
	return true
}

// Revoke closes the view for sessionID and refuses to reopen it until
// expiresAt, when its token stops validating anyway.
func (m *Manager) Revoke(sessionID string, expiresAt time.Time) {
	m.mu.Lock()
	m.revoked[sessionID] = expiresAt
	m.mu.Unlock()

	m.Close(sessionID)
}

// IsRevoked reports whether sessionID was locked
func (m *Manager) IsRevoked(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[sessionID]
	return ok
}

// Sweep closes expired views and returns how many were closed
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	for id, until := range m.revoked {
		if !now.Before(until) {
			delete(m.revoked, id)
		}
	}
	var expired []*session
	for id, s := range m.sessions {
		if !now.Before(s.expiresAt) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		s.registry.Close()
	}
	if len(expired) > 0 {
		m.opts.Metrics.SetActiveViews(count)
		log.Info().Int("expired", len(expired)).Int("active", count).Msg("Expired operator views closed")
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes every view
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// CloseAll closes every view; later Opens fail with ErrClosed
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.registry.Close()
	}
	m.opts.Metrics.SetActiveViews(0)
}

// Len returns the number of open views
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
