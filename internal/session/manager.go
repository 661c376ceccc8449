package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/editor"
)

// DefaultTTL is how long an idle session survives.
const DefaultTTL = 30 * time.Minute

type settings struct {
	logger       *slog.Logger
	publisher    Publisher
	historyLimit int
	maxUpload    int64
	ttl          time.Duration
	ids          *editor.IDGenerator
}

// Option configures a Manager.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithPublisher sets where editor events go.
func WithPublisher(p Publisher) Option {
	return func(s *settings) { s.publisher = p }
}

// WithHistoryLimit sets the undo depth of new sessions.
func WithHistoryLimit(n int) Option {
	return func(s *settings) { s.historyLimit = n }
}

// WithMaxUploadBytes caps attached files.
func WithMaxUploadBytes(n int64) Option {
	return func(s *settings) { s.maxUpload = n }
}

// WithTTL sets the idle timeout.
func WithTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// Manager tracks live sessions by id.
type Manager struct {
	registry *blocks.Registry
	cfg      settings

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. Node ids are unique across all of its sessions.
func NewManager(reg *blocks.Registry, opts ...Option) *Manager {
	cfg := settings{
		logger:       slog.Default(),
		historyLimit: editor.DefaultHistoryLimit,
		maxUpload:    editor.DefaultMaxUploadBytes,
		ttl:          DefaultTTL,
		ids:          &editor.IDGenerator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		registry: reg,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.registry, m.cfg)

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.cfg.logger.Info("session created", slog.String("session_id", s.id), slog.Int("active", n))
	return s
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session: %s: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// Close stops and forgets a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %s: %w", id, apperr.ErrNotFound)
	}
	s.Close()
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle since before now minus the TTL and returns how
// many were closed.
func (m *Manager) Reap(now time.Time) int {
	cutoff := now.Add(-m.cfg.ttl)

	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		m.cfg.logger.Info("session expired", slog.String("session_id", s.id))
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is cancelled, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return nil
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}

// CloseAll stops every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
