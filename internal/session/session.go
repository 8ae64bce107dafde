// Package session tracks the browsing session a beacon belongs to.
//
// A session expires after a period of inactivity, or when its average page
// time exceeds that period. Sessions are persisted through a Store so they
// survive agent restarts.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultExpiry is the session inactivity timeout.
const DefaultExpiry = 30 * time.Minute

// Beacon variable names.
const (
	VarID     = "rt.si"
	VarStart  = "rt.ss"
	VarLength = "rt.sl"
)

// Session is one browsing session.
type Session struct {
	ID          string    `toml:"id"`
	Domain      string    `toml:"domain"`
	Start       time.Time `toml:"start"`
	Last        time.Time `toml:"last"`
	Length      int       `toml:"length"`
	RateLimited bool      `toml:"rate_limited"`
}

// New starts a session at now.
func New(now time.Time, domain string) Session {
	return Session{
		ID:     uuid.NewString(),
		Domain: domain,
		Start:  now,
		Last:   now,
	}
}

// Expired reports whether s can no longer be continued at now.
func (s Session) Expired(now time.Time, expiry time.Duration) bool {
	if s.ID == "" {
		return true
	}
	if now.Sub(s.Last) > expiry {
		return true
	}
	if s.Length > 0 && now.Sub(s.Start)/time.Duration(s.Length) > expiry {
		return true
	}
	return false
}

// Vars returns the beacon variables for s.
func (s Session) Vars() map[string]any {
	return map[string]any{
		VarID:     s.ID,
		VarStart:  s.Start.UnixMilli(),
		VarLength: s.Length,
	}
}

// Manager owns the current session. It is safe for concurrent use.
type Manager struct {
	store  Store
	expiry time.Duration
	domain string
	logger *zap.Logger

	mu  sync.Mutex
	cur Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithExpiry sets the inactivity timeout.
func WithExpiry(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.expiry = d
		}
	}
}

// WithDomain sets the site domain. A stored session from another domain is
// not continued.
func WithDomain(domain string) Option {
	return func(m *Manager) { m.domain = domain }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager backed by store. A nil store keeps sessions
// in memory.
func NewManager(store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{store: store, expiry: DefaultExpiry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDomain changes the site domain.
func (m *Manager) SetDomain(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domain = domain
}

// SetExpiry changes the inactivity timeout.
func (m *Manager) SetExpiry(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry = d
}

// Current returns the current session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Refresh continues the stored session or starts a new one, counts a page
// and saves the result. It reports whether a new session started.
func (m *Manager) Refresh(ctx context.Context, now time.Time) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.cur
	if s.ID == "" {
		stored, ok, err := m.store.Load(ctx)
		if err != nil {
			m.logger.Warn("session load failed", zap.Error(err))
		} else if ok {
			s = stored
		}
	}

	renewed := false
	if s.Expired(now, m.expiry) || (m.domain != "" && s.Domain != m.domain) {
		s = New(now, m.domain)
		renewed = true
		m.logger.Debug("session started", zap.String("id", s.ID))
	}
	s.Last = now
	s.Length++
	m.cur = s

	if err := m.store.Save(ctx, s); err != nil {
		return s, renewed, err
	}
	return s, renewed, nil
}

// MarkRateLimited flags the session so no further beacons are sent.
func (m *Manager) MarkRateLimited(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.RateLimited {
		return nil
	}
	m.cur.RateLimited = true
	m.logger.Info("session rate limited", zap.String("id", m.cur.ID))
	return m.store.Save(ctx, m.cur)
}

// RateLimited reports whether the session is rate limited.
func (m *Manager) RateLimited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.RateLimited
}
