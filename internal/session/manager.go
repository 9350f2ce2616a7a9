// Package session keeps one pair of engines per signed-in user. HTTP and
// websocket requests of the same user share the session, so the projections
// stay live between requests until the session goes idle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/cache"
	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/listsync"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/sharing"
	"vainalista-api/internal/storage"
)

const (
	// DefaultIdleTimeout is how long a session lives without requests
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultLoadTimeout bounds how long Acquire waits for the first lists snapshot
	DefaultLoadTimeout = 5 * time.Second
)

// Session bundles the identity source, notification feed and engines of one user
type Session struct {
	Identity *auth.Session
	Feed     *notify.Feed
	Lists    *listsync.Engine
	Sharing  *sharing.Engine

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns when the session was last acquired
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close() {
	s.Identity.SignOut()
	s.Lists.Stop()
	s.Sharing.Stop()
	s.Feed.Close()
}

// Manager owns the live sessions
type Manager struct {
	store       storage.Store
	directory   *directory.Directory
	monitor     *connectivity.Monitor
	local       *cache.Store
	now         func() time.Time
	loadTimeout time.Duration
	log         *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Manager
type Option func(*Manager)

// WithCache enables the offline backup of the list projections
func WithCache(local *cache.Store) Option {
	return func(m *Manager) { m.local = local }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLoadTimeout bounds how long Acquire waits for the user lists
func WithLoadTimeout(d time.Duration) Option {
	return func(m *Manager) { m.loadTimeout = d }
}

// NewManager creates an empty manager
func NewManager(store storage.Store, dir *directory.Directory, monitor *connectivity.Monitor, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		directory:   dir,
		monitor:     monitor,
		now:         time.Now,
		loadTimeout: DefaultLoadTimeout,
		log:         logging.For("session"),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the session of identity, creating and starting it on
// first use. New users are published to the directory so they can be invited.
// It returns once the user's lists have been loaded, or after the load
// timeout with whatever the projections hold by then.
func (m *Manager) Acquire(ctx context.Context, identity *models.Identity) (*Session, error) {
	if identity == nil || identity.UID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, models.ErrUnavailable
	}
	s, existing := m.sessions[identity.UID]
	if existing {
		s.touch(m.now())
	} else {
		s = m.startLocked(identity)
	}
	m.mu.Unlock()

	entry := m.log.WithField("uid", identity.UID)
	if !existing {
		m.publish(ctx, identity, entry)
	}

	wait, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()
	if err := s.Lists.WaitLoaded(wait); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entry.WithError(err).Warn("User lists not loaded yet")
	}
	return s, nil
}

func (m *Manager) startLocked(identity *models.Identity) *Session {
	entry := m.log.WithField("uid", identity.UID)
	feed := notify.NewFeed(0, entry)
	ident := auth.NewSession()
	listOpts := []listsync.Option{listsync.WithNotifier(feed)}
	if m.local != nil {
		listOpts = append(listOpts, listsync.WithCache(m.local))
	}
	s := &Session{
		Identity: ident,
		Feed:     feed,
		Lists:    listsync.New(m.store, ident, m.monitor, listOpts...),
		Sharing:  sharing.New(m.store, m.directory, ident, m.monitor, sharing.WithNotifier(feed)),
	}
	s.touch(m.now())

	ident.SignIn(identity)
	s.Lists.Start()
	s.Sharing.Start()
	m.sessions[identity.UID] = s

	entry.Info("Session started")
	return s
}

func (m *Manager) publish(ctx context.Context, identity *models.Identity, entry *logrus.Entry) {
	if err := m.store.PutUser(ctx, models.BasicUser{
		UID:      identity.UID,
		Email:    directory.NormalizeEmail(identity.Email),
		Nome:     identity.DisplayName,
		PhotoURL: identity.PhotoURL,
		CriadoEm: m.now().UTC(),
	}); err != nil {
		entry.WithError(err).Warn("Failed to publish user to the directory")
	}
}

// Get returns the live session of uid
func (m *Manager) Get(uid string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	return s, ok
}

// Touch marks the session of uid as in use, keeping it from being reaped
func (m *Manager) Touch(uid string) {
	if s, ok := m.Get(uid); ok {
		s.touch(m.now())
	}
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Release signs the user out and stops their engines
func (m *Manager) Release(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()

	if ok {
		s.close()
		m.log.WithField("uid", uid).Info("Session released")
	}
}

// Reap releases sessions idle for longer than maxIdle and returns how many
func (m *Manager) Reap(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*Session
	for uid, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, uid)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
	}
	if len(idle) > 0 {
		m.log.WithField("count", len(idle)).Info("Reaped idle sessions")
	}
	return len(idle)
}

// Run reaps idle sessions every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		maxIdle = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = maxIdle / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(maxIdle)
		}
	}
}

// Close releases every session. Acquire fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	m.log.WithField("count", len(sessions)).Info("All sessions closed")
}
