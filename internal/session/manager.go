// ABOUTME: Session arena mapping opaque ids to owned sessions for one service.
// ABOUTME: Handles creation caps, idempotent close, and background idle eviction.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSweepInterval is how often the idle sweeper scans the arena.
const DefaultSweepInterval = 30 * time.Second

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	Service     string        // owning service name, for logs
	MaxSessions int           // 0 = unlimited
	IdleTimeout time.Duration // 0 = no idle eviction
	Logger      *slog.Logger
	Now         func() time.Time // defaults to time.Now
}

// Manager owns the sessions of one service. Eviction removes the arena entry
// and releases the handle; no other component mutates session state directly.
type Manager struct {
	service     string
	maxSessions int
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// NewManager creates an empty session arena.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		service:     cfg.Service,
		maxSessions: cfg.MaxSessions,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger.With("component", "sessions", "service", cfg.Service),
		now:         now,
		sessions:    make(map[string]*Session),
	}
}

// Create allocates a new session with a random, collision-free id and stores
// it in the arena. closeFn releases the external resource when the session
// closes. Returns ErrLimit when the configured cap is reached.
func (m *Manager) Create(closeFn CloseFunc) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, ErrLimit
	}

	sess := newSession(uuid.NewString(), m.service, closeFn, m.now)
	m.sessions[sess.id] = sess

	m.logger.Info("session created", "session_id", sess.id, "open", len(m.sessions))
	return sess, nil
}

// Get resolves a session id. Returns ErrNotFound for unknown or already
// evicted ids.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Close closes the identified session and removes it from the arena. The
// exclusivity lock is acquired first, so the close waits for any in-flight
// operation to finish; ctx bounds the wait. Closing an unknown or
// already-closed session succeeds: close is idempotent.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := sess.acquireForClose(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			m.remove(id)
			return nil
		}
		// Wait aborted; the session stays open and owned by its operation.
		return err
	}

	m.remove(id)
	return m.closeSession(ctx, sess)
}

// CloseAll closes every open session. Each close waits for the session's
// lock under ctx; when the wait expires the close is forced anyway, since
// this is the service-stop path and the resource must be released. Failures
// are logged, not returned; the arena is always left empty.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		open = append(open, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range open {
		if err := sess.acquireForClose(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn("forcing session close with operation in flight",
				"session_id", sess.id, "error", err)
		}
		if err := m.closeSession(ctx, sess); err != nil {
			m.logger.Warn("session close failed", "session_id", sess.id, "error", err)
		}
	}
	if len(open) > 0 {
		m.logger.Info("closed all sessions", "count", len(open))
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns a snapshot of the open sessions.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// StartSweeper launches the background idle eviction loop. No-op when no idle
// timeout is configured. Stop with Shutdown.
func (m *Manager) StartSweeper(interval time.Duration) {
	if m.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	m.sweepStop = make(chan struct{})
	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.sweepStop:
				return
			case <-ticker.C:
				m.Sweep(context.Background())
			}
		}
	}()
}

// Sweep closes sessions idle beyond the configured threshold. A session with
// an operation in flight holds its exclusivity lock, so the sweeper skips it;
// the operation's release refreshes the activity time anyway.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	stale := make([]*Session, 0)
	for _, sess := range m.sessions {
		if sess.LastActivity().Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, sess := range stale {
		if m.evictIfStale(ctx, sess, cutoff) {
			evicted++
		}
	}
	return evicted
}

// evictIfStale closes one candidate session. The lock is taken fail-fast (a
// busy session is skipped) and staleness is re-checked under it: an
// operation finishing between the scan and the acquire refreshes the
// activity time, and such a session is released, not evicted.
func (m *Manager) evictIfStale(ctx context.Context, sess *Session, cutoff time.Time) bool {
	if err := sess.Acquire(ctx, 0); err != nil {
		return false // busy or already closed
	}
	if !sess.LastActivity().Before(cutoff) {
		sess.Release()
		return false
	}
	m.remove(sess.id)
	if err := m.closeSession(ctx, sess); err != nil {
		m.logger.Warn("idle eviction close failed", "session_id", sess.id, "error", err)
	}
	m.logger.Info("session evicted", "session_id", sess.id, "idle_timeout", m.idleTimeout)
	return true
}

// Shutdown stops the sweeper and closes all sessions.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepWG.Wait()
		m.sweepStop = nil
	}
	m.CloseAll(ctx)
}

func (m *Manager) closeSession(ctx context.Context, sess *Session) error {
	fn, first := sess.markClosed()
	if !first || fn == nil {
		return nil
	}
	return fn(ctx)
}
