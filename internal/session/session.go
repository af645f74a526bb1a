// ABOUTME: Session handle pairing an external resource with an exclusivity lock.
// ABOUTME: Supports fail-fast or bounded-wait acquisition and idempotent close.

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Session errors.
var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session busy")
	ErrTimeout  = errors.New("session wait timed out")
	ErrClosed   = errors.New("session closed")
	ErrLimit    = errors.New("session limit reached")
)

// State describes a session's observable lifecycle state.
type State string

const (
	StateActive State = "active"
	StateBusy   State = "busy"
	StateClosed State = "closed"
)

// CloseFunc releases the external resource behind a session. Called exactly
// once, by whichever path closes the session first.
type CloseFunc func(ctx context.Context) error

// Session is a handle to one stateful external resource instance. The lock
// channel holds a single token; owning the token is owning the session.
type Session struct {
	id        string
	service   string
	createdAt time.Time
	now       func() time.Time

	lock chan struct{} // capacity 1, token present = free
	done chan struct{} // closed when the session closes

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
	closeFn      CloseFunc
}

func newSession(id, service string, closeFn CloseFunc, now func() time.Time) *Session {
	s := &Session{
		id:        id,
		service:   service,
		createdAt: now(),
		now:       now,
		lock:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		closeFn:   closeFn,
	}
	s.lock <- struct{}{}
	s.lastActivity = s.createdAt
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Service returns the name of the owning service.
func (s *Session) Service() string { return s.service }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the most recent completed operation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return StateClosed
	}
	if len(s.lock) == 0 {
		return StateBusy
	}
	return StateActive
}

// Acquire takes the session's exclusivity lock. With wait <= 0 the call fails
// fast with ErrBusy when the lock is held; otherwise it blocks up to wait and
// fails with ErrTimeout. Context cancellation aborts the wait. ErrClosed is
// returned when the session closed before or during acquisition.
func (s *Session) Acquire(ctx context.Context, wait time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	if wait <= 0 {
		select {
		case <-s.lock:
		default:
			return ErrBusy
		}
	} else {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-s.lock:
		case <-s.done:
			return ErrClosed
		case <-timer.C:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// The token was handed over while a close was racing in; give it up.
	if s.isClosed() {
		return ErrClosed
	}
	return nil
}

// Release returns the exclusivity lock and records activity. Must be called
// on every exit path after a successful Acquire, including faults.
func (s *Session) Release() {
	s.mu.Lock()
	s.lastActivity = s.now()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		// Token is retired with the session; nothing left to release into.
		return
	}
	select {
	case s.lock <- struct{}{}:
	default:
	}
}

// Done returns a channel closed when the session closes. Long-running
// operations select on it to observe eviction.
func (s *Session) Done() <-chan struct{} { return s.done }

// acquireForClose waits for the exclusivity lock without a deadline so a
// close never interleaves with an in-flight operation; ctx bounds the wait.
// Returns ErrClosed when another path closed the session first.
func (s *Session) acquireForClose(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	select {
	case <-s.lock:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.isClosed() {
		return ErrClosed
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markClosed transitions to closed and returns the close function, or false
// if the session was already closed.
func (s *Session) markClosed() (CloseFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	close(s.done)
	fn := s.closeFn
	s.closeFn = nil
	return fn, true
}
