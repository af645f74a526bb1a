// ABOUTME: Tests for the session exclusivity lock and lifecycle transitions.
// ABOUTME: Covers fail-fast busy, bounded wait, timeout, and close races.

package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSession(closeFn CloseFunc) *Session {
	return newSession("test-id", "browser", closeFn, time.Now)
}

func TestAcquireFailFast(t *testing.T) {
	s := newTestSession(nil)

	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if s.State() != StateBusy {
		t.Errorf("expected busy, got %v", s.State())
	}

	if err := s.Acquire(context.Background(), 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	s.Release()
	if s.State() != StateActive {
		t.Errorf("expected active after release, got %v", s.State())
	}
	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestAcquireBoundedWait(t *testing.T) {
	s := newTestSession(nil)
	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Release after a short delay; the waiter should get the lock.
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Release()
	}()

	if err := s.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("bounded wait acquire failed: %v", err)
	}
}

func TestAcquireWaitTimeout(t *testing.T) {
	s := newTestSession(nil)
	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	start := time.Now()
	err := s.Acquire(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	s := newTestSession(nil)
	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Acquire(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	s := newTestSession(nil)
	if _, first := s.markClosed(); !first {
		t.Fatal("markClosed reported already closed")
	}

	if err := s.Acquire(context.Background(), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Acquire(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on waiting acquire, got %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed state, got %v", s.State())
	}
}

func TestAcquireUnblockedByClose(t *testing.T) {
	s := newTestSession(nil)
	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Acquire(context.Background(), time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	s.markClosed()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiting acquire not unblocked by close")
	}
}

func TestReleaseUpdatesActivity(t *testing.T) {
	s := newTestSession(nil)
	before := s.LastActivity()

	time.Sleep(2 * time.Millisecond)
	if err := s.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s.Release()

	if !s.LastActivity().After(before) {
		t.Error("release did not refresh last activity")
	}
}

func TestMarkClosedIdempotent(t *testing.T) {
	calls := 0
	s := newTestSession(func(ctx context.Context) error {
		calls++
		return nil
	})

	fn, first := s.markClosed()
	if !first || fn == nil {
		t.Fatal("first markClosed should return the close func")
	}
	_ = fn(context.Background())

	if _, again := s.markClosed(); again {
		t.Fatal("second markClosed should report already closed")
	}
	if calls != 1 {
		t.Errorf("close func called %d times", calls)
	}
}
