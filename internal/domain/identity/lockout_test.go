package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

// memAttempts models the failure window and the lock as expiring entries
// on an adjustable clock.
type memAttempts struct {
	mu       sync.Mutex
	now      time.Time
	failures map[string]int64
	windows  map[string]time.Time
	locks    map[string]time.Time
	err      error
}

func newMemAttempts() *memAttempts {
	return &memAttempts{
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		failures: map[string]int64{},
		windows:  map[string]time.Time{},
		locks:    map[string]time.Time{},
	}
}

func (m *memAttempts) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memAttempts) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if until, ok := m.windows[ip]; !ok || !m.now.Before(until) {
		m.failures[ip] = 0
		m.windows[ip] = m.now.Add(window)
	}
	m.failures[ip]++
	return m.failures[ip], nil
}

func (m *memAttempts) Lock(ctx context.Context, ip string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[ip] = m.now.Add(d)
	return nil
}

func (m *memAttempts) LockRemaining(ctx context.Context, ip string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	until, ok := m.locks[ip]
	if !ok || !m.now.Before(until) {
		return 0, nil
	}
	return until.Sub(m.now), nil
}

func (m *memAttempts) Reset(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, ip)
	delete(m.windows, ip)
	return nil
}

func TestLoginGuard_LocksAfterMaxFailures(t *testing.T) {
	t.Parallel()

	store := newMemAttempts()
	events := &captureRecorder{}
	g := NewLoginGuard(store, LockoutConfig{}, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	meta := RequestMeta{ClientIP: "192.0.2.10", Endpoint: "/api/v1/auth/token", Method: "POST"}

	for i := 1; i <= DefaultMaxFailures; i++ {
		if err := g.Check(ctx, meta.ClientIP); err != nil {
			t.Fatalf("attempt %d: Check() error = %v, want allowed", i, err)
		}
		g.Failure(ctx, "user@x", meta)
	}

	err := g.Check(ctx, meta.ClientIP)
	var locked *LockedOutError
	if !errors.As(err, &locked) || !errors.Is(err, ErrLockedOut) {
		t.Fatalf("Check() error = %v, want LockedOutError", err)
	}
	if locked.RetryAfter != DefaultLockoutDuration {
		t.Errorf("RetryAfter = %v, want %v", locked.RetryAfter, DefaultLockoutDuration)
	}
	if err := g.Check(ctx, "192.0.2.11"); err != nil {
		t.Errorf("other client Check() error = %v", err)
	}

	actions := events.actions()
	if got := actions[len(actions)-1]; got != audit.ActionLoginLocked {
		t.Errorf("last event = %s, want %s", got, audit.ActionLoginLocked)
	}
	failed := 0
	for _, a := range actions {
		if a == audit.ActionLoginFailed {
			failed++
		}
	}
	if failed != DefaultMaxFailures {
		t.Errorf("LOGIN_FAILED events = %d, want %d", failed, DefaultMaxFailures)
	}
}

func TestLoginGuard_SuccessResetsCounter(t *testing.T) {
	t.Parallel()

	store := newMemAttempts()
	g := NewLoginGuard(store, LockoutConfig{MaxFailures: 3}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	meta := RequestMeta{ClientIP: "192.0.2.10"}

	g.Failure(ctx, "u", meta)
	g.Failure(ctx, "u", meta)
	g.Success(ctx, "u", meta)
	g.Failure(ctx, "u", meta)
	g.Failure(ctx, "u", meta)

	if err := g.Check(ctx, meta.ClientIP); err != nil {
		t.Errorf("Check() error = %v, want counter reset by success", err)
	}
}

func TestLoginGuard_StoreErrorAllowsAttempt(t *testing.T) {
	t.Parallel()

	store := newMemAttempts()
	store.err = errors.New("connection refused")
	g := NewLoginGuard(store, LockoutConfig{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := g.Check(context.Background(), "192.0.2.10"); err != nil {
		t.Errorf("Check() error = %v, want nil on store failure", err)
	}
	g.Failure(context.Background(), "u", RequestMeta{ClientIP: "192.0.2.10"})
}

func TestLoginGuard_LockExpiryStartsFresh(t *testing.T) {
	t.Parallel()

	store := newMemAttempts()
	g := NewLoginGuard(store, LockoutConfig{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	meta := RequestMeta{ClientIP: "192.0.2.10"}

	for i := 0; i < DefaultMaxFailures; i++ {
		g.Failure(ctx, "u", meta)
	}
	if err := g.Check(ctx, meta.ClientIP); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("Check() error = %v, want locked", err)
	}

	store.advance(DefaultLockoutDuration + time.Second)
	if err := g.Check(ctx, meta.ClientIP); err != nil {
		t.Fatalf("Check() after lock expiry error = %v", err)
	}

	g.Failure(ctx, "u", meta)
	if err := g.Check(ctx, meta.ClientIP); err != nil {
		t.Errorf("one failure after lock expiry locked the client again: %v", err)
	}

	for i := 1; i < DefaultMaxFailures; i++ {
		g.Failure(ctx, "u", meta)
	}
	if err := g.Check(ctx, meta.ClientIP); !errors.Is(err, ErrLockedOut) {
		t.Errorf("Check() after a fresh run of failures = %v, want locked", err)
	}
}
