// Package ratelimit provides the global admission gate that keeps outbound
// upstream traffic under the single quota shared by every tenant.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults match the upstream provider's per-API-key quota.
const (
	DefaultLimit         = 100
	DefaultWindow        = 60 * time.Second
	DefaultMaxWait       = 30 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultMaxRetryAfter = 10 * time.Second
)

// Config defines the fixed-window admission parameters.
type Config struct {
	// Limit is the number of calls admitted per window across all instances.
	Limit int
	// Window is the fixed window length.
	Window time.Duration
	// MaxWait bounds how long a caller waits for a slot before rejection.
	MaxWait time.Duration
	// RetryInterval is the sleep between admission attempts while waiting.
	RetryInterval time.Duration
	// MaxRetryAfter caps the Retry-After hint returned on rejection.
	MaxRetryAfter time.Duration
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		Limit:         DefaultLimit,
		Window:        DefaultWindow,
		MaxWait:       DefaultMaxWait,
		RetryInterval: DefaultRetryInterval,
		MaxRetryAfter: DefaultMaxRetryAfter,
	}
}

// WindowStore holds the shared rate window. Every method must be a single
// atomic round trip against a store shared by all gateway instances.
type WindowStore interface {
	// WindowStart returns the start of the current window, or ok=false when
	// no window exists.
	WindowStart(ctx context.Context) (start time.Time, ok bool, err error)

	// ResetWindow starts a new window at now with the counter set to 1,
	// but only if the stored start still equals observed (the zero time
	// meaning "no window"). Returns false when another caller reset first.
	// Both keys expire after ttl.
	ResetWindow(ctx context.Context, observed, now time.Time, ttl time.Duration) (bool, error)

	// Increment adds one to the window counter and returns the new value.
	Increment(ctx context.Context) (int64, error)

	// Decrement subtracts one from the window counter and returns the new value.
	Decrement(ctx context.Context) (int64, error)

	// Count returns the current counter value, 0 when absent.
	Count(ctx context.Context) (int64, error)
}

// ErrServiceUnavailable matches every admission rejection.
var ErrServiceUnavailable = errors.New("service unavailable: upstream quota exhausted")

// UnavailableError is returned when no slot frees up within MaxWait.
type UnavailableError struct {
	// RetryAfter is the suggested wait before retrying.
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrServiceUnavailable.Error(), e.RetryAfter)
}

// Is lets errors.Is(err, ErrServiceUnavailable) match.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// Status is a snapshot of the shared window.
type Status struct {
	CurrentCount    int64         `json:"current_count"`
	Limit           int           `json:"limit"`
	WindowRemaining time.Duration `json:"-"`
	Available       int64         `json:"available"`
}
