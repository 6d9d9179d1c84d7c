package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

// Lockout defaults.
const (
	DefaultMaxFailures     = 5
	DefaultFailureWindow   = 24 * time.Hour
	DefaultLockoutDuration = 15 * time.Minute
)

// AttemptStore tracks failed logins per client IP in the shared store.
type AttemptStore interface {
	// RecordFailure increments the failure counter for ip, starting a
	// window of the given length on the first failure. Returns the count.
	RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error)
	// Lock blocks ip for d.
	Lock(ctx context.Context, ip string, d time.Duration) error
	// LockRemaining returns how long ip stays blocked, zero when not locked.
	LockRemaining(ctx context.Context, ip string) (time.Duration, error)
	// Reset clears the failure counter for ip.
	Reset(ctx context.Context, ip string) error
}

// LockoutConfig configures the login lockout.
type LockoutConfig struct {
	MaxFailures     int
	FailureWindow   time.Duration
	LockoutDuration time.Duration
}

// ErrLockedOut matches every lockout rejection.
var ErrLockedOut = errors.New("too many failed login attempts")

// LockedOutError carries how long the client must wait.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrLockedOut.Error(), e.RetryAfter)
}

func (e *LockedOutError) Is(target error) bool { return target == ErrLockedOut }

// LoginGuard blocks client IPs after repeated login failures.
type LoginGuard struct {
	store  AttemptStore
	cfg    LockoutConfig
	events audit.Recorder
	logger *slog.Logger
}

// NewLoginGuard creates a login guard. events may be nil.
func NewLoginGuard(store AttemptStore, cfg LockoutConfig, events audit.Recorder, logger *slog.Logger) *LoginGuard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultFailureWindow
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	return &LoginGuard{store: store, cfg: cfg, events: events, logger: logger}
}

// Check returns *LockedOutError when ip is locked. Store failures let the
// attempt through; credential checks still apply.
func (l *LoginGuard) Check(ctx context.Context, ip string) error {
	remaining, err := l.store.LockRemaining(ctx, ip)
	if err != nil {
		l.logger.Error("lockout lookup failed, allowing attempt", "client_ip", ip, "error", err)
		return nil
	}
	if remaining > 0 {
		return &LockedOutError{RetryAfter: remaining.Round(time.Second)}
	}
	return nil
}

// Failure records a failed login and locks ip once the limit is reached.
// Locking clears the failure counter.
func (l *LoginGuard) Failure(ctx context.Context, subject string, meta RequestMeta) {
	l.recordEvent(subject, audit.ActionLoginFailed, audit.SeverityWarning, 401, meta)

	count, err := l.store.RecordFailure(ctx, meta.ClientIP, l.cfg.FailureWindow)
	if err != nil {
		l.logger.Error("failed to record login failure", "client_ip", meta.ClientIP, "error", err)
		return
	}
	if count < int64(l.cfg.MaxFailures) {
		return
	}
	if err := l.store.Lock(ctx, meta.ClientIP, l.cfg.LockoutDuration); err != nil {
		l.logger.Error("failed to lock client", "client_ip", meta.ClientIP, "error", err)
		return
	}
	// The lock replaces the counter; a client coming out of lockout starts
	// from zero failures.
	if err := l.store.Reset(ctx, meta.ClientIP); err != nil {
		l.logger.Warn("failed to reset login failures after lock", "client_ip", meta.ClientIP, "error", err)
	}
	l.recordEvent(subject, audit.ActionLoginLocked, audit.SeverityCritical, 429, meta)
}

// Success clears the failure counter for the client.
func (l *LoginGuard) Success(ctx context.Context, subject string, meta RequestMeta) {
	if err := l.store.Reset(ctx, meta.ClientIP); err != nil {
		l.logger.Warn("failed to reset login failures", "client_ip", meta.ClientIP, "error", err)
	}
	l.recordEvent(subject, audit.ActionLoginSuccess, audit.SeverityInfo, 200, meta)
}

func (l *LoginGuard) recordEvent(subject, action string, sev audit.Severity, status int, meta RequestMeta) {
	if l.events == nil {
		return
	}
	l.events.Record(audit.Record{
		Timestamp:  time.Now().UTC(),
		Subject:    subject,
		Action:     action,
		Severity:   sev,
		Endpoint:   meta.Endpoint,
		Method:     meta.Method,
		StatusCode: status,
		ClientIP:   meta.ClientIP,
		UserAgent:  meta.UserAgent,
		RequestID:  meta.RequestID,
	})
}
