package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Admission decisions reported to the observer.
const (
	DecisionAdmitted = "admitted"
	DecisionRejected = "rejected"
	DecisionFailOpen = "fail_open"
)

// AdmissionController is a fixed-window admission gate applied before every
// upstream call. State lives entirely in the WindowStore so the ceiling holds
// across gateway instances.
type AdmissionController struct {
	store   WindowStore
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	observe func(decision string)
}

// AdmissionOption configures an AdmissionController.
type AdmissionOption func(*AdmissionController)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) AdmissionOption {
	return func(a *AdmissionController) {
		a.now = now
	}
}

// WithDecisionObserver registers a callback invoked once per Admit call with
// the final decision.
func WithDecisionObserver(fn func(decision string)) AdmissionOption {
	return func(a *AdmissionController) {
		a.observe = fn
	}
}

// NewAdmissionController creates an admission controller. Zero fields in cfg
// take the defaults.
func NewAdmissionController(store WindowStore, cfg Config, logger *slog.Logger, opts ...AdmissionOption) *AdmissionController {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxWait < 0 {
		cfg.MaxWait = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = def.MaxRetryAfter
	}
	a := &AdmissionController{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		observe: func(string) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Admit blocks until the call is admitted, MaxWait elapses, or ctx is done.
// Returns *UnavailableError on saturation and ctx.Err() on cancellation.
// Store failures admit the call.
func (a *AdmissionController) Admit(ctx context.Context) error {
	started := a.now()
	for {
		admitted, remaining, err := a.tryAdmit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("admission store unavailable, admitting request", "error", err)
			a.observe(DecisionFailOpen)
			return nil
		}
		if admitted {
			a.observe(DecisionAdmitted)
			return nil
		}

		if a.now().Sub(started) >= a.cfg.MaxWait {
			a.observe(DecisionRejected)
			return &UnavailableError{RetryAfter: a.retryAfter(remaining)}
		}

		timer := time.NewTimer(a.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAdmit performs one pass of the fixed-window algorithm. remaining is the
// time left in the current window when the call is not admitted.
func (a *AdmissionController) tryAdmit(ctx context.Context) (bool, time.Duration, error) {
	now := a.now()
	start, ok, err := a.store.WindowStart(ctx)
	if err != nil {
		return false, 0, err
	}

	if !ok || now.Sub(start) >= a.cfg.Window {
		var observed time.Time
		if ok {
			observed = start
		}
		reset, err := a.store.ResetWindow(ctx, observed, now, 2*a.cfg.Window)
		if err != nil {
			return false, 0, err
		}
		if reset {
			return true, 0, nil
		}
		// Another caller opened the new window first; count against it.
		start = now
	}

	count, err := a.store.Increment(ctx)
	if err != nil {
		return false, 0, err
	}
	if count <= int64(a.cfg.Limit) {
		return true, 0, nil
	}

	if _, err := a.store.Decrement(ctx); err != nil {
		return false, 0, err
	}
	return false, a.cfg.Window - now.Sub(start), nil
}

func (a *AdmissionController) retryAfter(remaining time.Duration) time.Duration {
	if remaining > a.cfg.MaxRetryAfter {
		remaining = a.cfg.MaxRetryAfter
	}
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining.Round(time.Second)
}

// Status reports the current window without mutating it.
func (a *AdmissionController) Status(ctx context.Context) (*Status, error) {
	st := &Status{Limit: a.cfg.Limit, Available: int64(a.cfg.Limit), WindowRemaining: a.cfg.Window}

	start, ok, err := a.store.WindowStart(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return st, nil
	}
	elapsed := a.now().Sub(start)
	if elapsed >= a.cfg.Window {
		return st, nil
	}

	count, err := a.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	st.CurrentCount = count
	st.WindowRemaining = a.cfg.Window - elapsed
	st.Available = max(int64(a.cfg.Limit)-count, 0)
	return st, nil
}
