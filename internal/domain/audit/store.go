package audit

import (
	"context"
	"time"
)

// Store persists audit records.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter selects audit records.
type Filter struct {
	// Since excludes records older than this time (optional).
	Since time.Time
	// Subject filters by tenant (optional).
	Subject string
	// MinSeverity excludes less severe records (optional).
	MinSeverity Severity
	// Limit caps the number of records returned (default 100, max 1000).
	Limit int
}

// QueryStore provides read access to audit records, newest first.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Rank orders severities for MinSeverity filtering.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Matches reports whether rec passes the filter, ignoring Limit.
func (f Filter) Matches(rec Record) bool {
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if f.Subject != "" && rec.Subject != f.Subject {
		return false
	}
	return rec.Severity.Rank() >= f.MinSeverity.Rank()
}

// EffectiveLimit applies the default and maximum limits.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > 1000:
		return 1000
	default:
		return f.Limit
	}
}
