// Package auditstore persists audit records through gorm.
package auditstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/database"
	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

// Store implements audit.Store and audit.QueryStore on a gorm database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates an audit store. The schema must already be migrated (see
// database.Open).
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Append inserts records in one batch.
func (s *Store) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]database.AuditLog, 0, len(records))
	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			s.logger.Warn("dropping unencodable audit payload", "action", r.Action, "error", err)
		}
		rows = append(rows, row)
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("insert audit records: %w", err)
	}
	return nil
}

// Flush is a no-op; Append writes through.
func (s *Store) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// Query returns matching records, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	q := s.db.WithContext(ctx).Model(&database.AuditLog{})
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", filter.Subject)
	}
	if sevs := severitiesAtLeast(filter.MinSeverity); len(sevs) < 3 {
		q = q.Where("severity IN ?", sevs)
	}

	var rows []database.AuditLog
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(filter.EffectiveLimit()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	out := make([]audit.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func severitiesAtLeast(min audit.Severity) []string {
	var out []string
	for _, s := range []audit.Severity{audit.SeverityInfo, audit.SeverityWarning, audit.SeverityCritical} {
		if s.Rank() >= min.Rank() {
			out = append(out, string(s))
		}
	}
	return out
}

func toRow(r audit.Record) (database.AuditLog, error) {
	row := database.AuditLog{
		Timestamp:  r.Timestamp.UTC(),
		Subject:    r.Subject,
		Action:     r.Action,
		Severity:   string(r.Severity),
		Endpoint:   r.Endpoint,
		Method:     r.Method,
		StatusCode: r.StatusCode,
		ClientIP:   r.ClientIP,
		UserAgent:  r.UserAgent,
		ResourceID: r.ResourceID,
		RequestID:  r.RequestID,
	}
	if row.Severity == "" {
		row.Severity = string(audit.SeverityInfo)
	}
	if len(r.Payload) == 0 {
		return row, nil
	}
	raw, err := json.Marshal(r.Payload)
	if err != nil {
		return row, err
	}
	row.Payload = string(raw)
	return row, nil
}

func fromRow(row database.AuditLog) audit.Record {
	rec := audit.Record{
		Timestamp:  row.Timestamp.UTC(),
		Subject:    row.Subject,
		Action:     row.Action,
		Severity:   audit.Severity(row.Severity),
		Endpoint:   row.Endpoint,
		Method:     row.Method,
		StatusCode: row.StatusCode,
		ClientIP:   row.ClientIP,
		UserAgent:  row.UserAgent,
		ResourceID: row.ResourceID,
		RequestID:  row.RequestID,
	}
	if row.Payload != "" {
		_ = json.Unmarshal([]byte(row.Payload), &rec.Payload)
	}
	return rec
}

var (
	_ audit.Store      = (*Store)(nil)
	_ audit.QueryStore = (*Store)(nil)
)
