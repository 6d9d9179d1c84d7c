package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore writes audit records as JSON lines and keeps the most recent
// ones in a bounded ring for queries.
type AuditStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	writer  io.Writer
	recent  []audit.Record
	next    int
	full    bool
}

// NewAuditStore creates an audit store writing to w (stdout when nil) that
// keeps up to capacity records (1000 when capacity <= 0).
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if w == nil {
		w = os.Stdout
	}
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Record, capacity),
	}
}

// Append writes and retains records.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		s.recent[s.next] = r
		s.next = (s.next + 1) % len(s.recent)
		if s.next == 0 {
			s.full = true
		}
	}
	return nil
}

// Flush is a no-op; Append writes through.
func (s *AuditStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the writer when it is a file other than stdout or stderr.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query returns retained records matching filter, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.recent)
	}
	limit := filter.EffectiveLimit()
	var out []audit.Record
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (s.next - 1 - i + len(s.recent)) % len(s.recent)
		if rec := s.recent[idx]; filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
