// Package auditfile persists audit records as JSON lines in daily files
// with size rotation and retention.
package auditfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/memory"
	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// namePattern matches audit-YYYY-MM-DD.log and audit-YYYY-MM-DD-N.log.
var namePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

type fileName struct {
	name   string
	date   string
	suffix int
}

func parseName(name string) (fileName, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return fileName{}, false
	}
	fn := fileName{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileName{}, false
		}
		fn.suffix = n
	}
	return fn, true
}

func buildName(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", date)
	}
	return fmt.Sprintf("audit-%s-%d.log", date, suffix)
}

// Config configures a Store.
type Config struct {
	// Dir holds the audit files. Created with 0700 when missing.
	Dir string
	// RetentionDays is how long files are kept. Default 30.
	RetentionDays int
	// MaxFileSizeMB triggers size rotation. Default 100.
	MaxFileSizeMB int
	// RecentSize is how many records are kept for queries. Default 1000.
	RecentSize int
}

// Store writes audit records to rotating files. Queries are answered from
// the most recent records, which are reloaded from disk on start.
type Store struct {
	mu        sync.Mutex
	dir       string
	maxSize   int64
	retention int
	file      *os.File
	date      string
	size      int64
	suffix    int
	recent    *memory.AuditStore
	logger    *slog.Logger
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for retention.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates the directory, opens today's file, prunes expired files,
// reloads recent records and starts the hourly retention sweep.
func Open(cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		dir:       cfg.Dir,
		maxSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retention: cfg.RetentionDays,
		recent:    memory.NewAuditStore(io.Discard, cfg.RecentSize),
		logger:    logger,
		now:       time.Now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	today := s.now().UTC().Format(dateLayout)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, err
	}
	s.prune()
	s.reload()

	go s.sweep(ctx)
	return s, nil
}

// Append writes records, rotating on date change or when the current file
// reaches the size cap.
func (s *Store) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit file store closed")
	}
	for _, rec := range records {
		if date := rec.Timestamp.UTC().Format(dateLayout); date != s.date {
			if err := s.rotateLocked(date, 0); err != nil {
				return err
			}
		} else if s.size >= s.maxSize {
			if err := s.rotateLocked(s.date, s.suffix+1); err != nil {
				return err
			}
		}

		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.file.Write(append(line, '\n'))
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.size += int64(n)
	}
	return s.recent.Append(ctx, records...)
}

// Flush syncs the current file.
func (s *Store) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close stops the sweep and closes the current file. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.file != nil {
		_ = s.file.Sync()
		err = s.file.Close()
		s.file = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// Query returns recent records matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	return s.recent.Query(ctx, filter)
}

func (s *Store) openLocked(date string, suffix int) error {
	name := buildName(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit file %s: %w", name, err)
	}
	s.file, s.date, s.suffix, s.size = f, date, suffix, info.Size()
	return nil
}

func (s *Store) rotateLocked(date string, suffix int) error {
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}
	if suffix == 0 {
		suffix = s.highestSuffix(date)
	}
	if err := s.openLocked(date, suffix); err != nil {
		return fmt.Errorf("rotate audit file: %w", err)
	}
	return nil
}

func (s *Store) files() []fileName {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []fileName
	for _, e := range entries {
		if fn, ok := parseName(e.Name()); ok {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].date != out[j].date {
			return out[i].date < out[j].date
		}
		return out[i].suffix < out[j].suffix
	})
	return out
}

func (s *Store) highestSuffix(date string) int {
	highest := 0
	for _, fn := range s.files() {
		if fn.date == date && fn.suffix > highest {
			highest = fn.suffix
		}
	}
	return highest
}

// prune removes files dated before the retention cutoff.
func (s *Store) prune() {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retention).Format(dateLayout)
	deleted := 0
	for _, fn := range s.files() {
		if fn.date >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, fn.name)); err != nil {
			s.logger.Error("audit retention: delete failed", "file", fn.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("audit retention sweep completed", "deleted", deleted)
	}
}

func (s *Store) sweep(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

// reload fills the query ring from the newest non-empty file.
func (s *Store) reload() {
	files := s.files()
	for i := len(files) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, files[i].name)
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			continue
		}
		s.load(path)
		return
	}
}

func (s *Store) load(path string) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("audit reload: open failed", "file", path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.logger.Warn("audit reload: skipping malformed line", "file", path, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit reload: read failed", "file", path, "error", err)
	}
	_ = s.recent.Append(context.Background(), records...)
}

var (
	_ audit.Store      = (*Store)(nil)
	_ audit.QueryStore = (*Store)(nil)
)
