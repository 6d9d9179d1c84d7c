package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

// AuditService writes audit records asynchronously: Record queues, a
// background worker batches into the store. Request handling never waits
// on the audit store for longer than the send timeout.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	capacity    int
	sendTimeout time.Duration // 0 drops immediately when full
	dropCount   atomic.Int64

	warningThreshold int // percent of capacity
	lastWarning      atomic.Int64

	// adaptiveFlushThreshold is the depth percent at which the flush
	// interval drops to a quarter. 0 disables it.
	adaptiveFlushThreshold int

	observe func(rec audit.Record)
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records written per store call.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the queue capacity.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.Record, size)
			s.capacity = size
		}
	}
}

// WithSendTimeout sets how long Record blocks on a full queue before
// dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the queue depth percentage that logs a warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = clampPercent(percent)
	}
}

// WithAdaptiveFlushThreshold sets the depth percentage that switches to
// fast flushing. 0 disables it.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

// WithRecordObserver registers a callback invoked for every accepted record.
func WithRecordObserver(fn func(rec audit.Record)) AuditOption {
	return func(s *AuditService) {
		s.observe = fn
	}
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

// NewAuditService creates an audit service writing to store.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultCapacity = 1000
	s := &AuditService{
		store:                  store,
		records:                make(chan audit.Record, defaultCapacity),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		capacity:               defaultCapacity,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
		observe:                func(audit.Record) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background writer.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues rec with sensitive payload values redacted. When the queue
// stays full for the send timeout the record is dropped and counted.
func (s *AuditService) Record(rec audit.Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Payload = audit.RedactPayload(rec.Payload)
	s.observe(rec)

	if s.warningThreshold > 0 {
		if depth := len(s.records); depth >= s.capacity*s.warningThreshold/100 {
			s.warnDepth(depth)
		}
	}

	select {
	case s.records <- rec:
		return
	default:
	}
	if s.sendTimeout <= 0 {
		s.drop(rec)
		return
	}
	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- rec:
	case <-timer.C:
		s.drop(rec)
	}
}

func (s *AuditService) drop(rec audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"action", rec.Action,
		"subject", rec.Subject,
		"total_drops", drops,
	)
}

// warnDepth logs at most once per second.
func (s *AuditService) warnDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit queue approaching capacity",
			"depth", depth,
			"capacity", s.capacity,
		)
	}
}

// DroppedRecords returns how many records were dropped.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// QueueDepth returns the number of queued records.
func (s *AuditService) QueueDepth() int {
	return len(s.records)
}

// QueueCapacity returns the queue size.
func (s *AuditService) QueueCapacity() int {
	return s.capacity
}

// Stop closes the queue and waits for pending records to be written.
// Record must not be called afterwards.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.records)
	})
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	fast := false

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.flush(flushCtx, batch)
	}

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, rec)

			pressured := s.adaptiveFlushThreshold > 0 &&
				len(s.records)*100/s.capacity >= s.adaptiveFlushThreshold
			if len(batch) >= s.batchSize || pressured {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
			switch {
			case pressured && !fast:
				ticker.Reset(s.flushInterval / 4)
				fast = true
			case !pressured && fast:
				ticker.Reset(s.flushInterval)
				fast = false
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain what is already queued without waiting for Stop.
			for {
				select {
				case rec, ok := <-s.records:
					if !ok {
						finalFlush()
						return
					}
					batch = append(batch, rec)
				default:
					finalFlush()
					return
				}
			}
		}
	}
}

// flush writes batch. Failures are logged; auditing never fails a request.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
	}
}

var _ audit.Recorder = (*AuditService)(nil)
