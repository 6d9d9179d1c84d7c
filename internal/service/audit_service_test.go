package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

type captureAuditStore struct {
	mu      sync.Mutex
	records []audit.Record
	batches int
	delay   time.Duration
}

func (c *captureAuditStore) Append(ctx context.Context, records ...audit.Record) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	c.batches++
	return nil
}

func (c *captureAuditStore) Flush(ctx context.Context) error { return nil }
func (c *captureAuditStore) Close() error                    { return nil }

func (c *captureAuditStore) snapshot() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Record(nil), c.records...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditService_StopFlushesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureAuditStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(50), WithFlushInterval(time.Hour))
	svc.Start(context.Background())

	for i := 0; i < 10; i++ {
		svc.Record(audit.Record{Action: audit.ActionLoginSuccess, Subject: "a@x"})
	}
	svc.Stop()
	svc.Stop()

	got := store.snapshot()
	if len(got) != 10 {
		t.Fatalf("stored %d records, want 10", len(got))
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Record() did not stamp a timestamp")
	}
}

func TestAuditService_RedactsPayload(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureAuditStore{}
	var observed []string
	svc := NewAuditService(store, discardLogger(), WithRecordObserver(func(rec audit.Record) {
		observed = append(observed, rec.Action)
	}))
	svc.Start(context.Background())
	svc.Record(audit.Record{
		Action:  audit.ActionTokenRefreshed,
		Payload: map[string]any{"refresh_token": "abc", "jti": "j1"},
	})
	svc.Stop()

	got := store.snapshot()
	if len(got) != 1 || got[0].Payload["refresh_token"] != "***REDACTED***" || got[0].Payload["jti"] != "j1" {
		t.Errorf("stored payload = %+v", got)
	}
	if len(observed) != 1 || observed[0] != audit.ActionTokenRefreshed {
		t.Errorf("observed = %v", observed)
	}
}

func TestAuditService_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureAuditStore{delay: 50 * time.Millisecond}
	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(2),
		WithSendTimeout(0),
		WithBatchSize(1),
		WithWarningThreshold(50),
	)
	svc.Start(context.Background())

	for i := 0; i < 20; i++ {
		svc.Record(audit.Record{Action: "A"})
	}
	if svc.DroppedRecords() == 0 {
		t.Error("no records dropped with a full queue and no send timeout")
	}
	svc.Stop()

	if got := int64(len(store.snapshot())) + svc.DroppedRecords(); got != 20 {
		t.Errorf("stored + dropped = %d, want 20", got)
	}
}

func TestAuditService_TickerFlushesPartialBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureAuditStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(10*time.Millisecond))
	svc.Start(context.Background())
	svc.Record(audit.Record{Action: "A"})

	deadline := time.Now().Add(2 * time.Second)
	for len(store.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(store.snapshot()) != 1 {
		t.Error("partial batch not flushed by the ticker")
	}
	svc.Stop()
}

func TestAuditService_ContextCancelDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureAuditStore{}
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	svc.Start(ctx)
	for i := 0; i < 5; i++ {
		svc.Record(audit.Record{Action: "A"})
	}
	cancel()
	svc.wg.Wait()

	if got := len(store.snapshot()); got != 5 {
		t.Errorf("stored %d records after cancel, want 5", got)
	}
	svc.Stop()
}
