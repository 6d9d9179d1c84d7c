package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
)

// WindowStore implements ratelimit.WindowStore on a KV. mu serializes the
// two-key reset against increments.
type WindowStore struct {
	kv *KV
	mu sync.Mutex
}

// NewWindowStore creates a window store backed by kv.
func NewWindowStore(kv *KV) *WindowStore {
	return &WindowStore{kv: kv}
}

func (w *WindowStore) WindowStart(ctx context.Context) (time.Time, bool, error) {
	raw, ok := w.kv.Get(keyspace.AdmissionWindowStart)
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (w *WindowStore) ResetWindow(ctx context.Context, observed, now time.Time, ttl time.Duration) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var old []byte
	if !observed.IsZero() {
		old = []byte(strconv.FormatInt(observed.UnixMilli(), 10))
	}
	if !w.kv.CompareAndSet(keyspace.AdmissionWindowStart, old, []byte(strconv.FormatInt(now.UnixMilli(), 10)), ttl) {
		return false, nil
	}
	w.kv.SetCounter(keyspace.AdmissionCounter, 1, ttl)
	return true, nil
}

func (w *WindowStore) Increment(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.kv.Incr(keyspace.AdmissionCounter, 1, 0), nil
}

func (w *WindowStore) Decrement(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.kv.Incr(keyspace.AdmissionCounter, -1, 0), nil
}

func (w *WindowStore) Count(ctx context.Context) (int64, error) {
	return w.kv.Counter(keyspace.AdmissionCounter), nil
}

var _ ratelimit.WindowStore = (*WindowStore)(nil)
