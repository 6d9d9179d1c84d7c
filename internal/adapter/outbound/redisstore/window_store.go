package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
)

// resetWindow starts a new window only if the stored start still matches
// ARGV[1] ("" meaning absent). KEYS: start, counter. ARGV: observed, now,
// ttl in ms.
var resetWindow = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (ARGV[1] == '' and cur) or (ARGV[1] ~= '' and cur ~= ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], 1, 'PX', ARGV[3])
return 1
`)

// WindowStore implements ratelimit.WindowStore on Redis.
type WindowStore struct {
	rdb redis.UniversalClient
}

// NewWindowStore creates a window store.
func NewWindowStore(rdb redis.UniversalClient) *WindowStore {
	return &WindowStore{rdb: rdb}
}

func (w *WindowStore) WindowStart(ctx context.Context) (time.Time, bool, error) {
	ms, err := w.rdb.Get(ctx, keyspace.AdmissionWindowStart).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (w *WindowStore) ResetWindow(ctx context.Context, observed, now time.Time, ttl time.Duration) (bool, error) {
	prev := ""
	if !observed.IsZero() {
		prev = strconv.FormatInt(observed.UnixMilli(), 10)
	}
	n, err := resetWindow.Run(ctx, w.rdb,
		[]string{keyspace.AdmissionWindowStart, keyspace.AdmissionCounter},
		prev, now.UnixMilli(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (w *WindowStore) Increment(ctx context.Context) (int64, error) {
	return w.rdb.Incr(ctx, keyspace.AdmissionCounter).Result()
}

func (w *WindowStore) Decrement(ctx context.Context) (int64, error) {
	return w.rdb.Decr(ctx, keyspace.AdmissionCounter).Result()
}

func (w *WindowStore) Count(ctx context.Context) (int64, error) {
	n, err := w.rdb.Get(ctx, keyspace.AdmissionCounter).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

var _ ratelimit.WindowStore = (*WindowStore)(nil)
