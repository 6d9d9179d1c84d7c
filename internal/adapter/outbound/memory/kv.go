// Package memory provides in-memory implementations of outbound ports.
// They back single-instance deployments and tests; multi-instance
// deployments need the redis adapter so every instance shares state.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = time.Minute

const shardCount = 32

type entry struct {
	value   []byte
	counter int64
	expires time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type shard struct {
	mu    sync.Mutex
	items map[string]*entry
}

// KV is a sharded key-value map with per-key expiry. Every operation on a
// single key is atomic. Expired entries are invisible to readers and
// removed by the background sweep.
type KV struct {
	shards          [shardCount]*shard
	now             func() time.Time
	cleanupInterval time.Duration
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
}

// KVOption configures a KV.
type KVOption func(*KV)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) KVOption {
	return func(kv *KV) {
		kv.now = now
	}
}

// WithCleanupInterval sets the sweep interval.
func WithCleanupInterval(d time.Duration) KVOption {
	return func(kv *KV) {
		if d > 0 {
			kv.cleanupInterval = d
		}
	}
}

// NewKV creates an empty store.
func NewKV(opts ...KVOption) *KV {
	kv := &KV{
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopChan:        make(chan struct{}),
	}
	for i := range kv.shards {
		kv.shards[i] = &shard{items: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

func (kv *KV) shardFor(key string) *shard {
	return kv.shards[xxhash.Sum64String(key)%shardCount]
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// live returns the unexpired entry for key. Caller holds s.mu.
func (s *shard) live(key string, now time.Time) (*entry, bool) {
	e, ok := s.items[key]
	if !ok || e.expired(now) {
		return nil, false
	}
	return e, true
}

// Get returns a copy of the value stored at key.
func (kv *KV) Get(key string) ([]byte, bool) {
	s := kv.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, kv.now())
	if !ok || e.value == nil {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// Set stores value at key. A ttl of zero keeps it until deleted.
func (kv *KV) Set(key string, value []byte, ttl time.Duration) {
	s := kv.shardFor(key)
	now := kv.now()
	s.mu.Lock()
	s.items[key] = &entry{value: append([]byte(nil), value...), expires: deadline(now, ttl)}
	s.mu.Unlock()
}

// SetNX stores value only when key is absent and reports whether it did.
func (kv *KV) SetNX(key string, value []byte, ttl time.Duration) bool {
	s := kv.shardFor(key)
	now := kv.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key, now); ok {
		return false
	}
	s.items[key] = &entry{value: append([]byte(nil), value...), expires: deadline(now, ttl)}
	return true
}

// CompareAndSet replaces key with value when its current value equals old.
// A nil old matches an absent key.
func (kv *KV) CompareAndSet(key string, old, value []byte, ttl time.Duration) bool {
	s := kv.shardFor(key)
	now := kv.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, now)
	switch {
	case old == nil && ok:
		return false
	case old != nil && (!ok || string(e.value) != string(old)):
		return false
	}
	s.items[key] = &entry{value: append([]byte(nil), value...), expires: deadline(now, ttl)}
	return true
}

// Incr adds delta to the counter at key, creating it at zero first. ttl is
// applied only when the key is created.
func (kv *KV) Incr(key string, delta int64, ttl time.Duration) int64 {
	s := kv.shardFor(key)
	now := kv.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, now)
	if !ok {
		e = &entry{expires: deadline(now, ttl)}
		s.items[key] = e
	}
	e.counter += delta
	return e.counter
}

// SetCounter stores n at key with ttl.
func (kv *KV) SetCounter(key string, n int64, ttl time.Duration) {
	s := kv.shardFor(key)
	now := kv.now()
	s.mu.Lock()
	s.items[key] = &entry{counter: n, expires: deadline(now, ttl)}
	s.mu.Unlock()
}

// Counter returns the counter at key, 0 when absent.
func (kv *KV) Counter(key string) int64 {
	s := kv.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live(key, kv.now()); ok {
		return e.counter
	}
	return 0
}

// TTL returns the remaining lifetime of key. ok is false when the key is
// absent; a key without expiry reports 0 and ok=true.
func (kv *KV) TTL(key string) (time.Duration, bool) {
	s := kv.shardFor(key)
	now := kv.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, now)
	if !ok {
		return 0, false
	}
	if e.expires.IsZero() {
		return 0, true
	}
	return e.expires.Sub(now), true
}

// Exists reports whether key holds a live entry.
func (kv *KV) Exists(key string) bool {
	s := kv.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key, kv.now())
	return ok
}

// Delete removes keys and returns how many were live.
func (kv *KV) Delete(keys ...string) int64 {
	now := kv.now()
	var n int64
	for _, key := range keys {
		s := kv.shardFor(key)
		s.mu.Lock()
		if _, ok := s.live(key, now); ok {
			n++
		}
		delete(s.items, key)
		s.mu.Unlock()
	}
	return n
}

// DeletePrefix removes every live key starting with prefix.
func (kv *KV) DeletePrefix(prefix string) int64 {
	return kv.walkPrefix(prefix, true)
}

// CountPrefix counts live keys starting with prefix.
func (kv *KV) CountPrefix(prefix string) int64 {
	return kv.walkPrefix(prefix, false)
}

func (kv *KV) walkPrefix(prefix string, remove bool) int64 {
	now := kv.now()
	var n int64
	for _, s := range kv.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if !strings.HasPrefix(key, prefix) || e.expired(now) {
				continue
			}
			n++
			if remove {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (kv *KV) Len() int {
	total := 0
	for _, s := range kv.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

// StartCleanup starts the background sweep. It runs until ctx is cancelled
// or Stop is called.
func (kv *KV) StartCleanup(ctx context.Context) {
	kv.wg.Add(1)
	go func() {
		defer kv.wg.Done()
		ticker := time.NewTicker(kv.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-kv.stopChan:
				return
			case <-ticker.C:
				kv.sweep()
			}
		}
	}()
}

func (kv *KV) sweep() {
	now := kv.now()
	cleaned := 0
	for _, s := range kv.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if e.expired(now) {
				delete(s.items, key)
				cleaned++
			}
		}
		s.mu.Unlock()
	}
	if cleaned > 0 {
		slog.Debug("swept expired entries", "count", cleaned)
	}
}

// Stop stops the sweep and waits for it to exit. Safe to call twice.
func (kv *KV) Stop() {
	kv.once.Do(func() {
		close(kv.stopChan)
	})
	kv.wg.Wait()
}
