// Package cache provides the per-resource response cache placed in front of
// the upstream API. Entries are JSON documents replaced wholesale; backend
// failures never reach callers and degrade to a live fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is the TTL-capable key-value store holding cache entries.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	// CountPrefix counts keys starting with prefix.
	CountPrefix(ctx context.Context, prefix string) (int64, error)
}

// Error describes a failed cache operation. It is logged, never returned
// from GetOrFetch.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a Cache.
type Option func(*Cache)

// WithLookupObserver registers a callback invoked on every lookup with the
// resource name (see Resource) and whether it was a hit.
func WithLookupObserver(fn func(resource string, hit bool)) Option {
	return func(c *Cache) {
		c.observe = fn
	}
}

// Cache is the response cache.
type Cache struct {
	backend Backend
	logger  *slog.Logger
	observe func(resource string, hit bool)
}

// New creates a cache over backend. A nil logger uses slog.Default.
func New(backend Backend, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		backend: backend,
		logger:  logger,
		observe: func(string, bool) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get decodes the entry at key into dst and reports whether it was found.
// Backend and decode failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed", "error", &Error{Op: "get", Key: key, Err: err})
		}
		c.observe(Resource(key), false)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache entry undecodable", "error", &Error{Op: "decode", Key: key, Err: err})
		c.observe(Resource(key), false)
		return false
	}
	c.observe(Resource(key), true)
	return true
}

// Set stores value under key for ttl, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "encode", Key: key, Err: err}
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Invalidate removes the given keys and returns how many existed. Failures
// are logged and report zero.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 {
		return 0
	}
	n, err := c.backend.Delete(ctx, keys...)
	if err != nil {
		c.logger.Warn("cache invalidate failed", "keys", keys, "error", err)
		return 0
	}
	return n
}

// InvalidatePattern removes every key starting with prefix and returns how
// many were removed. Failures are logged and report zero.
func (c *Cache) InvalidatePattern(ctx context.Context, prefix string) int64 {
	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		c.logger.Warn("cache pattern invalidate failed", "prefix", prefix, "error", err)
		return 0
	}
	return n
}

// GetOrFetch returns the cached value for key, or calls fetch, caches its
// result for ttl, and returns it. fetch errors are returned unchanged and
// nothing is cached.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", "error", err)
	}
	return value, nil
}
