package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/virapa/AjaxSecurFlow/internal/domain/cache"
)

// CacheBackend implements cache.Backend on Redis.
type CacheBackend struct {
	rdb redis.UniversalClient
}

// NewCacheBackend creates a cache backend.
func NewCacheBackend(rdb redis.UniversalClient) *CacheBackend {
	return &CacheBackend{rdb: rdb}
}

func (b *CacheBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	return v, err
}

func (b *CacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *CacheBackend) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return b.rdb.Del(ctx, keys...).Result()
}

func (b *CacheBackend) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := scanPrefix(ctx, b.rdb, prefix, func(keys []string) error {
		n, err := b.rdb.Del(ctx, keys...).Result()
		total += n
		return err
	})
	return total, err
}

func (b *CacheBackend) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := scanPrefix(ctx, b.rdb, prefix, func(keys []string) error {
		total += int64(len(keys))
		return nil
	})
	return total, err
}

var _ cache.Backend = (*CacheBackend)(nil)
