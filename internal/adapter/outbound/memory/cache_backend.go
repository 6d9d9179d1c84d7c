package memory

import (
	"context"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/cache"
)

// CacheBackend implements cache.Backend on a KV.
type CacheBackend struct {
	kv *KV
}

// NewCacheBackend creates a cache backend backed by kv.
func NewCacheBackend(kv *KV) *CacheBackend {
	return &CacheBackend{kv: kv}
}

func (b *CacheBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := b.kv.Get(key)
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (b *CacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.kv.Set(key, value, ttl)
	return nil
}

func (b *CacheBackend) Delete(ctx context.Context, keys ...string) (int64, error) {
	return b.kv.Delete(keys...), nil
}

func (b *CacheBackend) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	return b.kv.DeletePrefix(prefix), nil
}

func (b *CacheBackend) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	return b.kv.CountPrefix(prefix), nil
}

var _ cache.Backend = (*CacheBackend)(nil)
