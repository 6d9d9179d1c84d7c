package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
)

// RevocationStore implements identity.RevocationStore on Redis.
type RevocationStore struct {
	rdb redis.UniversalClient
}

// NewRevocationStore creates a revocation store.
func NewRevocationStore(rdb redis.UniversalClient) *RevocationStore {
	return &RevocationStore{rdb: rdb}
}

func (r *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, keyspace.Revoked(jti), "1", ttl).Result()
}

func (r *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyspace.Revoked(jti)).Result()
	return n > 0, err
}

// incrWithExpiry starts the expiry on the first increment only.
var incrWithExpiry = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// AttemptStore implements identity.AttemptStore on Redis.
type AttemptStore struct {
	rdb redis.UniversalClient
}

// NewAttemptStore creates a login attempt store.
func NewAttemptStore(rdb redis.UniversalClient) *AttemptStore {
	return &AttemptStore{rdb: rdb}
}

func (a *AttemptStore) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	return incrWithExpiry.Run(ctx, a.rdb, []string{keyspace.FailedAttempts(ip)}, window.Milliseconds()).Int64()
}

func (a *AttemptStore) Lock(ctx context.Context, ip string, d time.Duration) error {
	return a.rdb.Set(ctx, keyspace.Lockout(ip), "1", d).Err()
}

func (a *AttemptStore) LockRemaining(ctx context.Context, ip string) (time.Duration, error) {
	d, err := a.rdb.PTTL(ctx, keyspace.Lockout(ip)).Result()
	if err != nil {
		return 0, err
	}
	return positive(d), nil
}

func (a *AttemptStore) Reset(ctx context.Context, ip string) error {
	return a.rdb.Del(ctx, keyspace.FailedAttempts(ip)).Err()
}

var (
	_ identity.RevocationStore = (*RevocationStore)(nil)
	_ identity.AttemptStore    = (*AttemptStore)(nil)
)
