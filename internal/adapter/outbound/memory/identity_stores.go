package memory

import (
	"context"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
)

// RevocationStore implements identity.RevocationStore on a KV.
type RevocationStore struct {
	kv *KV
}

// NewRevocationStore creates a revocation store backed by kv.
func NewRevocationStore(kv *KV) *RevocationStore {
	return &RevocationStore{kv: kv}
}

func (r *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	return r.kv.SetNX(keyspace.Revoked(jti), []byte("1"), ttl), nil
}

func (r *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return r.kv.Exists(keyspace.Revoked(jti)), nil
}

// AttemptStore implements identity.AttemptStore on a KV.
type AttemptStore struct {
	kv *KV
}

// NewAttemptStore creates a login attempt store backed by kv.
func NewAttemptStore(kv *KV) *AttemptStore {
	return &AttemptStore{kv: kv}
}

func (a *AttemptStore) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	return a.kv.Incr(keyspace.FailedAttempts(ip), 1, window), nil
}

func (a *AttemptStore) Lock(ctx context.Context, ip string, d time.Duration) error {
	a.kv.Set(keyspace.Lockout(ip), []byte("1"), d)
	return nil
}

func (a *AttemptStore) LockRemaining(ctx context.Context, ip string) (time.Duration, error) {
	ttl, ok := a.kv.TTL(keyspace.Lockout(ip))
	if !ok {
		return 0, nil
	}
	return ttl, nil
}

func (a *AttemptStore) Reset(ctx context.Context, ip string) error {
	a.kv.Delete(keyspace.FailedAttempts(ip))
	return nil
}

var (
	_ identity.RevocationStore = (*RevocationStore)(nil)
	_ identity.AttemptStore    = (*AttemptStore)(nil)
)
