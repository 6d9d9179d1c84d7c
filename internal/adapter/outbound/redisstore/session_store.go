package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
)

// SessionStore implements session.Store on Redis.
type SessionStore struct {
	rdb redis.UniversalClient
}

// NewSessionStore creates a session store.
func NewSessionStore(rdb redis.UniversalClient) *SessionStore {
	return &SessionStore{rdb: rdb}
}

func (s *SessionStore) Load(ctx context.Context, tenantID string) (*session.TenantSession, error) {
	tokenKey := keyspace.SessionToken(tenantID)
	refreshKey := keyspace.SessionRefresh(tenantID)

	var (
		vals       *redis.SliceCmd
		tokenTTL   *redis.DurationCmd
		refreshTTL *redis.DurationCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		vals = p.MGet(ctx, tokenKey, refreshKey, keyspace.SessionUserID(tenantID))
		tokenTTL = p.PTTL(ctx, tokenKey)
		refreshTTL = p.PTTL(ctx, refreshKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	v := vals.Val()
	token, refresh, uid := str(v, 0), str(v, 1), str(v, 2)
	if token == "" && refresh == "" && uid == "" {
		return nil, session.ErrSessionNotFound
	}
	return &session.TenantSession{
		TenantID:       tenantID,
		SessionToken:   token,
		RefreshToken:   refresh,
		UpstreamUserID: uid,
		SessionTTL:     positive(tokenTTL.Val()),
		RefreshTTL:     positive(refreshTTL.Val()),
	}, nil
}

func (s *SessionStore) Save(ctx context.Context, sess *session.TenantSession) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keyspace.SessionToken(sess.TenantID), sess.SessionToken, sess.SessionTTL)
		p.Set(ctx, keyspace.SessionUserID(sess.TenantID), sess.UpstreamUserID, 0)
		if sess.RefreshToken != "" {
			p.Set(ctx, keyspace.SessionRefresh(sess.TenantID), sess.RefreshToken, sess.RefreshTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, tenantID string) error {
	err := s.rdb.Del(ctx,
		keyspace.SessionToken(tenantID),
		keyspace.SessionRefresh(tenantID),
		keyspace.SessionUserID(tenantID),
	).Err()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func str(vals []any, i int) string {
	if i >= len(vals) {
		return ""
	}
	s, _ := vals[i].(string)
	return s
}

// positive maps the PTTL sentinels (-1 no expiry, -2 missing) to zero.
func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

var _ session.Store = (*SessionStore)(nil)
