package memory

import (
	"context"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
)

// SessionStore implements session.Store on a KV.
type SessionStore struct {
	kv *KV
}

// NewSessionStore creates a session store backed by kv.
func NewSessionStore(kv *KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// Load returns whatever is still cached for the tenant.
func (s *SessionStore) Load(ctx context.Context, tenantID string) (*session.TenantSession, error) {
	token, hasToken := s.kv.Get(keyspace.SessionToken(tenantID))
	refresh, hasRefresh := s.kv.Get(keyspace.SessionRefresh(tenantID))
	uid, hasUID := s.kv.Get(keyspace.SessionUserID(tenantID))
	if !hasToken && !hasRefresh && !hasUID {
		return nil, session.ErrSessionNotFound
	}
	sess := &session.TenantSession{
		TenantID:       tenantID,
		SessionToken:   string(token),
		RefreshToken:   string(refresh),
		UpstreamUserID: string(uid),
	}
	sess.SessionTTL, _ = s.kv.TTL(keyspace.SessionToken(tenantID))
	sess.RefreshTTL, _ = s.kv.TTL(keyspace.SessionRefresh(tenantID))
	return sess, nil
}

// Save writes the session values with their TTLs.
func (s *SessionStore) Save(ctx context.Context, sess *session.TenantSession) error {
	s.kv.Set(keyspace.SessionToken(sess.TenantID), []byte(sess.SessionToken), sess.SessionTTL)
	s.kv.Set(keyspace.SessionUserID(sess.TenantID), []byte(sess.UpstreamUserID), 0)
	if sess.RefreshToken != "" {
		s.kv.Set(keyspace.SessionRefresh(sess.TenantID), []byte(sess.RefreshToken), sess.RefreshTTL)
	}
	return nil
}

// Delete drops the tenant's cached session.
func (s *SessionStore) Delete(ctx context.Context, tenantID string) error {
	s.kv.Delete(
		keyspace.SessionToken(tenantID),
		keyspace.SessionRefresh(tenantID),
		keyspace.SessionUserID(tenantID),
	)
	return nil
}

var _ session.Store = (*SessionStore)(nil)
