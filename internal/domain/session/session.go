package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
)

const (
	// DefaultSafetyMargin is subtracted from the upstream-reported expiry so
	// a cached token is never presented in its last seconds of validity.
	DefaultSafetyMargin = 60 * time.Second
	// DefaultRefreshTTL is how long a refresh token is kept.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultExpiresIn is assumed when the upstream omits expires_in.
	DefaultExpiresIn = 900 * time.Second

	minSessionTTL = time.Second
)

// Config holds session service configuration.
type Config struct {
	SafetyMargin time.Duration
	RefreshTTL   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRefreshObserver registers a callback invoked after every refresh
// attempt with "success" or "failure".
func WithRefreshObserver(fn func(outcome string)) Option {
	return func(s *Service) {
		s.observeRefresh = fn
	}
}

// Service manages tenant sessions against the upstream.
// It holds no per-tenant state; everything mutable lives in the Store.
type Service struct {
	store          Store
	authn          Authenticator
	margin         time.Duration
	refreshTTL     time.Duration
	logger         *slog.Logger
	observeRefresh func(outcome string)
}

// NewService creates a session service.
func NewService(store Store, authn Authenticator, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	s := &Service{
		store:          store,
		authn:          authn,
		margin:         cfg.SafetyMargin,
		refreshTTL:     cfg.RefreshTTL,
		logger:         logger,
		observeRefresh: func(string) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashCredential returns the hex SHA-256 digest of a raw credential, the
// format the upstream login endpoint expects.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Login authenticates the tenant upstream and caches the resulting session.
// Any rejection, or a response without a session token or user id, yields
// fault.ErrAuth.
func (s *Service) Login(ctx context.Context, tenantID, rawCredential string) (*TenantSession, error) {
	grant, err := s.authn.Login(ctx, tenantID, HashCredential(rawCredential))
	if err != nil {
		if errors.Is(err, ratelimit.ErrServiceUnavailable) {
			return nil, err
		}
		s.logger.Warn("upstream login failed", "tenant", tenantID, "error", err)
		return nil, fault.ErrAuth
	}
	if grant.SessionToken == "" || grant.UserID == "" {
		s.logger.Warn("upstream login response missing session data", "tenant", tenantID)
		return nil, fault.ErrAuth
	}

	sess := s.sessionFromGrant(tenantID, grant.UserID, grant)
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.logger.Info("tenant session created", "tenant", tenantID, "ttl", sess.SessionTTL)
	return sess, nil
}

// Refresh rotates the tenant's refresh token and returns the new session
// token. Returns fault.ErrAuth when no refresh token is cached or the
// upstream rejects it; the tenant must log in again.
func (s *Service) Refresh(ctx context.Context, tenantID string) (string, error) {
	cached, err := s.store.Load(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if cached == nil || cached.RefreshToken == "" || cached.UpstreamUserID == "" {
		s.observeRefresh("failure")
		return "", fault.ErrAuth
	}

	grant, err := s.authn.Refresh(ctx, cached.UpstreamUserID, cached.RefreshToken)
	if err != nil {
		if errors.Is(err, ratelimit.ErrServiceUnavailable) {
			return "", err
		}
		s.observeRefresh("failure")
		s.logger.Warn("upstream session refresh failed", "tenant", tenantID, "error", err)
		return "", fault.ErrAuth
	}
	if grant.SessionToken == "" {
		s.observeRefresh("failure")
		return "", fault.ErrAuth
	}

	sess := s.sessionFromGrant(tenantID, cached.UpstreamUserID, grant)
	if err := s.store.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	s.observeRefresh("success")
	s.logger.Debug("tenant session refreshed", "tenant", tenantID)
	return sess.SessionToken, nil
}

// GetOrRefresh returns the cached session token, refreshing it when it has
// expired.
func (s *Service) GetOrRefresh(ctx context.Context, tenantID string) (string, error) {
	cached, err := s.store.Load(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if cached != nil && cached.SessionToken != "" {
		return cached.SessionToken, nil
	}
	return s.Refresh(ctx, tenantID)
}

// UpstreamUserID returns the upstream user id cached for the tenant.
func (s *Service) UpstreamUserID(ctx context.Context, tenantID string) (string, error) {
	cached, err := s.store.Load(ctx, tenantID)
	if errors.Is(err, ErrSessionNotFound) {
		return "", fault.ErrAuth
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if cached.UpstreamUserID == "" {
		return "", fault.ErrAuth
	}
	return cached.UpstreamUserID, nil
}

// Logout drops the cached tenant session.
func (s *Service) Logout(ctx context.Context, tenantID string) error {
	return s.store.Delete(ctx, tenantID)
}

func (s *Service) sessionFromGrant(tenantID, userID string, g *Grant) *TenantSession {
	expiresIn := g.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	ttl := expiresIn - s.margin
	if ttl < minSessionTTL {
		ttl = minSessionTTL
	}
	if ttl > s.refreshTTL {
		ttl = s.refreshTTL
	}
	return &TenantSession{
		TenantID:       tenantID,
		SessionToken:   g.SessionToken,
		RefreshToken:   g.RefreshToken,
		UpstreamUserID: userID,
		SessionTTL:     ttl,
		RefreshTTL:     s.refreshTTL,
	}
}
