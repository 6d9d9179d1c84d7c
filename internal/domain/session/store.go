package session

import (
	"context"
	"errors"
)

// Store persists tenant sessions in the shared key-value store.
// Implementations: Redis (prod), in-memory (dev/test).
type Store interface {
	// Load returns the cached session for a tenant. Fields whose TTL has
	// elapsed come back empty. Returns ErrSessionNotFound when nothing at all
	// is cached for the tenant.
	Load(ctx context.Context, tenantID string) (*TenantSession, error)

	// Save writes the session token with SessionTTL, the upstream user id
	// without expiry, and the refresh token with RefreshTTL. An empty
	// RefreshToken leaves the cached refresh token untouched.
	Save(ctx context.Context, s *TenantSession) error

	// Delete drops everything cached for the tenant.
	Delete(ctx context.Context, tenantID string) error
}

// Authenticator performs the upstream credential exchanges.
type Authenticator interface {
	// Login exchanges a login and a credential digest for a grant.
	Login(ctx context.Context, login, passwordHash string) (*Grant, error)

	// Refresh exchanges a refresh token for a new grant.
	Refresh(ctx context.Context, userID, refreshToken string) (*Grant, error)
}

// ErrSessionNotFound is returned when no session is cached for a tenant.
var ErrSessionNotFound = errors.New("session not found")
