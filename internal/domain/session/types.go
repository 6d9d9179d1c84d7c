// Package session manages the per-tenant upstream session lifecycle: login,
// refresh-token rotation, and token lookup with transparent refresh.
package session

import "time"

// TenantSession is the upstream credential set cached for one tenant.
// At most one live session token exists per tenant; every refresh replaces
// the whole set in place.
type TenantSession struct {
	// TenantID identifies the gateway tenant (the login e-mail).
	TenantID string
	// SessionToken authenticates upstream calls. Empty once expired.
	SessionToken string
	// RefreshToken is single-use and rotates on every refresh.
	RefreshToken string
	// UpstreamUserID is the stable upstream user id, used in resource paths.
	UpstreamUserID string
	// SessionTTL is how long SessionToken stays cached.
	SessionTTL time.Duration
	// RefreshTTL is how long RefreshToken stays cached.
	RefreshTTL time.Duration
}

// Grant is what the upstream returns from a login or refresh exchange.
type Grant struct {
	SessionToken string
	RefreshToken string
	UserID       string
	// ExpiresIn is the upstream-reported session token lifetime. Zero when
	// the upstream omitted it.
	ExpiresIn time.Duration
}
