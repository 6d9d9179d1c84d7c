// Package auth verifies operator keys for the gateway's admin endpoints.
package auth

import (
	"slices"
	"time"
)

// Role scopes what an operator may do.
type Role string

const (
	// RoleAdmin may read status and evict cache entries.
	RoleAdmin Role = "admin"
	// RoleViewer may only read status.
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleViewer
}

// Operator is a person or automation allowed onto the admin surface.
type Operator struct {
	Name  string
	Roles []Role
}

// HasRole reports whether the operator holds role.
func (o *Operator) HasRole(role Role) bool {
	return slices.Contains(o.Roles, role)
}

// HasAnyRole reports whether the operator holds at least one of roles.
func (o *Operator) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if o.HasRole(r) {
			return true
		}
	}
	return false
}

// OperatorKey is a stored key hash bound to an operator.
type OperatorKey struct {
	// Hash is "sha256:<hex>", bare SHA-256 hex, or an Argon2id PHC string.
	Hash      string
	Operator  Operator
	CreatedAt time.Time
	ExpiresAt *time.Time
	Revoked   bool
}

// IsExpired reports whether the key is past its expiry. Keys without one
// never expire.
func (k *OperatorKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().UTC().After(*k.ExpiresAt)
}
