// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/subject fields.
type LoggerKey struct{}

// IdentityKey is the context key type for the verified caller identity.
type IdentityKey struct{}

// OperatorKey is the context key type for the authenticated operator.
type OperatorKey struct{}
