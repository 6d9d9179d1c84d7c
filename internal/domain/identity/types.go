// Package identity verifies the gateway's own access and refresh tokens.
//
// Tokens move through ISSUED → ACTIVE → {REVOKED, EXPIRED}. Each token is
// bound to a fingerprint of the client that requested it; logout and every
// refresh put the token's jti on a revocation list until it would have
// expired anyway.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	// Type is the intended use of the token.
	Type TokenType `json:"type"`
	// Fingerprint is the SHA-256 of the issuing client's User-Agent.
	Fingerprint string `json:"uah,omitempty"`
	// IssuerIP is the client IP the token was issued to.
	IssuerIP string `json:"uip,omitempty"`
}

// RequestMeta describes the client presenting or requesting a token.
type RequestMeta struct {
	UserAgent string
	ClientIP  string
	Endpoint  string
	Method    string
	RequestID string
}

// Fingerprint hashes client metadata into the value bound to a token.
func Fingerprint(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// Identity is the verified caller.
type Identity struct {
	Subject   string
	TokenID   string
	Type      TokenType
	ExpiresAt time.Time
	// IPChanged is set when the request came from a different IP than the
	// one the token was issued to.
	IPChanged bool
}

// RevocationStore is the shared revocation set keyed by jti.
type RevocationStore interface {
	// Revoke adds jti for ttl. Returns false when jti was already revoked.
	// Must be an atomic create-if-absent.
	Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error)

	// IsRevoked reports whether jti is in the set.
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Verification failures. All of them wrap fault.ErrAuth so callers can
// surface one generic message.
var (
	ErrInvalidToken        = fmt.Errorf("%w: malformed or expired token", fault.ErrAuth)
	ErrWrongTokenType      = fmt.Errorf("%w: unexpected token type", fault.ErrAuth)
	ErrTokenRevoked        = fmt.Errorf("%w: token revoked", fault.ErrAuth)
	ErrFingerprintMismatch = fmt.Errorf("%w: client fingerprint mismatch", fault.ErrAuth)
	ErrSubjectMismatch     = fmt.Errorf("%w: token issued to another subject", fault.ErrAuth)
	ErrStoreUnavailable    = fmt.Errorf("%w: revocation store unavailable", fault.ErrAuth)
)

// ErrNoSecret is returned by NewGuard without a signing secret.
var ErrNoSecret = errors.New("identity: signing secret is required")
