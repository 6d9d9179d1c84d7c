// Package keyspace names the shared-store keys. Every gateway instance and
// every store adapter must agree on them, so they live in one place.
package keyspace

const (
	// AdmissionCounter counts upstream calls admitted in the current window.
	AdmissionCounter = "ajax_api:global_counter"
	// AdmissionWindowStart holds the window start as unix milliseconds.
	AdmissionWindowStart = "ajax_api:window_start"
)

// SessionToken is the key of a tenant's upstream session token.
func SessionToken(tenant string) string { return "ajax_user:" + tenant + ":token" }

// SessionRefresh is the key of a tenant's upstream refresh token.
func SessionRefresh(tenant string) string { return "ajax_user:" + tenant + ":refresh" }

// SessionUserID is the key of a tenant's upstream user id.
func SessionUserID(tenant string) string { return "ajax_user:" + tenant + ":id" }

// Revoked marks an identity token id as revoked.
func Revoked(jti string) string { return "token_blacklist:" + jti }

// FailedAttempts counts failed logins from a client IP.
func FailedAttempts(ip string) string { return "failed_attempts:" + ip }

// Lockout blocks logins from a client IP while present.
func Lockout(ip string) string { return "lockout:" + ip }
