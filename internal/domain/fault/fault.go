// Package fault defines the error taxonomy shared by the gateway core.
//
// Callers classify failures with errors.Is / errors.As:
//
//   - ErrAuth: upstream credentials expired or rejected, or a local identity
//     token failed verification. Always reported to clients as
//     "invalid credentials" without saying which check failed.
//   - *UpstreamError: a non-2xx upstream response other than the single
//     handled 401 case. Carries the status for mapping, never the body.
//   - ErrUpstreamUnreachable: the upstream could not be reached at all.
//
// Admission rejections live in the ratelimit package and cache failures in
// the cache package; neither is defined here.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuth is the single authentication failure surfaced to clients.
var ErrAuth = errors.New("invalid credentials")

// ErrUpstreamUnreachable is returned when the upstream request fails before a
// response is received (DNS, connect, timeout).
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// UpstreamError is a non-2xx upstream response.
type UpstreamError struct {
	// Status is the HTTP status code returned by the upstream.
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// SafeMessage returns a neutral description of the failure for API clients.
func (e *UpstreamError) SafeMessage() string {
	switch e.Status {
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "request rejected by upstream service"
	case http.StatusForbidden:
		return "access denied by upstream service"
	case http.StatusTooManyRequests:
		return "upstream service is busy, retry later"
	default:
		return "upstream service error"
	}
}

// IsStatus reports whether err is an UpstreamError with the given status.
func IsStatus(err error, status int) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == status
}
