package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/hub"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// errorResponse maps err to a status and a client-safe message. Upstream
// bodies, token failure reasons, and internal errors never reach the client.
func errorResponse(err error) (status int, detail string, retryAfter time.Duration) {
	var (
		locked      *identity.LockedOutError
		unavailable *ratelimit.UnavailableError
		upstreamErr *fault.UpstreamError
	)
	switch {
	case errors.As(err, &locked):
		return http.StatusTooManyRequests, "too many failed login attempts, try again later", locked.RetryAfter
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "service busy, retry later", unavailable.RetryAfter
	case errors.Is(err, ratelimit.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service busy, retry later", time.Second
	case errors.Is(err, fault.ErrAuth), errors.Is(err, auth.ErrInvalidKey):
		return http.StatusUnauthorized, "invalid credentials", 0
	case errors.As(err, &upstreamErr):
		status := upstreamErr.Status
		if status < 400 || status >= 500 || status == http.StatusUnauthorized {
			status = http.StatusBadGateway
		}
		return status, upstreamErr.SafeMessage(), 0
	case errors.Is(err, fault.ErrUpstreamUnreachable):
		return http.StatusBadGateway, "upstream service unavailable", 0
	case errors.Is(err, hub.ErrInvalidArmState):
		return http.StatusBadRequest, "invalid arm state", 0
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream service timed out", 0
	default:
		return http.StatusInternalServerError, "internal server error", 0
	}
}

// SafeErrorMessage returns the text a client sees for err.
func SafeErrorMessage(err error) string {
	_, detail, _ := errorResponse(err)
	return detail
}

// writeError maps err onto the response. Unexpected errors are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail, retryAfter := errorResponse(err)
	logger := LoggerFromContext(r.Context())
	switch {
	case status >= 500 && status != http.StatusServiceUnavailable:
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	default:
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	if retryAfter > 0 {
		secs := int((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeDetail(w, status, detail)
}
