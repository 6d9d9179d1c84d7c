package http

import (
	"context"
	"net/http"

	"github.com/virapa/AjaxSecurFlow/internal/ctxkey"
	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
)

// TokenVerifier checks identity tokens presented by clients.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, want identity.TokenType, meta identity.RequestMeta) (*identity.Identity, error)
}

// OperatorVerifier checks operator keys.
type OperatorVerifier interface {
	Verify(ctx context.Context, rawKey string) (*auth.Operator, error)
}

// RequireIdentity rejects requests without a valid access token and stores
// the verified identity in the context.
func RequireIdentity(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, r, fault.ErrAuth)
				return
			}
			id, err := verifier.Verify(r.Context(), raw, identity.TokenTypeAccess, requestMeta(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxkey.IdentityKey{}, id)
			ctx = context.WithValue(ctx, LoggerKey, LoggerFromContext(ctx).With("subject", id.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the caller verified by RequireIdentity.
func IdentityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(ctxkey.IdentityKey{}).(*identity.Identity)
	return id
}

// RequireOperator rejects requests without a usable operator key holding one
// of roles. The key is read from X-Operator-Key or a Bearer header. Failed
// keys are audited.
func RequireOperator(verifier OperatorVerifier, events audit.Recorder, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Operator-Key")
			if raw == "" {
				raw = bearerToken(r)
			}
			op, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				if events != nil {
					meta := requestMeta(r)
					events.Record(audit.Record{
						Action:     audit.ActionOperatorKeyFailed,
						Severity:   audit.SeverityWarning,
						Endpoint:   meta.Endpoint,
						Method:     meta.Method,
						StatusCode: http.StatusUnauthorized,
						ClientIP:   meta.ClientIP,
						UserAgent:  meta.UserAgent,
						RequestID:  meta.RequestID,
					})
				}
				writeError(w, r, err)
				return
			}
			if len(roles) > 0 && !op.HasAnyRole(roles...) {
				writeDetail(w, http.StatusForbidden, "operator role not permitted")
				return
			}
			ctx := context.WithValue(r.Context(), ctxkey.OperatorKey{}, op)
			ctx = context.WithValue(ctx, LoggerKey, LoggerFromContext(ctx).With("operator", op.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the operator verified by RequireOperator.
func OperatorFromContext(ctx context.Context) *auth.Operator {
	op, _ := ctx.Value(ctxkey.OperatorKey{}).(*auth.Operator)
	return op
}
