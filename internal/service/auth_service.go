package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
)

// SessionLifecycle opens and closes tenant sessions with the upstream.
type SessionLifecycle interface {
	Login(ctx context.Context, tenantID, rawCredential string) (*session.TenantSession, error)
	Logout(ctx context.Context, tenantID string) error
}

// AuthService runs the client-facing login, refresh, and logout flows.
type AuthService struct {
	sessions SessionLifecycle
	guard    *identity.Guard
	lockout  *identity.LoginGuard
	events   audit.Recorder
	logger   *slog.Logger
}

// NewAuthService creates an auth service. events may be nil.
func NewAuthService(sessions SessionLifecycle, guard *identity.Guard, lockout *identity.LoginGuard, events audit.Recorder, logger *slog.Logger) *AuthService {
	return &AuthService{sessions: sessions, guard: guard, lockout: lockout, events: events, logger: logger}
}

// Login authenticates email against the upstream and issues a token pair.
// Locked-out clients get *identity.LockedOutError, exhausted quota passes
// through as a ratelimit error, and every other failure is fault.ErrAuth.
func (s *AuthService) Login(ctx context.Context, email, password string, meta identity.RequestMeta) (*identity.TokenPair, error) {
	if err := s.lockout.Check(ctx, meta.ClientIP); err != nil {
		return nil, err
	}

	if _, err := s.sessions.Login(ctx, email, password); err != nil {
		if errors.Is(err, ratelimit.ErrServiceUnavailable) {
			return nil, err
		}
		if !errors.Is(err, fault.ErrAuth) {
			s.logger.Error("login failed", "error", err)
		}
		s.lockout.Failure(ctx, email, meta)
		return nil, fault.ErrAuth
	}

	pair, err := s.guard.Issue(email, meta)
	if err != nil {
		s.logger.Error("token issuance failed", "error", err)
		return nil, fault.ErrAuth
	}
	s.lockout.Success(ctx, email, meta)
	return pair, nil
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta identity.RequestMeta) (*identity.TokenPair, error) {
	pair, id, err := s.guard.Rotate(ctx, rawRefresh, meta)
	if err != nil {
		return nil, err
	}
	s.record(id.Subject, audit.ActionTokenRefreshed, meta, map[string]any{"jti": id.TokenID})
	return pair, nil
}

// Logout revokes the access token, and the refresh token when given, then
// drops the tenant's upstream session. A refresh token is only revoked when
// it was issued to the same subject as the access token.
func (s *AuthService) Logout(ctx context.Context, rawAccess, rawRefresh string, meta identity.RequestMeta) error {
	id, err := s.guard.Revoke(ctx, rawAccess, identity.TokenTypeAccess, "")
	if err != nil {
		return err
	}
	if rawRefresh != "" {
		if _, err := s.guard.Revoke(ctx, rawRefresh, identity.TokenTypeRefresh, id.Subject); err != nil {
			s.logger.Warn("refresh token not revoked on logout", "subject", id.Subject, "error", err)
		}
	}
	if err := s.sessions.Logout(ctx, id.Subject); err != nil {
		s.logger.Warn("tenant session not dropped on logout", "subject", id.Subject, "error", err)
	}
	s.record(id.Subject, audit.ActionLogout, meta, nil)
	return nil
}

func (s *AuthService) record(subject, action string, meta identity.RequestMeta, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Record(audit.Record{
		Subject:    subject,
		Action:     action,
		Severity:   audit.SeverityInfo,
		Endpoint:   meta.Endpoint,
		Method:     meta.Method,
		StatusCode: http.StatusOK,
		ClientIP:   meta.ClientIP,
		UserAgent:  meta.UserAgent,
		RequestID:  meta.RequestID,
		Payload:    payload,
	})
}
