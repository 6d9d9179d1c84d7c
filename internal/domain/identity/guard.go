package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/notification"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config holds token issuance settings.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithAuditRecorder sets where security events go.
func WithAuditRecorder(r audit.Recorder) GuardOption {
	return func(g *Guard) {
		g.events = r
	}
}

// WithNotifier sets the publisher for soft user notifications.
func WithNotifier(p notification.Publisher) GuardOption {
	return func(g *Guard) {
		g.notifier = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithTimeFunc overrides the clock. Used in tests.
func WithTimeFunc(now func() time.Time) GuardOption {
	return func(g *Guard) {
		g.now = now
	}
}

// Guard issues and verifies identity tokens.
type Guard struct {
	cfg         Config
	revocations RevocationStore
	events      audit.Recorder
	notifier    notification.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewGuard creates a token guard.
func NewGuard(cfg Config, revocations RevocationStore, opts ...GuardOption) (*Guard, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	g := &Guard{
		cfg:         cfg,
		revocations: revocations,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue mints an access/refresh pair for subject, bound to the client in meta.
func (g *Guard) Issue(subject string, meta RequestMeta) (*TokenPair, error) {
	access, err := g.sign(subject, TokenTypeAccess, g.cfg.AccessTTL, meta)
	if err != nil {
		return nil, err
	}
	refresh, err := g.sign(subject, TokenTypeRefresh, g.cfg.RefreshTTL, meta)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(g.cfg.AccessTTL / time.Second),
	}, nil
}

func (g *Guard) sign(subject string, typ TokenType, ttl time.Duration, meta RequestMeta) (string, error) {
	now := g.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    g.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:        typ,
		Fingerprint: Fingerprint(meta.UserAgent),
		IssuerIP:    meta.ClientIP,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.cfg.Secret)
}

// parse checks signature and expiry only.
func (g *Guard) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	}
	if g.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.cfg.Issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return g.cfg.Secret, nil
	}, opts...)
	if err != nil || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify checks raw for the expected use. Order: signature and expiry, type,
// revocation, fingerprint. A changed client IP is allowed but reported.
// Revocation store failures reject the token.
func (g *Guard) Verify(ctx context.Context, raw string, want TokenType, meta RequestMeta) (*Identity, error) {
	claims, err := g.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}

	revoked, err := g.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		g.logger.Error("revocation lookup failed, rejecting token", "error", err)
		return nil, ErrStoreUnavailable
	}
	if revoked {
		if want == TokenTypeRefresh {
			g.record(claims.Subject, audit.ActionTokenReplay, audit.SeverityCritical, 401, meta, map[string]any{"jti": claims.ID})
		}
		return nil, ErrTokenRevoked
	}

	if subtle.ConstantTimeCompare([]byte(claims.Fingerprint), []byte(Fingerprint(meta.UserAgent))) != 1 {
		g.record(claims.Subject, audit.ActionFingerprintMismatch, audit.SeverityCritical, 401, meta, map[string]any{"token_type": string(want)})
		return nil, ErrFingerprintMismatch
	}

	id := &Identity{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		Type:      claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuerIP != "" && meta.ClientIP != "" && claims.IssuerIP != meta.ClientIP {
		id.IPChanged = true
		g.record(claims.Subject, audit.ActionIPShift, audit.SeverityWarning, 200, meta, map[string]any{
			"original_ip": claims.IssuerIP,
			"current_ip":  meta.ClientIP,
		})
		g.notify(ctx, notification.Notification{
			Recipient: claims.Subject,
			Title:     "New IP address detected",
			Message:   "Your account was used from a new IP address (" + meta.ClientIP + "). If this was not you, review your security settings.",
			Type:      notification.TypeWarning,
			CreatedAt: g.now().UTC(),
		})
	}
	return id, nil
}

// Rotate verifies a refresh token, revokes it, and mints a fresh pair. A
// refresh token can be rotated exactly once; replays fail with
// ErrTokenRevoked.
func (g *Guard) Rotate(ctx context.Context, rawRefresh string, meta RequestMeta) (*TokenPair, *Identity, error) {
	id, err := g.Verify(ctx, rawRefresh, TokenTypeRefresh, meta)
	if err != nil {
		return nil, nil, err
	}
	first, err := g.revoke(ctx, id.TokenID, id.ExpiresAt)
	if err != nil {
		return nil, nil, err
	}
	if !first {
		// Lost a race against a concurrent rotation of the same token.
		g.record(id.Subject, audit.ActionTokenReplay, audit.SeverityCritical, 401, meta, map[string]any{"jti": id.TokenID})
		return nil, nil, ErrTokenRevoked
	}
	pair, err := g.Issue(id.Subject, meta)
	if err != nil {
		return nil, nil, err
	}
	return pair, id, nil
}

// Revoke puts a still-valid token of type want on the revocation list for
// the rest of its lifetime. A non-empty subject must match the token's.
// Expired tokens are ignored.
func (g *Guard) Revoke(ctx context.Context, raw string, want TokenType, subject string) (*Identity, error) {
	claims, err := g.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	if subject != "" && claims.Subject != subject {
		return nil, ErrSubjectMismatch
	}
	if _, err := g.revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}
	return &Identity{Subject: claims.Subject, TokenID: claims.ID, Type: claims.Type, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (g *Guard) revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(g.now())
	if ttl <= 0 {
		return true, nil
	}
	first, err := g.revocations.Revoke(ctx, jti, ttl)
	if err != nil {
		g.logger.Error("token revocation failed", "error", err)
		return false, ErrStoreUnavailable
	}
	return first, nil
}

func (g *Guard) record(subject, action string, sev audit.Severity, status int, meta RequestMeta, payload map[string]any) {
	g.logger.Log(context.Background(), severityLevel(sev), "security event",
		"action", action, "subject", subject, "client_ip", meta.ClientIP)
	if g.events == nil {
		return
	}
	g.events.Record(audit.Record{
		Timestamp:  g.now().UTC(),
		Subject:    subject,
		Action:     action,
		Severity:   sev,
		Endpoint:   meta.Endpoint,
		Method:     meta.Method,
		StatusCode: status,
		ClientIP:   meta.ClientIP,
		UserAgent:  meta.UserAgent,
		RequestID:  meta.RequestID,
		Payload:    payload,
	})
}

func (g *Guard) notify(ctx context.Context, n notification.Notification) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Publish(ctx, n); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("notification delivery failed", "recipient", n.Recipient, "error", err)
	}
}

func severityLevel(s audit.Severity) slog.Level {
	switch s {
	case audit.SeverityCritical:
		return slog.LevelError
	case audit.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
