package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/notification"
)

type memRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Duration
	err     error
}

func newMemRevocations() *memRevocations {
	return &memRevocations{entries: map[string]time.Duration{}}
}

func (m *memRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.entries[jti]; ok {
		return false, nil
	}
	m.entries[jti] = ttl
	return true, nil
}

func (m *memRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.entries[jti]
	return ok, nil
}

type captureRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureRecorder) Record(rec audit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.Action)
	}
	return out
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (c *captureNotifier) Publish(ctx context.Context, n notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

var (
	laptop = RequestMeta{UserAgent: "Mozilla/5.0 (X11; Linux)", ClientIP: "203.0.113.7"}
	phone  = RequestMeta{UserAgent: "SecurFlowApp/2.1 (iOS)", ClientIP: "203.0.113.7"}
)

type guardFixture struct {
	guard       *Guard
	revocations *memRevocations
	events      *captureRecorder
	notes       *captureNotifier
	clock       *time.Time
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &guardFixture{
		revocations: newMemRevocations(),
		events:      &captureRecorder{},
		notes:       &captureNotifier{},
		clock:       &now,
	}
	g, err := NewGuard(Config{Secret: []byte("test-secret-0123456789abcdef"), Issuer: "securflow"}, f.revocations,
		WithAuditRecorder(f.events),
		WithNotifier(f.notes),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTimeFunc(func() time.Time { return *f.clock }),
	)
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	f.guard = g
	return f
}

func TestNewGuard_RequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewGuard(Config{}, newMemRevocations()); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewGuard() error = %v, want ErrNoSecret", err)
	}
}

func TestVerify_AcceptsFreshAccessToken(t *testing.T) {
	t.Parallel()

	f := newGuardFixture(t)
	pair, err := f.guard.Issue("user@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if pair.TokenType != "bearer" || pair.ExpiresIn != int64(DefaultAccessTTL/time.Second) {
		t.Errorf("pair = %+v", pair)
	}

	id, err := f.guard.Verify(context.Background(), pair.AccessToken, TokenTypeAccess, laptop)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Subject != "user@x" || id.TokenID == "" || id.IPChanged {
		t.Errorf("identity = %+v", id)
	}
	if len(f.events.actions()) != 0 {
		t.Errorf("unexpected security events: %v", f.events.actions())
	}
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		token      func(f *guardFixture, pair *TokenPair) string
		want       TokenType
		meta       RequestMeta
		setup      func(f *guardFixture)
		wantErr    error
		wantAction string
	}{
		{
			name:    "refresh token used as access token",
			token:   func(_ *guardFixture, p *TokenPair) string { return p.RefreshToken },
			want:    TokenTypeAccess,
			meta:    laptop,
			wantErr: ErrWrongTokenType,
		},
		{
			name:    "access token used as refresh token",
			token:   func(_ *guardFixture, p *TokenPair) string { return p.AccessToken },
			want:    TokenTypeRefresh,
			meta:    laptop,
			wantErr: ErrWrongTokenType,
		},
		{
			name:       "different client fingerprint",
			token:      func(_ *guardFixture, p *TokenPair) string { return p.AccessToken },
			want:       TokenTypeAccess,
			meta:       phone,
			wantErr:    ErrFingerprintMismatch,
			wantAction: audit.ActionFingerprintMismatch,
		},
		{
			name:  "expired token",
			token: func(_ *guardFixture, p *TokenPair) string { return p.AccessToken },
			want:  TokenTypeAccess,
			meta:  laptop,
			setup: func(f *guardFixture) {
				*f.clock = f.clock.Add(DefaultAccessTTL + time.Second)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "tampered signature",
			token:   func(_ *guardFixture, p *TokenPair) string { return p.AccessToken[:len(p.AccessToken)-2] + "xx" },
			want:    TokenTypeAccess,
			meta:    laptop,
			wantErr: ErrInvalidToken,
		},
		{
			name: "foreign signing key",
			token: func(f *guardFixture, _ *TokenPair) string {
				s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
					RegisteredClaims: jwt.RegisteredClaims{
						Subject: "user@x", ID: "j1", Issuer: "securflow",
						ExpiresAt: jwt.NewNumericDate(f.clock.Add(time.Hour)),
					},
					Type:        TokenTypeAccess,
					Fingerprint: Fingerprint(laptop.UserAgent),
				}).SignedString([]byte("other-secret"))
				return s
			},
			want:    TokenTypeAccess,
			meta:    laptop,
			wantErr: ErrInvalidToken,
		},
		{
			name:  "revocation store down fails closed",
			token: func(_ *guardFixture, p *TokenPair) string { return p.AccessToken },
			want:  TokenTypeAccess,
			meta:  laptop,
			setup: func(f *guardFixture) {
				f.revocations.err = errors.New("connection refused")
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newGuardFixture(t)
			pair, err := f.guard.Issue("user@x", laptop)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err = f.guard.Verify(context.Background(), tt.token(f, pair), tt.want, tt.meta)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, fault.ErrAuth) {
				t.Errorf("Verify() error %v does not match fault.ErrAuth", err)
			}
			if strings.Contains(err.Error(), "user@x") {
				t.Errorf("error leaks subject: %v", err)
			}
			if tt.wantAction != "" {
				got := f.events.actions()
				if len(got) != 1 || got[0] != tt.wantAction {
					t.Errorf("events = %v, want [%s]", got, tt.wantAction)
				}
				if f.events.records[0].Severity != audit.SeverityCritical {
					t.Errorf("severity = %s, want CRITICAL", f.events.records[0].Severity)
				}
			}
		})
	}
}

func TestVerify_IPShiftAllowsAndWarns(t *testing.T) {
	t.Parallel()

	f := newGuardFixture(t)
	pair, err := f.guard.Issue("user@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	moved := laptop
	moved.ClientIP = "198.51.100.20"
	id, err := f.guard.Verify(context.Background(), pair.AccessToken, TokenTypeAccess, moved)
	if err != nil {
		t.Fatalf("Verify() error = %v, want IP change allowed", err)
	}
	if !id.IPChanged {
		t.Error("IPChanged = false")
	}
	if got := f.events.actions(); len(got) != 1 || got[0] != audit.ActionIPShift {
		t.Fatalf("events = %v", got)
	}
	rec := f.events.records[0]
	if rec.Severity != audit.SeverityWarning || rec.Payload["original_ip"] != laptop.ClientIP || rec.Payload["current_ip"] != moved.ClientIP {
		t.Errorf("ip shift record = %+v", rec)
	}
	if len(f.notes.sent) != 1 || f.notes.sent[0].Type != notification.TypeWarning || f.notes.sent[0].Recipient != "user@x" {
		t.Errorf("notifications = %+v", f.notes.sent)
	}
}

func TestRotate_ReplayFails(t *testing.T) {
	t.Parallel()

	f := newGuardFixture(t)
	ctx := context.Background()
	pair, err := f.guard.Issue("user@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	next, id, err := f.guard.Rotate(ctx, pair.RefreshToken, laptop)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if id.Subject != "user@x" || next.RefreshToken == pair.RefreshToken {
		t.Errorf("rotation did not mint a new pair")
	}
	ttl := f.revocations.entries[id.TokenID]
	if ttl != DefaultRefreshTTL {
		t.Errorf("revocation ttl = %v, want remaining lifetime %v", ttl, DefaultRefreshTTL)
	}

	// Replay long before nominal expiry.
	*f.clock = f.clock.Add(time.Minute)
	if _, _, err := f.guard.Rotate(ctx, pair.RefreshToken, laptop); !errors.Is(err, ErrTokenRevoked) || !errors.Is(err, fault.ErrAuth) {
		t.Fatalf("replayed Rotate() error = %v, want ErrTokenRevoked", err)
	}
	if got := f.events.actions(); len(got) != 1 || got[0] != audit.ActionTokenReplay {
		t.Errorf("events = %v, want replay alert", got)
	}

	if _, _, err := f.guard.Rotate(ctx, next.RefreshToken, laptop); err != nil {
		t.Errorf("Rotate() with the new refresh token error = %v", err)
	}
}

func TestRotate_ConcurrentOnlyOneWins(t *testing.T) {
	t.Parallel()

	f := newGuardFixture(t)
	pair, err := f.guard.Issue("user@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = f.guard.Rotate(context.Background(), pair.RefreshToken, laptop)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("Rotate() error = %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful rotations = %d, want 1", wins)
	}
}

func TestRevoke_Logout(t *testing.T) {
	t.Parallel()

	f := newGuardFixture(t)
	ctx := context.Background()
	pair, err := f.guard.Issue("user@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	*f.clock = f.clock.Add(10 * time.Minute)
	id, err := f.guard.Revoke(ctx, pair.AccessToken, TokenTypeAccess, "")
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if got := f.revocations.entries[id.TokenID]; got != DefaultAccessTTL-10*time.Minute {
		t.Errorf("revocation ttl = %v, want %v", got, DefaultAccessTTL-10*time.Minute)
	}
	if _, err := f.guard.Verify(ctx, pair.AccessToken, TokenTypeAccess, laptop); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Verify() after logout error = %v, want ErrTokenRevoked", err)
	}
	if _, err := f.guard.Revoke(ctx, "not-a-jwt", TokenTypeAccess, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Revoke(garbage) error = %v, want ErrInvalidToken", err)
	}
}

func TestRevoke_ChecksTypeAndSubject(t *testing.T) {
	t.Parallel()

	f := newGuardFixture(t)
	ctx := context.Background()
	mine, err := f.guard.Issue("user@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	theirs, err := f.guard.Issue("other@x", laptop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name    string
		raw     string
		want    TokenType
		subject string
		err     error
	}{
		{name: "access presented as refresh", raw: mine.AccessToken, want: TokenTypeRefresh, subject: "user@x", err: ErrWrongTokenType},
		{name: "refresh presented as access", raw: mine.RefreshToken, want: TokenTypeAccess, err: ErrWrongTokenType},
		{name: "another subject's refresh", raw: theirs.RefreshToken, want: TokenTypeRefresh, subject: "user@x", err: ErrSubjectMismatch},
	}
	for _, tt := range tests {
		if _, err := f.guard.Revoke(ctx, tt.raw, tt.want, tt.subject); !errors.Is(err, tt.err) {
			t.Errorf("%s: Revoke() error = %v, want %v", tt.name, err, tt.err)
		}
	}
	if len(f.revocations.entries) != 0 {
		t.Errorf("rejected tokens were revoked: %v", f.revocations.entries)
	}

	if _, err := f.guard.Verify(ctx, theirs.RefreshToken, TokenTypeRefresh, laptop); err != nil {
		t.Errorf("other subject's refresh token no longer verifies: %v", err)
	}
	if _, err := f.guard.Revoke(ctx, mine.RefreshToken, TokenTypeRefresh, "user@x"); err != nil {
		t.Errorf("Revoke(own refresh) error = %v", err)
	}
}
