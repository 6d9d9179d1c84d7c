package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/keyspace"
	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
	"github.com/virapa/AjaxSecurFlow/internal/domain/cache"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
)

func TestSessionStore_SaveLoadDelete(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	kv := NewKV(WithClock(clock.Now))
	store := NewSessionStore(kv)
	ctx := context.Background()

	if _, err := store.Load(ctx, "a@x"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Load() on empty store error = %v", err)
	}

	err := store.Save(ctx, &session.TenantSession{
		TenantID: "a@x", SessionToken: "tok", RefreshToken: "ref", UpstreamUserID: "U1",
		SessionTTL: 840 * time.Second, RefreshTTL: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clock.Advance(900 * time.Second)
	got, err := store.Load(ctx, "a@x")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.SessionToken != "" || got.RefreshToken != "ref" || got.UpstreamUserID != "U1" {
		t.Errorf("after token expiry Load() = %+v", got)
	}

	// A refresh without a new refresh token keeps the old one.
	_ = store.Save(ctx, &session.TenantSession{TenantID: "a@x", SessionToken: "tok2", UpstreamUserID: "U1", SessionTTL: time.Minute})
	got, _ = store.Load(ctx, "a@x")
	if got.SessionToken != "tok2" || got.RefreshToken != "ref" {
		t.Errorf("partial Save() result = %+v", got)
	}

	_ = store.Delete(ctx, "a@x")
	if _, err := store.Load(ctx, "a@x"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Load() after Delete error = %v", err)
	}
}

func TestCacheBackend_WithCache(t *testing.T) {
	t.Parallel()

	c := cache.New(NewCacheBackend(NewKV()), nil)
	ctx := context.Background()

	_ = c.Set(ctx, cache.HubKey("t", "h1"), map[string]any{"id": "h1"}, time.Minute)
	_ = c.Set(ctx, cache.DeviceKey("t", "h1", "d1"), map[string]any{"id": "d1"}, time.Minute)
	var v map[string]any
	if !c.Get(ctx, cache.HubKey("t", "h1"), &v) || v["id"] != "h1" {
		t.Fatalf("Get() = %v", v)
	}
	c.InvalidateHub(ctx, "t", "h1")
	if c.Get(ctx, cache.DeviceKey("t", "h1", "d1"), &v) {
		t.Error("device entry survived InvalidateHub")
	}
}

func TestWindowStore_ResetIsCompareAndSet(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewWindowStore(NewKV(WithClock(clock.Now)))
	ctx := context.Background()
	now := clock.Now()

	if _, ok, _ := store.WindowStart(ctx); ok {
		t.Fatal("WindowStart() reported a window on an empty store")
	}
	if ok, _ := store.ResetWindow(ctx, time.Time{}, now, 2*time.Minute); !ok {
		t.Fatal("first reset lost")
	}
	if ok, _ := store.ResetWindow(ctx, time.Time{}, now, 2*time.Minute); ok {
		t.Fatal("second reset from the same observation won")
	}
	start, ok, err := store.WindowStart(ctx)
	if err != nil || !ok || !start.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("WindowStart() = %v, %v, %v", start, ok, err)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	later := now.Add(time.Minute)
	if ok, _ := store.ResetWindow(ctx, start, later, 2*time.Minute); !ok {
		t.Error("reset with current observation lost")
	}
	if ok, _ := store.ResetWindow(ctx, start, later, 2*time.Minute); ok {
		t.Error("reset with stale observation won")
	}

	n, _ := store.Increment(ctx)
	if n != 2 {
		t.Errorf("Increment() = %d, want 2", n)
	}
	n, _ = store.Decrement(ctx)
	if n != 1 {
		t.Errorf("Decrement() = %d, want 1", n)
	}
}

func TestWindowStore_ConcurrentResetsSingleWinner(t *testing.T) {
	t.Parallel()

	store := NewWindowStore(NewKV())
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.ResetWindow(ctx, time.Time{}, now, time.Minute); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("winning resets = %d, want 1", wins)
	}
}

func TestRevocationStore(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewRevocationStore(NewKV(WithClock(clock.Now)))
	ctx := context.Background()

	first, _ := store.Revoke(ctx, "j1", time.Minute)
	again, _ := store.Revoke(ctx, "j1", time.Minute)
	if !first || again {
		t.Errorf("Revoke() = %v then %v, want true then false", first, again)
	}
	if revoked, _ := store.IsRevoked(ctx, "j1"); !revoked {
		t.Error("IsRevoked() = false")
	}
	clock.Advance(time.Minute)
	if revoked, _ := store.IsRevoked(ctx, "j1"); revoked {
		t.Error("revocation outlived its ttl")
	}
}

func TestAttemptStore(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	kv := NewKV(WithClock(clock.Now))
	store := NewAttemptStore(kv)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if n, _ := store.RecordFailure(ctx, "1.2.3.4", 24*time.Hour); n != i {
			t.Errorf("RecordFailure() = %d, want %d", n, i)
		}
	}
	if ttl, _ := kv.TTL(keyspace.FailedAttempts("1.2.3.4")); ttl != 24*time.Hour {
		t.Errorf("failure window ttl = %v, want 24h", ttl)
	}
	_ = store.Lock(ctx, "1.2.3.4", 15*time.Minute)
	clock.Advance(5 * time.Minute)
	if left, _ := store.LockRemaining(ctx, "1.2.3.4"); left != 10*time.Minute {
		t.Errorf("LockRemaining() = %v, want 10m", left)
	}
	_ = store.Reset(ctx, "1.2.3.4")
	if n, _ := store.RecordFailure(ctx, "1.2.3.4", time.Hour); n != 1 {
		t.Errorf("RecordFailure() after Reset = %d, want 1", n)
	}
}

func TestKeyStore(t *testing.T) {
	t.Parallel()

	store := NewKeyStore(
		&auth.OperatorKey{Hash: "sha256:" + strings.ToUpper(auth.HashKey("k1")), Operator: auth.Operator{Name: "ops", Roles: []auth.Role{auth.RoleAdmin}}},
	)
	v := auth.NewKeyVerifier(store)
	op, err := v.Verify(context.Background(), "k1")
	if err != nil || op.Name != "ops" {
		t.Fatalf("Verify() = %+v, %v", op, err)
	}
	op.Roles[0] = auth.RoleViewer
	again, _ := v.Verify(context.Background(), "k1")
	if !again.HasRole(auth.RoleAdmin) {
		t.Error("caller mutation leaked into the store")
	}
}

func TestAuditStore_RingAndQuery(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	store := NewAuditStore(buf, 3)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, sev := range []audit.Severity{audit.SeverityInfo, audit.SeverityCritical, audit.SeverityWarning, audit.SeverityInfo, audit.SeverityCritical} {
		rec := audit.Record{Timestamp: base.Add(time.Duration(i) * time.Minute), Subject: "a@x", Action: "A", Severity: sev, RequestID: string(rune('a' + i))}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("wrote %d lines, want 5", len(lines))
	}
	var decoded audit.Record
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil || decoded.RequestID != "a" {
		t.Errorf("first line = %q, %v", lines[0], err)
	}

	all, _ := store.Query(ctx, audit.Filter{})
	if len(all) != 3 || all[0].RequestID != "e" || all[2].RequestID != "c" {
		t.Errorf("Query() = %+v, want e,d,c", all)
	}
	critical, _ := store.Query(ctx, audit.Filter{MinSeverity: audit.SeverityCritical})
	if len(critical) != 1 || critical[0].RequestID != "e" {
		t.Errorf("critical Query() = %+v", critical)
	}
	limited, _ := store.Query(ctx, audit.Filter{Limit: 1, Since: base.Add(3 * time.Minute)})
	if len(limited) != 1 {
		t.Errorf("limited Query() = %+v", limited)
	}
}
