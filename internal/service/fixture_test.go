package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/ajax"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/memory"
	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
)

const (
	testTenant = "owner@example.com"
	testUserID = "U1"
)

// fakeUpstream serves canned responses keyed by "METHOD /path?query" and
// counts requests per key.
type fakeUpstream struct {
	mu        sync.Mutex
	routes    map[string]http.HandlerFunc
	calls     map[string]int
	lastBody  map[string][]byte
	srv       *httptest.Server
	validTok  string
	refreshTo string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		routes:    map[string]http.HandlerFunc{},
		calls:     map[string]int{},
		lastBody:  map[string][]byte{},
		validTok:  "tok1",
		refreshTo: "tok2",
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.RequestURI()
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls[key]++
	f.lastBody[key] = body
	h, ok := f.routes[key]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeUpstream) handle(key string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = h
}

// handleJSON serves body with status to requests carrying the current
// session token and 401 to everything else.
func (f *fakeUpstream) handleJSON(key string, status int, body string) {
	f.handle(key, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := f.validTok
		f.mu.Unlock()
		if r.Header.Get("X-Session-Token") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

// rotateOnRefresh makes /refresh hand out refreshTo and accept it afterwards.
func (f *fakeUpstream) rotateOnRefresh() {
	f.handle("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.validTok = f.refreshTo
		tok := f.refreshTo
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"sessionToken": tok, "refreshToken": "r2", "expires_in": 900})
	})
}

func (f *fakeUpstream) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeUpstream) body(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody[key]
}

type captureEvents struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureEvents) Record(rec audit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureEvents) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.Action)
	}
	return out
}

func (c *captureEvents) last() audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return audit.Record{}
	}
	return c.records[len(c.records)-1]
}

type gatewayFixture struct {
	upstream *fakeUpstream
	kv       *memory.KV
	sessions *session.Service
	store    *memory.SessionStore
	client   *ajax.Client
	gw       *GatewayClient
}

// newGatewayFixture wires a gateway client against a fake upstream with a
// live session for testTenant using token "tok1".
func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	up := newFakeUpstream(t)
	kv := memory.NewKV()
	store := memory.NewSessionStore(kv)
	client := ajax.NewClient(up.srv.URL, "api-key", ajax.WithLogger(discardLogger()))
	sessions := session.NewService(store, client, session.Config{}, discardLogger())

	err := store.Save(context.Background(), &session.TenantSession{
		TenantID:       testTenant,
		SessionToken:   "tok1",
		RefreshToken:   "r1",
		UpstreamUserID: testUserID,
		SessionTTL:     time.Minute,
		RefreshTTL:     time.Hour,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	return &gatewayFixture{
		upstream: up,
		kv:       kv,
		sessions: sessions,
		store:    store,
		client:   client,
		gw:       NewGatewayClient(client, sessions, discardLogger()),
	}
}
