package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
	"github.com/virapa/AjaxSecurFlow/internal/domain/hub"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
	"github.com/virapa/AjaxSecurFlow/internal/domain/notification"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
	"github.com/virapa/AjaxSecurFlow/internal/service"
)

const maxBodyBytes = 1 << 20

// Authenticator runs the client-facing login, refresh and logout flows.
type Authenticator interface {
	Login(ctx context.Context, email, password string, meta identity.RequestMeta) (*identity.TokenPair, error)
	Refresh(ctx context.Context, rawRefresh string, meta identity.RequestMeta) (*identity.TokenPair, error)
	Logout(ctx context.Context, rawAccess, rawRefresh string, meta identity.RequestMeta) error
}

// Hubs serves the hub resources of one tenant.
type Hubs interface {
	Hubs(ctx context.Context, tenant string) ([]hub.Record, error)
	Hub(ctx context.Context, tenant, hubID string) (hub.Record, error)
	Devices(ctx context.Context, tenant, hubID string) ([]hub.Record, error)
	Device(ctx context.Context, tenant, hubID, deviceID string) (hub.Record, error)
	Rooms(ctx context.Context, tenant, hubID string) ([]hub.Record, error)
	Room(ctx context.Context, tenant, hubID, roomID string) (hub.Record, error)
	Groups(ctx context.Context, tenant, hubID string) ([]hub.Record, error)
	Logs(ctx context.Context, tenant, hubID string, limit, offset int) (hub.EventPage, error)
	SetArmState(ctx context.Context, tenant string, req service.ArmRequest) (any, error)
	UserInfo(ctx context.Context, tenant string) (hub.Record, error)
	InvalidateHub(ctx context.Context, tenant, hubID string)
	InvalidateTenant(ctx context.Context, tenant string) int64
}

// Passthrough forwards arbitrary calls to the upstream API.
type Passthrough interface {
	Decode(ctx context.Context, tenant, method, path string, body any) (any, error)
	UpstreamUserID(ctx context.Context, tenant string) (string, error)
}

// AdmissionStatus reports the shared outbound window.
type AdmissionStatus interface {
	Status(ctx context.Context) (*ratelimit.Status, error)
}

// CacheStats reports cached key counts per resource.
type CacheStats interface {
	Stats(ctx context.Context) (map[string]int64, error)
}

// Inbox reads and acknowledges tenant notifications.
type Inbox interface {
	Unread(ctx context.Context, recipient string, limit int) ([]notification.Notification, error)
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
}

// API is the client and operator HTTP surface.
type API struct {
	auth      Authenticator
	hubs      Hubs
	proxy     Passthrough
	tokens    TokenVerifier
	operators OperatorVerifier
	events    audit.Recorder
	admission AdmissionStatus
	cache     CacheStats
	audit     audit.QueryStore
	inbox     Inbox
	health    *HealthChecker
	metrics   *Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	validate  *validator.Validate
	trusted   []netip.Prefix
}

// Option configures an API.
type Option func(*API)

// WithOperators enables the /admin endpoints behind operator keys.
// Failed key checks are recorded to events, which may be nil.
func WithOperators(v OperatorVerifier, events audit.Recorder) Option {
	return func(a *API) {
		a.operators = v
		a.events = events
	}
}

// WithAdmissionStatus exposes GET /admin/admission.
func WithAdmissionStatus(s AdmissionStatus) Option {
	return func(a *API) { a.admission = s }
}

// WithCacheStats exposes GET /admin/cache/stats.
func WithCacheStats(s CacheStats) Option {
	return func(a *API) { a.cache = s }
}

// WithAuditQuery exposes GET /admin/audit.
func WithAuditQuery(q audit.QueryStore) Option {
	return func(a *API) { a.audit = q }
}

// WithInbox exposes the notification endpoints.
func WithInbox(i Inbox) Option {
	return func(a *API) { a.inbox = i }
}

// WithHealth serves /health.
func WithHealth(h *HealthChecker) Option {
	return func(a *API) { a.health = h }
}

// WithMetrics records request metrics and serves /metrics from gatherer.
func WithMetrics(m *Metrics, gatherer prometheus.Gatherer) Option {
	return func(a *API) {
		a.metrics = m
		a.gatherer = gatherer
	}
}

// WithTrustedProxies sets the peers whose forwarding headers name the
// client. Without it the peer address is always the client.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trusted = prefixes
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// NewAPI creates the API.
func NewAPI(authn Authenticator, hubs Hubs, proxy Passthrough, tokens TokenVerifier, opts ...Option) *API {
	a := &API{
		auth:     authn,
		hubs:     hubs,
		proxy:    proxy,
		tokens:   tokens,
		logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed handler wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	user := RequireIdentity(a.tokens)

	mux.HandleFunc("POST /api/v1/auth/token", a.handleToken)
	mux.HandleFunc("POST /api/v1/auth/refresh", a.handleRefresh)
	mux.Handle("POST /api/v1/auth/logout", user(http.HandlerFunc(a.handleLogout)))
	mux.Handle("GET /api/v1/me", user(http.HandlerFunc(a.handleMe)))

	mux.Handle("GET /api/v1/hubs", user(http.HandlerFunc(a.handleHubs)))
	mux.Handle("GET /api/v1/hubs/{hub}", user(http.HandlerFunc(a.handleHub)))
	mux.Handle("GET /api/v1/hubs/{hub}/devices", user(http.HandlerFunc(a.handleDevices)))
	mux.Handle("GET /api/v1/hubs/{hub}/devices/{device}", user(http.HandlerFunc(a.handleDevice)))
	mux.Handle("GET /api/v1/hubs/{hub}/rooms", user(http.HandlerFunc(a.handleRooms)))
	mux.Handle("GET /api/v1/hubs/{hub}/rooms/{room}", user(http.HandlerFunc(a.handleRoom)))
	mux.Handle("GET /api/v1/hubs/{hub}/groups", user(http.HandlerFunc(a.handleGroups)))
	mux.Handle("GET /api/v1/hubs/{hub}/logs", user(http.HandlerFunc(a.handleLogs)))
	mux.Handle("POST /api/v1/hubs/{hub}/arm-state", user(http.HandlerFunc(a.handleArmState)))

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		mux.Handle(method+" /api/v1/proxy/{path...}", user(http.HandlerFunc(a.handleProxy)))
	}

	if a.inbox != nil {
		mux.Handle("GET /api/v1/notifications", user(http.HandlerFunc(a.handleNotifications)))
		mux.Handle("POST /api/v1/notifications/mark-all-read", user(http.HandlerFunc(a.handleMarkAllRead)))
		mux.Handle("POST /api/v1/notifications/read-all", user(http.HandlerFunc(a.handleMarkAllRead)))
	}

	if a.operators != nil {
		viewer := RequireOperator(a.operators, a.events, auth.RoleAdmin, auth.RoleViewer)
		admin := RequireOperator(a.operators, a.events, auth.RoleAdmin)
		if a.admission != nil {
			mux.Handle("GET /admin/admission", viewer(http.HandlerFunc(a.handleAdmission)))
		}
		if a.cache != nil {
			mux.Handle("GET /admin/cache/stats", viewer(http.HandlerFunc(a.handleCacheStats)))
		}
		mux.Handle("DELETE /admin/cache/tenants/{tenant}", admin(http.HandlerFunc(a.handleInvalidateTenant)))
		mux.Handle("DELETE /admin/cache/tenants/{tenant}/hubs/{hub}", admin(http.HandlerFunc(a.handleInvalidateHub)))
		if a.audit != nil {
			mux.Handle("GET /admin/audit", viewer(http.HandlerFunc(a.handleAuditQuery)))
		}
	}

	if a.health != nil {
		mux.Handle("GET /health", a.health.Handler())
	}
	if a.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	if a.metrics != nil {
		h = MetricsMiddleware(a.metrics)(h)
	}
	h = SecurityHeaders(h)
	h = RealIPMiddleware(a.trusted)(h)
	h = RequestIDMiddleware(a.logger)(h)
	return RecoverMiddleware(h)
}

type loginRequest struct {
	Username string `json:"username" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	*identity.TokenPair
	UserID string `json:"userId,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type armStateRequest struct {
	ArmState *int   `json:"armState" validate:"required"`
	GroupID  string `json:"groupId" validate:"omitempty,max=64"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	pair, err := a.auth.Login(r.Context(), req.Username, req.Password, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := loginResponse{TokenPair: pair}
	if id, err := a.proxy.UpstreamUserID(r.Context(), req.Username); err == nil {
		resp.UserID = id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !a.decode(w, r, &req, true) {
		return
	}
	if err := a.auth.Logout(r.Context(), bearerToken(r), req.RefreshToken, requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, http.StatusOK, "Successfully logged out")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	tenant := IdentityFromContext(r.Context()).Subject
	resp := map[string]any{"email": tenant, "ajax_profile": nil}
	profile, err := a.hubs.UserInfo(r.Context(), tenant)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("could not fetch upstream profile", "error", err)
	} else {
		resp["ajax_profile"] = profile
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHubs(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Hubs(r.Context(), tenantOf(r)))
}

func (a *API) handleHub(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Hub(r.Context(), tenantOf(r), r.PathValue("hub")))
}

func (a *API) handleDevices(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Devices(r.Context(), tenantOf(r), r.PathValue("hub")))
}

func (a *API) handleDevice(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Device(r.Context(), tenantOf(r), r.PathValue("hub"), r.PathValue("device")))
}

func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Rooms(r.Context(), tenantOf(r), r.PathValue("hub")))
}

func (a *API) handleRoom(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Room(r.Context(), tenantOf(r), r.PathValue("hub"), r.PathValue("room")))
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	respond(w, r)(a.hubs.Groups(r.Context(), tenantOf(r), r.PathValue("hub")))
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 20, 1, 100)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0, 0, -1)
	if !ok {
		return
	}
	respond(w, r)(a.hubs.Logs(r.Context(), tenantOf(r), r.PathValue("hub"), limit, offset))
}

func (a *API) handleArmState(w http.ResponseWriter, r *http.Request) {
	var req armStateRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	_, err := a.hubs.SetArmState(r.Context(), tenantOf(r), service.ArmRequest{
		HubID:   r.PathValue("hub"),
		State:   hub.ArmState(*req.ArmState),
		GroupID: req.GroupID,
		Meta:    requestMeta(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Command sent successfully"})
}

func (a *API) handleProxy(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.TrimLeft(r.PathValue("path"), "/")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	var body any
	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		var obj map[string]any
		if len(raw) > 0 && json.Unmarshal(raw, &obj) == nil {
			body = obj
		}
	}
	respond(w, r)(a.proxy.Decode(r.Context(), tenantOf(r), r.Method, path, body))
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50, 1, 100)
	if !ok {
		return
	}
	items, err := a.inbox.Unread(r.Context(), tenantOf(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.inbox.MarkAllRead(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

type admissionResponse struct {
	*ratelimit.Status
	WindowRemainingSeconds float64 `json:"window_remaining_seconds"`
}

func (a *API) handleAdmission(w http.ResponseWriter, r *http.Request) {
	st, err := a.admission.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admissionResponse{Status: st, WindowRemainingSeconds: st.WindowRemaining.Seconds()})
}

func (a *API) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.cache.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleInvalidateTenant(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	n := a.hubs.InvalidateTenant(r.Context(), tenant)
	LoggerFromContext(r.Context()).Info("tenant cache invalidated", "tenant", tenant, "keys", n)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

func (a *API) handleInvalidateHub(w http.ResponseWriter, r *http.Request) {
	a.hubs.InvalidateHub(r.Context(), r.PathValue("tenant"), r.PathValue("hub"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Subject:     q.Get("subject"),
		MinSeverity: audit.Severity(strings.ToUpper(q.Get("severity"))),
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	limit, ok := queryInt(w, r, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	filter.Limit = limit

	records, err := a.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be an email address", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// queryInt parses an integer query parameter within [lo, hi]. hi < 0 means
// no upper bound.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		if hi >= 0 {
			writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s must be between %d and %d", name, lo, hi))
		} else {
			writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s must be at least %d", name, lo))
		}
		return 0, false
	}
	return n, true
}

func tenantOf(r *http.Request) string {
	return IdentityFromContext(r.Context()).Subject
}

// respond writes v as JSON or maps err.
func respond(w http.ResponseWriter, r *http.Request) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
