package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/ajax"
	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
)

// Upstream performs raw calls against the upstream API.
type Upstream interface {
	Do(ctx context.Context, method, path, sessionToken string, body any) (*ajax.Response, error)
}

// TenantSessions resolves upstream sessions for tenants.
type TenantSessions interface {
	GetOrRefresh(ctx context.Context, tenantID string) (string, error)
	Refresh(ctx context.Context, tenantID string) (string, error)
	UpstreamUserID(ctx context.Context, tenantID string) (string, error)
}

var successBody = json.RawMessage(`{"success":true}`)

// GatewayClient issues upstream calls on behalf of a tenant. It attaches the
// tenant's session token and recovers once from an expired session.
type GatewayClient struct {
	upstream Upstream
	sessions TenantSessions
	logger   *slog.Logger
}

// NewGatewayClient creates a gateway client.
func NewGatewayClient(upstream Upstream, sessions TenantSessions, logger *slog.Logger) *GatewayClient {
	return &GatewayClient{upstream: upstream, sessions: sessions, logger: logger}
}

// Request calls the upstream as tenant and returns the JSON body.
//
// A 401 triggers one session refresh and one retry; a second 401 is
// fault.ErrAuth. Other non-2xx statuses become *fault.UpstreamError. A 204 or
// empty body yields {"success":true}.
func (g *GatewayClient) Request(ctx context.Context, tenant, method, path string, body any) (json.RawMessage, error) {
	token, err := g.sessions.GetOrRefresh(ctx, tenant)
	if err != nil {
		return nil, err
	}

	resp, err := g.upstream.Do(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		g.logger.Debug("upstream session rejected, refreshing", "tenant", tenant)
		token, err = g.sessions.Refresh(ctx, tenant)
		if err != nil {
			return nil, err
		}
		resp, err = g.upstream.Do(ctx, method, path, token, body)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			return nil, fault.ErrAuth
		}
	}

	if !resp.OK() {
		g.logger.Debug("upstream error response",
			"tenant", tenant,
			"method", method,
			"status", resp.Status,
			"body", string(resp.Body),
		)
		return nil, &fault.UpstreamError{Status: resp.Status}
	}
	if resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		return successBody, nil
	}
	if !json.Valid(resp.Body) {
		g.logger.Warn("upstream returned non-JSON body", "tenant", tenant, "method", method, "status", resp.Status)
		return nil, &fault.UpstreamError{Status: http.StatusBadGateway}
	}
	return json.RawMessage(resp.Body), nil
}

// Decode calls Request and unmarshals the body into a generic JSON value.
func (g *GatewayClient) Decode(ctx context.Context, tenant, method, path string, body any) (any, error) {
	raw, err := g.Request(ctx, tenant, method, path, body)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Join(&fault.UpstreamError{Status: http.StatusBadGateway}, err)
	}
	return v, nil
}

// UpstreamUserID returns the tenant's upstream user id.
func (g *GatewayClient) UpstreamUserID(ctx context.Context, tenant string) (string, error) {
	return g.sessions.UpstreamUserID(ctx, tenant)
}
