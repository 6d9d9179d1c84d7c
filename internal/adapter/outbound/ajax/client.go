// Package ajax is the HTTP client for the upstream security-hub API. It
// attaches the shared API key, passes every call through the admission
// gate, and implements the credential exchanges for session.Authenticator.
package ajax

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
)

const (
	// DefaultBaseURL is the public upstream API root.
	DefaultBaseURL = "https://api.ajax.systems/api"
	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 15 * time.Second

	// maxResponseBodySize caps how much of an upstream body is read.
	maxResponseBodySize = 10 * 1024 * 1024

	headerAPIKey       = "X-Api-Key"
	headerSessionToken = "X-Session-Token"
)

// Admitter gates outbound calls against the shared quota.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Response is a raw upstream response.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client talks to the upstream API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	admission  Admitter
	logger     *slog.Logger
	tracer     trace.Tracer
	observe    func(method string, status int, elapsed time.Duration)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 && c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithAdmission gates every call through a.
func WithAdmission(a Admitter) ClientOption {
	return func(c *Client) {
		c.admission = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracerProvider sets where call spans go. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		c.tracer = tp.Tracer("github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/ajax")
	}
}

// WithCallObserver registers a callback invoked after every call that got a
// response or failed in transport (status 0).
func WithCallObserver(fn func(method string, status int, elapsed time.Duration)) ClientOption {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient creates an upstream client for baseURL authenticated by apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/ajax"),
		observe: func(string, int, time.Duration) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs one upstream call. path is relative to the base URL and may
// carry a query string. sessionToken is omitted when empty; body is JSON
// encoded when non-nil. Any HTTP status is returned as a Response; errors
// are admission rejections or fault.ErrUpstreamUnreachable.
func (c *Client) Do(ctx context.Context, method, path, sessionToken string, body any) (*Response, error) {
	if c.admission != nil {
		if err := c.admission.Admit(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode upstream request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	ctx, span := c.tracer.Start(ctx, "ajax "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", stripQuery(path)),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionToken != "" {
		req.Header.Set(headerSessionToken, sessionToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.logger.Warn("upstream call failed", "method", method, "path", stripQuery(path), "error", err)
		return nil, fmt.Errorf("%w: %v", fault.ErrUpstreamUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	elapsed := time.Since(start)
	c.observe(method, resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("%w: read body: %v", fault.ErrUpstreamUnreachable, err)
	}
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	c.logger.Debug("upstream call",
		"method", method,
		"path", stripQuery(path),
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
