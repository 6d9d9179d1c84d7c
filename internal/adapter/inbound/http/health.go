package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// AuditQueue reports the audit writer's backlog.
type AuditQueue interface {
	QueueDepth() int
	QueueCapacity() int
	DroppedRecords() int64
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthChecker verifies component health.
type HealthChecker struct {
	checks  map[string]HealthCheck
	audit   AuditQueue
	version string
	timeout time.Duration
}

// NewHealthChecker creates a HealthChecker. audit may be nil.
func NewHealthChecker(version string, audit AuditQueue) *HealthChecker {
	return &HealthChecker{
		checks:  map[string]HealthCheck{},
		audit:   audit,
		version: version,
		timeout: 2 * time.Second,
	}
}

// AddCheck registers a named dependency probe.
func (h *HealthChecker) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Check runs every probe and inspects the audit backlog.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string, len(h.checks)+3)
	healthy := true

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](probeCtx)
		cancel()
		if err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if h.audit != nil {
		depth, capacity := h.audit.QueueDepth(), h.audit.QueueCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.audit.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(health)
	})
}
