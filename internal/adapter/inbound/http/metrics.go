package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	UpstreamCalls      *prometheus.CounterVec
	UpstreamDuration   *prometheus.HistogramVec
	AdmissionDecisions *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	SessionRefreshes   *prometheus.CounterVec
	SecurityEvents     *prometheus.CounterVec
	AuditDropsTotal    prometheus.CounterFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// auditDrops reports the audit drop count; nil reports zero.
func NewMetrics(reg prometheus.Registerer, auditDrops func() int64) *Metrics {
	if auditDrops == nil {
		auditDrops = func() int64 { return 0 }
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "status"}, // status=2xx/3xx/4xx/5xx
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "securflow",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		UpstreamCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "upstream_calls_total",
				Help:      "Upstream API calls by HTTP status (0 for transport failures)",
			},
			[]string{"method", "status"},
		),
		UpstreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "securflow",
				Name:      "upstream_call_duration_seconds",
				Help:      "Upstream API call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		AdmissionDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "admission_decisions_total",
				Help:      "Outbound admission decisions",
			},
			[]string{"decision"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by resource",
			},
			[]string{"resource", "result"}, // result=hit/miss
		),
		SessionRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "session_refreshes_total",
				Help:      "Upstream session refreshes",
			},
			[]string{"outcome"},
		),
		SecurityEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "security_events_total",
				Help:      "Audit events by action and severity",
			},
			[]string{"action", "severity"},
		),
		AuditDropsTotal: f.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "securflow",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
			func() float64 { return float64(auditDrops()) },
		),
	}
}

// ObserveUpstreamCall matches ajax.WithCallObserver.
func (m *Metrics) ObserveUpstreamCall(method string, status int, elapsed time.Duration) {
	m.UpstreamCalls.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveAdmission matches ratelimit.WithDecisionObserver.
func (m *Metrics) ObserveAdmission(decision string) {
	m.AdmissionDecisions.WithLabelValues(decision).Inc()
}

// ObserveCacheLookup matches cache.WithLookupObserver.
func (m *Metrics) ObserveCacheLookup(resource string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(resource, result).Inc()
}

// ObserveSessionRefresh matches session.WithRefreshObserver.
func (m *Metrics) ObserveSessionRefresh(outcome string) {
	m.SessionRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveAuditRecord matches service.WithRecordObserver. Only WARNING and
// CRITICAL records are counted.
func (m *Metrics) ObserveAuditRecord(rec audit.Record) {
	if rec.Severity == audit.SeverityInfo {
		return
	}
	m.SecurityEvents.WithLabelValues(rec.Action, string(rec.Severity)).Inc()
}
