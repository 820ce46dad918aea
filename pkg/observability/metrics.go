package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionChecksTotal     *prometheus.CounterVec
	PermissionCacheTotal      *prometheus.CounterVec
	PermissionResolveDuration prometheus.Histogram
	PermissionInvalidations   *prometheus.CounterVec

	// Audit metrics
	AuditEventsTotal   *prometheus.CounterVec
	AuditWriteDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrcore_permission_checks_total",
				Help: "Permission checks by outcome (allowed, denied, error)",
			},
			[]string{"outcome"},
		),
		PermissionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrcore_permission_cache_total",
				Help: "Permission cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
		PermissionResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hrcore_permission_resolve_duration_seconds",
				Help:    "Time spent loading a permission set from the store",
				Buckets: prometheus.DefBuckets,
			},
		),
		PermissionInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrcore_permission_cache_invalidations_total",
				Help: "Permission cache invalidations by scope (user, all)",
			},
			[]string{"scope"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrcore_audit_events_total",
				Help: "Audit events by outcome (written, enqueued, dropped, failed)",
			},
			[]string{"outcome"},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hrcore_audit_write_duration_seconds",
				Help:    "Audit row insert duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionCacheTotal,
		m.PermissionResolveDuration,
		m.PermissionInvalidations,
		m.AuditEventsTotal,
		m.AuditWriteDuration,
	)

	return m
}

// PermissionCheck records the outcome of a point check
func (m *Metrics) PermissionCheck(outcome string) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(outcome).Inc()
}

// CacheHit records a permission cache hit
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.PermissionCacheTotal.WithLabelValues("hit").Inc()
}

// CacheMiss records a permission cache miss
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.PermissionCacheTotal.WithLabelValues("miss").Inc()
}

// ObserveResolve records the duration of a store refill
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.PermissionResolveDuration.Observe(d.Seconds())
}

// Invalidation records a cache invalidation for the scope
func (m *Metrics) Invalidation(scope string) {
	if m == nil {
		return
	}
	m.PermissionInvalidations.WithLabelValues(scope).Inc()
}

// AuditEvent records the outcome of an audit event
func (m *Metrics) AuditEvent(outcome string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuditWrite records the duration of an audit insert
func (m *Metrics) ObserveAuditWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.AuditWriteDuration.Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latency per route template
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
