package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NotNil(t, metrics)
	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.PermissionChecksTotal)
	assert.NotNil(t, metrics.PermissionCacheTotal)
	assert.NotNil(t, metrics.AuditEventsTotal)
}

func TestMetrics_Recorders(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.CacheHit()
	metrics.CacheHit()
	metrics.CacheMiss()
	metrics.PermissionCheck("denied")
	metrics.Invalidation("all")
	metrics.AuditEvent("enqueued")
	metrics.ObserveResolve(5 * time.Millisecond)
	metrics.ObserveAuditWrite(time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PermissionCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionCacheTotal.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionInvalidations.WithLabelValues("all")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditEventsTotal.WithLabelValues("enqueued")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var metrics *Metrics

	assert.NotPanics(t, func() {
		metrics.CacheHit()
		metrics.CacheMiss()
		metrics.PermissionCheck("allowed")
		metrics.Invalidation("user")
		metrics.AuditEvent("failed")
		metrics.ObserveResolve(time.Second)
		metrics.ObserveAuditWrite(time.Second)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups/12", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/groups/{id}", "404"),
	))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.AuditEvent("written")

	server := httptest.NewServer(MetricsHandler(registry))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `hrcore_audit_events_total{outcome="written"} 1`))
}
