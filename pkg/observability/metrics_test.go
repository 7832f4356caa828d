package observability

import (
	"errors"
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
	assert.NotNil(t, metrics.GateDecisionsTotal)
	assert.NotNil(t, metrics.LockTransitionsTotal)
	assert.NotNil(t, metrics.QuotaConsumeTotal)
	assert.NotNil(t, metrics.EntitlementCacheTotal)
	assert.NotNil(t, metrics.StoreErrorsTotal)

	// Registering twice on one registry must panic
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGateDecision("pilot", false, time.Millisecond)
		m.RecordLockTransition("applied")
		m.RecordQuotaConsume("ai_shortlist", "accepted")
		m.RecordEntitlementCache(true)
		m.RecordStoreOperation("redis", "try_increment", time.Millisecond, errors.New("boom"))
		m.UpdateDBStats(1, 2)
		m.MirrorTo(nil)
	})
}

func TestMetrics_Record(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordGateDecision("locked", true, 2*time.Millisecond)
	metrics.RecordLockTransition("applied")
	metrics.RecordLockTransition("observed")
	metrics.RecordLockTransition("observed")
	metrics.RecordQuotaConsume("bias_runs", "rejected")
	metrics.RecordEntitlementCache(false)
	metrics.RecordStoreOperation("postgres", "peek", time.Millisecond, nil)
	metrics.RecordStoreOperation("postgres", "peek", time.Millisecond, errors.New("down"))
	metrics.UpdateDBStats(4, 6)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GateDecisionsTotal.WithLabelValues("locked", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LockTransitionsTotal.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LockTransitionsTotal.WithLabelValues("observed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QuotaConsumeTotal.WithLabelValues("bias_runs", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EntitlementCacheTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("postgres", "peek")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.DBConnectionsActive))
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.DBConnectionsIdle))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/v1/orgs/{org_id}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/abc/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/orgs/{org_id}/status", "418")))

	t.Run("metrics endpoint exposes series", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "pilotgate_http_requests_total"))
	})

	t.Run("nil metrics passes through", func(t *testing.T) {
		called := false
		h := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, called)
	})
}
