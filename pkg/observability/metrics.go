package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. All Record* methods are safe to
// call on a nil *Metrics so that library code can run without a registry.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gate metrics
	GateDecisionsTotal   *prometheus.CounterVec
	LockTransitionsTotal *prometheus.CounterVec
	GateEvaluateDuration prometheus.Histogram

	// Quota metrics
	QuotaConsumeTotal     *prometheus.CounterVec
	EntitlementCacheTotal *prometheus.CounterVec

	// Storage metrics
	StoreErrorsTotal       *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	otel *OTelMetrics
}

// MirrorTo forwards every domain Record* call to OpenTelemetry instruments
// in addition to Prometheus.
func (m *Metrics) MirrorTo(otelMetrics *OTelMetrics) {
	if m == nil {
		return
	}
	m.otel = otelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilotgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pilotgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilotgate_gate_decisions_total",
				Help: "Access gate decisions by resolved status and whether a redirect was issued",
			},
			[]string{"status", "redirected"},
		),
		LockTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilotgate_lock_transitions_total",
				Help: "Expired pilot lock attempts by outcome (applied, observed)",
			},
			[]string{"outcome"},
		),
		GateEvaluateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pilotgate_gate_evaluate_duration_seconds",
				Help:    "Access gate evaluation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		QuotaConsumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilotgate_quota_consume_total",
				Help: "Quota reservations by metric and result (accepted, rejected, error)",
			},
			[]string{"metric", "result"},
		),
		EntitlementCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilotgate_entitlement_cache_total",
				Help: "Entitlement override cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilotgate_store_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"store", "operation"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pilotgate_store_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"store", "operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pilotgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pilotgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GateDecisionsTotal,
		m.LockTransitionsTotal,
		m.GateEvaluateDuration,
		m.QuotaConsumeTotal,
		m.EntitlementCacheTotal,
		m.StoreErrorsTotal,
		m.StoreOperationDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordGateDecision records an access gate decision
func (m *Metrics) RecordGateDecision(status string, redirected bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(status, strconv.FormatBool(redirected)).Inc()
	m.GateEvaluateDuration.Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.RecordGateDecision(context.Background(), status, redirected, duration)
	}
}

// RecordLockTransition records a lock transition attempt for an expired pilot
func (m *Metrics) RecordLockTransition(outcome string) {
	if m == nil {
		return
	}
	m.LockTransitionsTotal.WithLabelValues(outcome).Inc()
	if m.otel != nil {
		m.otel.RecordLockTransition(context.Background(), outcome)
	}
}

// RecordQuotaConsume records the result of a quota reservation
func (m *Metrics) RecordQuotaConsume(metric, result string) {
	if m == nil {
		return
	}
	m.QuotaConsumeTotal.WithLabelValues(metric, result).Inc()
	if m.otel != nil {
		m.otel.RecordQuotaConsume(context.Background(), metric, result)
	}
}

// RecordEntitlementCache records an override cache hit or miss
func (m *Metrics) RecordEntitlementCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EntitlementCacheTotal.WithLabelValues(result).Inc()
}

// RecordStoreOperation records the duration and outcome of a store call
func (m *Metrics) RecordStoreOperation(store, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(store, operation).Inc()
	}
	if m.otel != nil {
		m.otel.RecordStoreOperation(context.Background(), store, operation, duration, err)
	}
}

// UpdateDBStats copies connection pool statistics into gauges
func (m *Metrics) UpdateDBStats(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
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

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template, not raw path, to keep org
// IDs out of label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
