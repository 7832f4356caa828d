// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry export, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Info("Pilot locked")
//
// Request-scoped logging picks up request_id and org_id from the context:
//
//	observability.FromContext(ctx).Warn("Counter store unavailable")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordQuotaConsume("ai_shortlist", "accepted")
//
// A nil *Metrics is valid and records nothing. MirrorTo forwards the same
// observations to OpenTelemetry instruments when an OTLP collector is
// configured.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, observability.WithRedisRequired(true))
//	observability.RegisterHealthRoutes(router, checker)
//
// /healthz is liveness only. /readyz returns 503 when a required dependency
// is down.
package observability
