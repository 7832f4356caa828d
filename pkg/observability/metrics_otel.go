package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the domain metrics as OpenTelemetry instruments so
// they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	gateDecisions   metric.Int64Counter
	gateDuration    metric.Float64Histogram
	lockTransitions metric.Int64Counter
	quotaConsume    metric.Int64Counter
	storeDuration   metric.Float64Histogram
	storeErrors     metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return newOTelMetrics(otel.Meter("github.com/platinummonkey/pilotgate"))
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.gateDecisions, err = meter.Int64Counter(
		"pilotgate.gate.decisions",
		metric.WithDescription("Access gate decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate decisions counter: %w", err)
	}

	m.gateDuration, err = meter.Float64Histogram(
		"pilotgate.gate.duration",
		metric.WithDescription("Access gate evaluation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate duration histogram: %w", err)
	}

	m.lockTransitions, err = meter.Int64Counter(
		"pilotgate.lock.transitions",
		metric.WithDescription("Expired pilot lock attempts"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock transitions counter: %w", err)
	}

	m.quotaConsume, err = meter.Int64Counter(
		"pilotgate.quota.consume",
		metric.WithDescription("Quota reservations"),
		metric.WithUnit("{reservation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota consume counter: %w", err)
	}

	m.storeDuration, err = meter.Float64Histogram(
		"pilotgate.store.duration",
		metric.WithDescription("Storage operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	m.storeErrors, err = meter.Int64Counter(
		"pilotgate.store.errors",
		metric.WithDescription("Storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store errors counter: %w", err)
	}

	return m, nil
}

// RecordGateDecision records an access gate decision
func (m *OTelMetrics) RecordGateDecision(ctx context.Context, status string, redirected bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("redirected", redirected),
	)
	m.gateDecisions.Add(ctx, 1, attrs)
	m.gateDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordLockTransition records a lock attempt outcome
func (m *OTelMetrics) RecordLockTransition(ctx context.Context, outcome string) {
	m.lockTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordQuotaConsume records a quota reservation result
func (m *OTelMetrics) RecordQuotaConsume(ctx context.Context, metricName, result string) {
	m.quotaConsume.Add(ctx, 1, metric.WithAttributes(
		attribute.String("metric", metricName),
		attribute.String("result", result),
	))
}

// RecordStoreOperation records a store call
func (m *OTelMetrics) RecordStoreOperation(ctx context.Context, store, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("operation", operation),
	)
	m.storeDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.storeErrors.Add(ctx, 1, attrs)
	}
}
