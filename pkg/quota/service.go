// Package quota enforces daily per-organization usage limits by combining
// the entitlement resolver with a usage counter store.
package quota

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/pilotgate/pkg/entitlements"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/usage"
)

var tracer = otel.Tracer("pilotgate/quota")

var metricPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

var (
	// ErrInvalidMetric is returned for metric names outside [a-z][a-z0-9_]*
	ErrInvalidMetric = errors.New("invalid metric name")
	// ErrUnknownTenant is returned when no organization is in scope
	ErrUnknownTenant = errors.New("unknown tenant")
)

// LimitResolver returns the daily limit for an org and metric
type LimitResolver interface {
	ResolveLimit(ctx context.Context, orgID uuid.UUID, metric string) (int64, error)
}

// Decision is the outcome of TryConsume
type Decision struct {
	Accepted bool   `json:"accepted"`
	Count    int64  `json:"count"`
	Limit    int64  `json:"limit"`
	Day      string `json:"day"`
}

// Snapshot is a read-only view of today's usage for badges
type Snapshot struct {
	Available bool   `json:"available"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Day       string `json:"day"`
}

// Service reserves quota for quota-gated actions
type Service struct {
	store    usage.Store
	limits   LimitResolver
	clock    quartz.Clock
	location *time.Location
	metrics  *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the wall clock
func WithClock(clock quartz.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLocation sets the timezone whose calendar day buckets counters
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithMetrics records consume outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// NewService creates a Service
func NewService(store usage.Store, limits LimitResolver, opts ...Option) *Service {
	s := &Service{
		store:    store,
		limits:   limits,
		clock:    quartz.NewReal(),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateMetric reports whether metric is an acceptable metric name
func ValidateMetric(metric string) error {
	if !metricPattern.MatchString(metric) {
		return fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
	return nil
}

// metricLabel bounds the metric label to the built-in metrics
func metricLabel(metric string) string {
	switch {
	case !metricPattern.MatchString(metric):
		return "invalid"
	case !entitlements.KnownMetric(metric):
		return "other"
	}
	return metric
}

// Today returns the current counter bucket
func (s *Service) Today() string {
	return usage.DayOf(s.clock.Now(), s.location)
}

// TryConsume reserves one unit of metric for orgID. Any error leaves
// Accepted false and must be treated as a denial.
func (s *Service) TryConsume(ctx context.Context, orgID uuid.UUID, metric string) (decision Decision, err error) {
	ctx, span := tracer.Start(ctx, "quota.TryConsume")
	defer span.End()

	defer func() {
		result := "rejected"
		switch {
		case err != nil:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "consume failed")
		case decision.Accepted:
			result = "accepted"
		}
		s.metrics.RecordQuotaConsume(metricLabel(metric), result)
	}()

	if err := ValidateMetric(metric); err != nil {
		return Decision{}, err
	}
	if orgID == uuid.Nil {
		return Decision{}, ErrUnknownTenant
	}

	day := s.Today()
	span.SetAttributes(
		attribute.String("org.id", orgID.String()),
		attribute.String("quota.metric", metric),
		attribute.String("quota.day", day),
	)

	limit, err := s.limits.ResolveLimit(ctx, orgID, metric)
	if err != nil {
		return Decision{Day: day}, fmt.Errorf("failed to resolve limit: %w", err)
	}

	res, err := s.store.TryIncrement(ctx, usage.Key{OrgID: orgID, Metric: metric, Day: day}, limit)
	if err != nil {
		return Decision{Limit: limit, Day: day}, err
	}

	span.SetAttributes(attribute.Bool("quota.accepted", res.Accepted), attribute.Int64("quota.count", res.Count))
	return Decision{
		Accepted: res.Accepted,
		Count:    res.Count,
		Limit:    limit,
		Day:      day,
	}, nil
}

// Snapshot reads today's usage without consuming. Store failures are not
// returned: the snapshot comes back with Available false so badges can
// render a neutral state.
func (s *Service) Snapshot(ctx context.Context, orgID uuid.UUID, metric string) (Snapshot, error) {
	if err := ValidateMetric(metric); err != nil {
		return Snapshot{}, err
	}
	if orgID == uuid.Nil {
		return Snapshot{}, ErrUnknownTenant
	}

	day := s.Today()
	snap := Snapshot{Day: day}
	logger := observability.FromContext(ctx).WithField("metric", metric)

	limit, err := s.limits.ResolveLimit(ctx, orgID, metric)
	if err != nil {
		logger.WithError(err).Warn("Usage badge degraded: limit unavailable")
		return snap, nil
	}
	snap.Limit = limit

	count, err := s.store.Peek(ctx, usage.Key{OrgID: orgID, Metric: metric, Day: day})
	if err != nil {
		logger.WithError(err).Warn("Usage badge degraded: counter unavailable")
		return snap, nil
	}

	snap.Available = true
	snap.Count = count
	snap.Remaining = max(0, limit-count)
	return snap, nil
}
