package entitlements

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

var tracer = otel.Tracer("pilotgate/entitlements")

const (
	defaultCacheTTL  = 5 * time.Second
	defaultCacheSize = 10000
	lookupTimeout    = 5 * time.Second
)

// Resolver answers "what is today's limit for this org and metric"
type Resolver struct {
	source  OverrideSource
	cache   *expirable.LRU[string, int64]
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics

	cacheTTL  time.Duration
	cacheSize int
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCacheTTL sets the override cache TTL. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithCacheSize bounds the number of cached (org, metric) entries
func WithCacheSize(size int) ResolverOption {
	return func(r *Resolver) {
		r.cacheSize = size
	}
}

// WithLogger sets the logger used for malformed override warnings
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics records cache hits and misses
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = metrics
	}
}

// NewResolver creates a Resolver over source
func NewResolver(source OverrideSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:    source,
		cacheTTL:  defaultCacheTTL,
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if r.cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, int64](r.cacheSize, nil, r.cacheTTL)
	}
	return r
}

// ResolveLimit returns the daily limit for metric. The override wins;
// otherwise the built-in default applies. A malformed or negative override
// is ignored so a data bug never grants unlimited quota.
func (r *Resolver) ResolveLimit(ctx context.Context, orgID uuid.UUID, metric string) (int64, error) {
	cacheKey := orgID.String() + ":" + metric

	if r.cache != nil {
		if limit, ok := r.cache.Get(cacheKey); ok {
			r.metrics.RecordEntitlementCache(true)
			return limit, nil
		}
		r.metrics.RecordEntitlementCache(false)
	}

	// The shared lookup outlives any single caller so one cancellation
	// cannot fail the others waiting on the same key.
	ch := r.group.DoChan(cacheKey, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, orgID, metric)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
	}
	if res.Err != nil {
		return 0, res.Err
	}

	limit := res.Val.(int64)
	if r.cache != nil {
		r.cache.Add(cacheKey, limit)
	}
	return limit, nil
}

func (r *Resolver) lookup(ctx context.Context, orgID uuid.UUID, metric string) (int64, error) {
	ctx, span := tracer.Start(ctx, "entitlements.lookup")
	defer span.End()

	key := OverrideKey(metric)
	span.SetAttributes(attribute.String("entitlements.feature_key", key))

	raw, found, err := r.source.GetOverride(ctx, orgID, key)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	fallback := DefaultLimit(metric)
	if !found {
		return fallback, nil
	}

	limit, err := parseLimit(raw)
	if err != nil {
		observability.FromContextOr(ctx, r.logger).WithFields(map[string]interface{}{
			"org_id":      orgID.String(),
			"feature_key": key,
			"value":       raw,
			"default":     fallback,
		}).WithError(err).Warn("Ignoring malformed entitlement override")
		return fallback, nil
	}

	span.SetAttributes(attribute.Int64("entitlements.override", limit))
	return limit, nil
}

// parseLimit accepts non-negative whole numbers, including "10.0"
func parseLimit(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative limit %d", n)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt64 || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a non-negative whole number: %q", raw)
	}
	return int64(f), nil
}

// Invalidate drops cached limits for orgID so the next lookup hits the
// source. Used after plan changes made through this process.
func (r *Resolver) Invalidate(orgID uuid.UUID) {
	if r.cache == nil {
		return
	}
	prefix := orgID.String() + ":"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
}
