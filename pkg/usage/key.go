package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

// DayLayout is the calendar-date format used for counter buckets
const DayLayout = "2006-01-02"

// ErrStoreUnavailable is returned (wrapped) for every backend failure.
// Callers enforcing quotas must treat it as a denial.
var ErrStoreUnavailable = errors.New("usage store unavailable")

// Key identifies one daily counter
type Key struct {
	OrgID  uuid.UUID
	Metric string
	Day    string
}

// String returns the Redis key for k
func (k Key) String() string {
	return fmt.Sprintf("usage:%s:%s:%s", k.OrgID, k.Metric, k.Day)
}

// DayOf returns the calendar date of t in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// Result is the outcome of a reserve-or-reject increment
type Result struct {
	Accepted bool
	// Count is the counter value after the call: the new value when
	// accepted, the unchanged current value when rejected.
	Count int64
}

// Store is a per-day usage counter with atomic conditional increments
type Store interface {
	// TryIncrement adds one to the counter if the result is <= limit.
	// A limit below 1 rejects every increment.
	TryIncrement(ctx context.Context, key Key, limit int64) (Result, error)
	// Peek returns the current count, 0 if the counter does not exist.
	Peek(ctx context.Context, key Key) (int64, error)
}

// Option configures a Store
type Option func(*options)

type options struct {
	retention time.Duration
	metrics   *observability.Metrics
}

// WithRetention sets how long counters are kept. RedisStore applies it as
// a key TTL; SQL stores rely on DeleteBefore.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		o.retention = d
	}
}

// WithMetrics records store latency and errors
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{retention: 8 * 24 * time.Hour}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
