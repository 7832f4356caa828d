package entitlements

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

// countingSource wraps a MapSource and counts lookups
type countingSource struct {
	*MapSource
	calls int32
	err   error
	delay time.Duration
}

func (s *countingSource) GetOverride(ctx context.Context, orgID uuid.UUID, key string) (string, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", false, s.err
	}
	return s.MapSource.GetOverride(ctx, orgID, key)
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
}

func TestDefaultLimit(t *testing.T) {
	tests := []struct {
		metric string
		want   int64
	}{
		{"ai_shortlist", 3},
		{"video_analysis", 2},
		{"coach_runs", 2},
		{"bias_runs", 2},
		{"marketing_runs", 3},
		{"something_new", FallbackLimit},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultLimit(tt.metric))
		})
	}

	// Copies do not leak into the table
	table := DefaultLimits()
	table["bias_runs"] = 100
	assert.Equal(t, int64(2), DefaultLimit("bias_runs"))
}

func TestOverrideKey(t *testing.T) {
	assert.Equal(t, "limits_bias_runs_per_day", OverrideKey("bias_runs"))
}

func TestResolver_DefaultFallback(t *testing.T) {
	orgID := uuid.New()
	source := NewMapSource()
	resolver := NewResolver(source, WithCacheTTL(0), WithLogger(quietLogger()))

	limit, err := resolver.ResolveLimit(context.Background(), orgID, "bias_runs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), limit)

	source.Set(orgID, "limits_bias_runs_per_day", "10")
	limit, err = resolver.ResolveLimit(context.Background(), orgID, "bias_runs")
	require.NoError(t, err)
	assert.Equal(t, int64(10), limit)

	limit, err = resolver.ResolveLimit(context.Background(), orgID, "unheard_of")
	require.NoError(t, err)
	assert.Equal(t, FallbackLimit, limit)
}

func TestResolver_MalformedOverride(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int64
	}{
		{"non numeric", "lots", 2},
		{"negative", "-1", 2},
		{"fractional", "2.5", 2},
		{"whole float", "10.0", 10},
		{"padded", " 7 ", 7},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orgID := uuid.New()
			source := NewMapSource()
			source.Set(orgID, OverrideKey("coach_runs"), tt.value)

			resolver := NewResolver(source, WithCacheTTL(0), WithLogger(quietLogger()))
			limit, err := resolver.ResolveLimit(context.Background(), orgID, "coach_runs")
			require.NoError(t, err)
			assert.Equal(t, tt.want, limit)
		})
	}
}

func TestResolver_MalformedOverrideLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.InfoLevel, &buf))

	orgID := uuid.New()
	source := NewMapSource()
	source.Set(orgID, OverrideKey("bias_runs"), "abc")

	_, err := NewResolver(source, WithCacheTTL(0)).ResolveLimit(ctx, orgID, "bias_runs")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Ignoring malformed entitlement override")
	assert.Contains(t, buf.String(), "limits_bias_runs_per_day")
}

func TestResolver_SourceError(t *testing.T) {
	source := &countingSource{MapSource: NewMapSource(), err: errors.New("replica down")}
	resolver := NewResolver(source, WithLogger(quietLogger()))

	_, err := resolver.ResolveLimit(context.Background(), uuid.New(), "bias_runs")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorContains(t, err, "replica down")
}

func TestResolver_Cache(t *testing.T) {
	orgID := uuid.New()
	source := &countingSource{MapSource: NewMapSource()}
	source.Set(orgID, OverrideKey("bias_runs"), "10")

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver := NewResolver(source, WithCacheTTL(time.Minute), WithMetrics(metrics), WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		limit, err := resolver.ResolveLimit(context.Background(), orgID, "bias_runs")
		require.NoError(t, err)
		assert.Equal(t, int64(10), limit)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EntitlementCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EntitlementCacheTotal.WithLabelValues("miss")))

	t.Run("invalidate forces a fresh lookup", func(t *testing.T) {
		source.Set(orgID, OverrideKey("bias_runs"), "20")
		resolver.Invalidate(orgID)

		limit, err := resolver.ResolveLimit(context.Background(), orgID, "bias_runs")
		require.NoError(t, err)
		assert.Equal(t, int64(20), limit)
		assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
	})
}

func TestResolver_CacheExpires(t *testing.T) {
	orgID := uuid.New()
	source := &countingSource{MapSource: NewMapSource()}
	resolver := NewResolver(source, WithCacheTTL(20*time.Millisecond), WithLogger(quietLogger()))

	_, err := resolver.ResolveLimit(context.Background(), orgID, "bias_runs")
	require.NoError(t, err)

	source.Set(orgID, OverrideKey("bias_runs"), "9")
	assert.Eventually(t, func() bool {
		limit, err := resolver.ResolveLimit(context.Background(), orgID, "bias_runs")
		return err == nil && limit == 9
	}, time.Second, 10*time.Millisecond)
}

func TestResolver_CoalescesConcurrentMisses(t *testing.T) {
	orgID := uuid.New()
	source := &countingSource{MapSource: NewMapSource(), delay: 50 * time.Millisecond}
	resolver := NewResolver(source, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limit, err := resolver.ResolveLimit(context.Background(), orgID, "ai_shortlist")
			assert.NoError(t, err)
			assert.Equal(t, int64(3), limit)
		}()
	}
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&source.calls), int32(20))
}

// gatedSource blocks every lookup until release is closed
type gatedSource struct {
	calls   int32
	release chan struct{}
}

func (s *gatedSource) GetOverride(ctx context.Context, _ uuid.UUID, _ string) (string, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	select {
	case <-s.release:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func TestResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	orgID := uuid.New()
	source := &gatedSource{release: make(chan struct{})}
	resolver := NewResolver(source, WithCacheTTL(0), WithLogger(quietLogger()))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := resolver.ResolveLimit(firstCtx, orgID, "ai_shortlist")
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&source.calls) == 1
	}, time.Second, time.Millisecond)

	type result struct {
		limit int64
		err   error
	}
	second := make(chan result, 1)
	go func() {
		limit, err := resolver.ResolveLimit(context.Background(), orgID, "ai_shortlist")
		second <- result{limit, err}
	}()
	// Let the second caller join the in-flight lookup
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(source.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, int64(3), got.limit)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
}
