package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pilotgate/pkg/entitlements"
	"github.com/platinummonkey/pilotgate/pkg/httputil"
	"github.com/platinummonkey/pilotgate/pkg/quota"
	"github.com/platinummonkey/pilotgate/pkg/usage"
)

func TestQuotaMiddleware_Enforce(t *testing.T) {
	svc := quota.NewService(usage.NewMemoryStore(), entitlements.NewResolver(entitlements.NewMapSource()))
	m := NewQuotaMiddleware(svc)
	orgID := uuid.New()

	calls := 0
	h := m.Enforce("video_analysis")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	for i := 1; i <= 2; i++ {
		rec := serveGated(h, orgID, "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-Quota-Limit"))
	}

	rec := serveGated(h, orgID, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, calls)

	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "quota_exceeded", resp.Error)
	assert.EqualValues(t, 2, resp.Details["count"])
	assert.EqualValues(t, 2, resp.Details["limit"])
}

func TestQuotaMiddleware_NoTenant(t *testing.T) {
	svc := quota.NewService(usage.NewMemoryStore(), entitlements.NewResolver(entitlements.NewMapSource()))
	h := NewQuotaMiddleware(svc).Enforce("ai_shortlist")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := serveGated(h, uuid.Nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type failingConsumer struct{ err error }

func (f failingConsumer) TryConsume(context.Context, uuid.UUID, string) (quota.Decision, error) {
	return quota.Decision{}, f.err
}

func TestQuotaMiddleware_FailsClosed(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"counter unavailable", errors.Join(usage.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"limit unavailable", errors.Join(entitlements.ErrSourceUnavailable, errors.New("timeout")), http.StatusServiceUnavailable},
		{"invalid metric", quota.ErrInvalidMetric, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewQuotaMiddleware(failingConsumer{err: tt.err}).Enforce("coach_runs")(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Fatal("handler must not run")
				}))
			rec := serveGated(h, uuid.New(), "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
