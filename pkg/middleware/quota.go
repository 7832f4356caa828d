package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/platinummonkey/pilotgate/pkg/httputil"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/quota"
)

// Consumer is the subset of *quota.Service the middleware needs
type Consumer interface {
	TryConsume(ctx context.Context, orgID uuid.UUID, metric string) (quota.Decision, error)
}

// QuotaMiddleware reserves a unit of a daily metric before the wrapped
// handler runs
//
// REQUIRES: TenantContext must run before this middleware.
type QuotaMiddleware struct {
	quotas Consumer
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(quotas Consumer) *QuotaMiddleware {
	return &QuotaMiddleware{quotas: quotas}
}

// Enforce fails closed: 429 when the limit is reached, 403 without a
// tenant, 503 when the counter or limit cannot be read. The handler only
// runs after a successful reservation.
func (m *QuotaMiddleware) Enforce(metric string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := m.quotas.TryConsume(ctx, OrgIDFromContext(r), metric)
			if err != nil {
				WriteQuotaError(w, r, metric, err)
				return
			}
			if !decision.Accepted {
				WriteQuotaExceeded(w, metric, decision)
				return
			}

			w.Header().Set("X-Quota-Used", formatInt(decision.Count))
			w.Header().Set("X-Quota-Limit", formatInt(decision.Limit))
			next.ServeHTTP(w, r)
		})
	}
}

// WriteQuotaExceeded writes the 429 body for a rejected reservation
func WriteQuotaExceeded(w http.ResponseWriter, metric string, decision quota.Decision) {
	httputil.WriteDetailedError(w, http.StatusTooManyRequests, "quota_exceeded",
		"daily limit reached", map[string]interface{}{
			"metric": metric,
			"count":  decision.Count,
			"limit":  decision.Limit,
			"day":    decision.Day,
		})
}

// WriteQuotaError maps a TryConsume error to a denial
func WriteQuotaError(w http.ResponseWriter, r *http.Request, metric string, err error) {
	switch {
	case errors.Is(err, quota.ErrInvalidMetric):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, quota.ErrUnknownTenant):
		httputil.WriteForbidden(w, "organization required")
	default:
		observability.FromContext(r.Context()).WithError(err).WithField("metric", metric).
			Warn("Quota check failed, denying")
		httputil.WriteServiceUnavailable(w, "temporarily unavailable, try again")
	}
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
