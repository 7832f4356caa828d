package middleware

import (
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/platinummonkey/pilotgate/pkg/contextkeys"
	"github.com/platinummonkey/pilotgate/pkg/httputil"
	"github.com/platinummonkey/pilotgate/pkg/observability"
)

const (
	// OrgIDHeader carries the tenant organization ID set by upstream auth
	OrgIDHeader = "X-Org-ID"
	// RequestIDHeader carries the request correlation ID
	RequestIDHeader = "X-Request-ID"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newRequestID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// RequestID assigns a ULID request ID (or keeps the caller's X-Request-ID)
// and attaches logger to the request context.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = newRequestID(time.Now())
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantContext places the tenant organization ID in the request context.
// The {org_id} route variable wins over the X-Org-ID header. A request with
// neither passes through without a tenant; a malformed ID is rejected with
// 400.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["org_id"]
		if raw == "" {
			raw = r.Header.Get(OrgIDHeader)
		}
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		orgID, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid organization ID")
			return
		}

		ctx := contextkeys.WithOrgID(r.Context(), orgID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrgIDFromContext returns the tenant set by TenantContext, uuid.Nil when
// absent
func OrgIDFromContext(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(contextkeys.GetOrgID(r.Context()))
	if err != nil {
		return uuid.Nil
	}
	return id
}
