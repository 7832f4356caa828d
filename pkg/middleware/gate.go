package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/pilotgate/pkg/contextkeys"
	"github.com/platinummonkey/pilotgate/pkg/gate"
	"github.com/platinummonkey/pilotgate/pkg/httputil"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/orgs"
)

// Evaluator is the subset of *gate.Gate the middleware needs
type Evaluator interface {
	Evaluate(ctx context.Context, orgID uuid.UUID, opts gate.Options) (*gate.Decision, error)
}

// GateMiddleware runs the access gate for the tenant in context.
//
// Locked tenants are sent to the billing path: browser navigations get a
// 303 redirect, API callers get 403 JSON carrying redirect_to. Store
// failures deny with 503. A request without a tenant passes through with
// an "unknown" decision in context.
//
// REQUIRES: TenantContext must run before this middleware.
func GateMiddleware(g Evaluator, allowedWhenLocked bool) func(http.Handler) http.Handler {
	opts := gate.Options{AllowedWhenLocked: allowedWhenLocked}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := g.Evaluate(ctx, OrgIDFromContext(r), opts)
			if err != nil {
				logger := observability.FromContext(ctx).WithError(err)
				if errors.Is(err, orgs.ErrDataIntegrity) {
					logger.Error("Access denied: organization record is invalid")
					httputil.WriteInternalError(w)
					return
				}
				logger.Warn("Access denied: organization store unavailable")
				httputil.WriteServiceUnavailable(w, "temporarily unavailable, try again")
				return
			}

			if !decision.Allowed() {
				if wantsHTML(r) {
					http.Redirect(w, r, decision.RedirectTo, http.StatusSeeOther)
					return
				}
				httputil.WriteDetailedError(w, http.StatusForbidden, "organization_locked",
					"pilot period has ended", map[string]interface{}{"redirect_to": decision.RedirectTo})
				return
			}

			ctx = contextkeys.WithGateDecision(ctx, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DecisionFromContext returns the decision stored by GateMiddleware
func DecisionFromContext(r *http.Request) (*gate.Decision, bool) {
	d, ok := r.Context().Value(contextkeys.GateDecisionKey).(*gate.Decision)
	return d, ok
}

func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
