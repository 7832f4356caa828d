package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/pilotgate/pkg/entitlements"
	"github.com/platinummonkey/pilotgate/pkg/gate"
	"github.com/platinummonkey/pilotgate/pkg/httputil"
	"github.com/platinummonkey/pilotgate/pkg/middleware"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/orgs"
	"github.com/platinummonkey/pilotgate/pkg/quota"
	"github.com/platinummonkey/pilotgate/pkg/usage"
)

// StatusResponse is the badge view of an organization
type StatusResponse struct {
	*gate.Decision
	Available bool `json:"available"`
}

// LimitResponse reports the daily limit in force for a metric
type LimitResponse struct {
	Metric      string `json:"metric"`
	Limit       int64  `json:"limit"`
	OverrideKey string `json:"override_key"`
	Default     int64  `json:"default"`
}

// getAccess handles GET /api/v1/orgs/{org_id}/access
func (s *Server) getAccess(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	allowed, err := httputil.ParseQueryBool(r, "allowed_when_locked", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	decision, err := s.deps.Gate.Evaluate(r.Context(), orgID, gate.Options{AllowedWhenLocked: allowed})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, decision)
}

// getStatus handles GET /api/v1/orgs/{org_id}/status. It never runs the
// lock transition and degrades to an unknown, unavailable status when the
// store is down.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}

	decision, err := s.deps.Gate.Peek(r.Context(), orgID)
	switch {
	case err == nil:
		_ = httputil.WriteSuccess(w, StatusResponse{Decision: decision, Available: true})
	case errors.Is(err, orgs.ErrDataIntegrity):
		s.writeError(w, r, err)
	default:
		observability.FromContext(r.Context()).WithError(err).Warn("Status badge degraded")
		_ = httputil.WriteSuccess(w, StatusResponse{Decision: &gate.Decision{Status: gate.StatusUnknown}})
	}
}

// consumeUsage handles POST /api/v1/orgs/{org_id}/usage/{metric}
func (s *Server) consumeUsage(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	metric, err := httputil.ParsePathString(r, "metric")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	decision, err := s.deps.Quotas.TryConsume(r.Context(), orgID, metric)
	if err != nil {
		middleware.WriteQuotaError(w, r, metric, err)
		return
	}
	if !decision.Accepted {
		middleware.WriteQuotaExceeded(w, metric, decision)
		return
	}
	_ = httputil.WriteSuccess(w, decision)
}

// getUsage handles GET /api/v1/orgs/{org_id}/usage/{metric}
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	metric, err := httputil.ParsePathString(r, "metric")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	snap, err := s.deps.Quotas.Snapshot(r.Context(), orgID, metric)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, snap)
}

// getLimit handles GET /api/v1/orgs/{org_id}/limits/{metric}
func (s *Server) getLimit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	metric, err := httputil.ParsePathString(r, "metric")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := quota.ValidateMetric(metric); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	limit, err := s.deps.Limits.ResolveLimit(r.Context(), orgID, metric)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, LimitResponse{
		Metric:      metric,
		Limit:       limit,
		OverrideKey: entitlements.OverrideKey(metric),
		Default:     entitlements.DefaultLimit(metric),
	})
}

// activate handles POST /api/v1/orgs/{org_id}/activate
func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}

	org, err := s.deps.Activator.Activate(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).Info("Organization activated by billing")
	_ = httputil.WriteSuccess(w, org)
}

// billing handles GET /app/billing and the configured billing path,
// reachable while locked
func (s *Server) billing(w http.ResponseWriter, r *http.Request) {
	decision, _ := middleware.DecisionFromContext(r)
	_ = httputil.WriteSuccess(w, decision)
}

// actionAccepted runs after the gate and quota guards let a request through
func (s *Server) actionAccepted(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context()).WithError(err)

	switch {
	case errors.Is(err, orgs.ErrNotFound), errors.Is(err, quota.ErrUnknownTenant):
		httputil.WriteNotFoundError(w, "organization not found")
	case errors.Is(err, quota.ErrInvalidMetric):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, orgs.ErrDataIntegrity):
		logger.Error("Organization record failed integrity check")
		httputil.WriteInternalError(w)
	case errors.Is(err, orgs.ErrStoreUnavailable),
		errors.Is(err, usage.ErrStoreUnavailable),
		errors.Is(err, entitlements.ErrSourceUnavailable):
		logger.Warn("Backing store unavailable")
		httputil.WriteServiceUnavailable(w, "temporarily unavailable, try again")
	default:
		logger.Error("Request failed")
		httputil.WriteInternalError(w)
	}
}
