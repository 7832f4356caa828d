package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/pilotgate/pkg/entitlements"
	"github.com/platinummonkey/pilotgate/pkg/gate"
	"github.com/platinummonkey/pilotgate/pkg/httputil"
	"github.com/platinummonkey/pilotgate/pkg/middleware"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/orgs"
	"github.com/platinummonkey/pilotgate/pkg/quota"
)

const maxBodyBytes = 1 << 20

const appBillingPath = "/app/billing"

// AccessGate evaluates and peeks tenant access
type AccessGate interface {
	Evaluate(ctx context.Context, orgID uuid.UUID, opts gate.Options) (*gate.Decision, error)
	Peek(ctx context.Context, orgID uuid.UUID) (*gate.Decision, error)
}

// Quotas reserves and reports daily usage
type Quotas interface {
	TryConsume(ctx context.Context, orgID uuid.UUID, metric string) (quota.Decision, error)
	Snapshot(ctx context.Context, orgID uuid.UUID, metric string) (quota.Snapshot, error)
}

// Activator is the billing collaborator's hook to move an org to active
type Activator interface {
	Activate(ctx context.Context, id uuid.UUID) (*orgs.Organization, error)
}

// Dependencies are the services the API exposes
type Dependencies struct {
	Gate      AccessGate
	Quotas    Quotas
	Limits    quota.LimitResolver
	Activator Activator
}

// Server is the HTTP surface of the gate
type Server struct {
	deps     Dependencies
	router   *mux.Router
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
	health   *observability.HealthChecker

	billingPath string
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics enables request metrics and serves registry at /metrics
func WithMetrics(metrics *observability.Metrics, registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = metrics
		s.registry = registry
	}
}

// WithHealthChecker mounts /healthz and /readyz
func WithHealthChecker(checker *observability.HealthChecker) Option {
	return func(s *Server) {
		s.health = checker
	}
}

// WithBillingPath serves the billing page at path as well as /app/billing.
// It should match the gate's redirect target.
func WithBillingPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.billingPath = path
		}
	}
}

// NewServer creates a new API server
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		router:      mux.NewRouter(),
		billingPath: gate.DefaultBillingPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics), middleware.TenantContext)

	if s.health != nil {
		observability.RegisterHealthRoutes(s.router, s.health)
	}
	if s.registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1/orgs/{org_id}").Subrouter()
	v1.HandleFunc("/access", s.getAccess).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/usage/{metric}", s.consumeUsage).Methods(http.MethodPost)
	v1.HandleFunc("/usage/{metric}", s.getUsage).Methods(http.MethodGet)
	v1.HandleFunc("/limits/{metric}", s.getLimit).Methods(http.MethodGet)
	v1.HandleFunc("/activate", s.activate).Methods(http.MethodPost)

	// Tenant-scoped app routes take the org from X-Org-ID.
	billing := middleware.GateMiddleware(s.deps.Gate, true)(http.HandlerFunc(s.billing))
	if s.billingPath != appBillingPath {
		s.router.Handle(s.billingPath, billing).Methods(http.MethodGet)
	}

	app := s.router.PathPrefix("/app").Subrouter()
	app.Handle(strings.TrimPrefix(appBillingPath, "/app"), billing).Methods(http.MethodGet)

	quotas := middleware.NewQuotaMiddleware(s.deps.Quotas)
	for metric := range entitlements.DefaultLimits() {
		app.Handle("/actions/"+metric, httputil.Chain(
			middleware.GateMiddleware(s.deps.Gate, false),
			quotas.Enforce(metric),
		)(http.HandlerFunc(s.actionAccepted))).Methods(http.MethodPost)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped with tracing, request IDs, panic
// recovery and a body size limit
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(httputil.Chain(
		middleware.RequestID(s.logger),
		observability.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(s.router), "pilotgate")
}
