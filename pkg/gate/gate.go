// Package gate decides whether a tenant may proceed, given its pilot
// lifecycle state.
//
// Evaluate runs the lazy pilot->locked transition first and then resolves
// the status from the same clock sample, so an org whose pilot just ended
// is reported locked on the very request that locked it.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/orgs"
)

var tracer = otel.Tracer("pilotgate/gate")

// DefaultBillingPath is where locked tenants are sent
const DefaultBillingPath = "/billing"

// StatusUnknown is reported when no organization is in scope
const StatusUnknown = "unknown"

// Options tunes a single evaluation
type Options struct {
	// AllowedWhenLocked lets the caller through even when the org is
	// locked, e.g. for the billing page itself.
	AllowedWhenLocked bool
}

// Decision is the gate verdict for one request
type Decision struct {
	Status        string     `json:"status"`
	IsLocked      bool       `json:"is_locked"`
	IsPilot       bool       `json:"is_pilot"`
	IsActive      bool       `json:"is_active"`
	RedirectTo    string     `json:"redirect_to,omitempty"`
	PilotEnd      *time.Time `json:"pilot_end,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
}

// Allowed reports whether the caller may proceed
func (d *Decision) Allowed() bool {
	return d.RedirectTo == ""
}

func unknownDecision() *Decision {
	return &Decision{Status: StatusUnknown}
}

// Gate evaluates access for organizations
type Gate struct {
	locker      *orgs.Locker
	clock       quartz.Clock
	billingPath string
	metrics     *observability.Metrics
}

// Option configures a Gate
type Option func(*Gate)

// WithClock overrides the wall clock
func WithClock(clock quartz.Clock) Option {
	return func(g *Gate) {
		g.clock = clock
	}
}

// WithBillingPath overrides DefaultBillingPath
func WithBillingPath(path string) Option {
	return func(g *Gate) {
		if path != "" {
			g.billingPath = path
		}
	}
}

// WithMetrics records decisions
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// New creates a Gate over locker
func New(locker *orgs.Locker, opts ...Option) *Gate {
	g := &Gate{
		locker:      locker,
		clock:       quartz.NewReal(),
		billingPath: DefaultBillingPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BillingPath returns the redirect target for locked tenants
func (g *Gate) BillingPath() string {
	return g.billingPath
}

// Evaluate decides access for orgID. An unknown or nil org yields a
// StatusUnknown decision without error. Store failures are returned and
// callers must deny. A persisted status outside pilot/active/locked
// surfaces as *orgs.DataIntegrityError.
func (g *Gate) Evaluate(ctx context.Context, orgID uuid.UUID, opts Options) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "gate.Evaluate")
	defer span.End()
	start := time.Now()

	if orgID == uuid.Nil {
		g.metrics.RecordGateDecision(StatusUnknown, false, time.Since(start))
		return unknownDecision(), nil
	}
	span.SetAttributes(
		attribute.String("org.id", orgID.String()),
		attribute.Bool("gate.allowed_when_locked", opts.AllowedWhenLocked),
	)

	now := g.clock.Now()

	org, outcome, err := g.locker.LockExpiredPilot(ctx, orgID, now)
	if errors.Is(err, orgs.ErrNotFound) {
		g.metrics.RecordGateDecision(StatusUnknown, false, time.Since(start))
		return unknownDecision(), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock transition failed")
		return nil, fmt.Errorf("failed to evaluate access: %w", err)
	}

	decision, err := g.decide(org, now, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status resolution failed")
		observability.FromContext(ctx).WithError(err).Error("Organization has invalid plan status")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gate.status", decision.Status),
		attribute.String("gate.lock_outcome", string(outcome)),
		attribute.Bool("gate.redirected", !decision.Allowed()),
	)
	g.metrics.RecordGateDecision(decision.Status, !decision.Allowed(), time.Since(start))
	return decision, nil
}

// Peek resolves the current status without running the lock transition.
// It is meant for badges; an expired pilot that nobody has accessed since
// its window ended is still reported as pilot with zero days remaining.
func (g *Gate) Peek(ctx context.Context, orgID uuid.UUID) (*Decision, error) {
	if orgID == uuid.Nil {
		return unknownDecision(), nil
	}

	org, err := g.locker.Store().GetOrganization(ctx, orgID)
	if errors.Is(err, orgs.ErrNotFound) {
		return unknownDecision(), nil
	}
	if err != nil {
		return nil, err
	}

	return g.decide(org, g.clock.Now(), Options{AllowedWhenLocked: true})
}

func (g *Gate) decide(org *orgs.Organization, now time.Time, opts Options) (*Decision, error) {
	status, err := orgs.ResolveStatus(org, now)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Status:        string(status.PlanStatus),
		IsLocked:      status.PlanStatus == orgs.PlanStatusLocked,
		IsPilot:       status.PlanStatus == orgs.PlanStatusPilot,
		IsActive:      status.PlanStatus == orgs.PlanStatusActive,
		PilotEnd:      status.PilotEnd,
		DaysRemaining: status.DaysRemaining,
	}
	if d.IsLocked && !opts.AllowedWhenLocked {
		d.RedirectTo = g.billingPath
	}
	return d, nil
}
