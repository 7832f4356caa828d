package orgs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

var lockTracer = otel.Tracer("pilotgate/orgs/lock")

// LockOutcome describes what a lock transition call did
type LockOutcome string

const (
	// LockNotNeeded means the org was active, locked, or an unexpired pilot; nothing was written
	LockNotNeeded LockOutcome = "not_needed"
	// LockApplied means this call performed the pilot->locked write
	LockApplied LockOutcome = "applied"
	// LockObserved means the org was expired but a concurrent caller won the write
	LockObserved LockOutcome = "observed"
)

// Locker moves expired pilot organizations to locked. It is invoked lazily
// on access; there is no background sweep, so an expired org that nobody
// visits stays nominally "pilot" in storage until its next access.
type Locker struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLocker creates a new Locker
func NewLocker(store Store, logger *observability.Logger, metrics *observability.Metrics) *Locker {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Locker{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Store returns the underlying organization store
func (l *Locker) Store() Store {
	return l.store
}

// LockExpiredPilot applies the pilot->locked transition for orgID if its
// pilot window ended before now. Active and locked organizations are
// returned untouched without a write. The returned organization reflects
// storage after the call.
func (l *Locker) LockExpiredPilot(ctx context.Context, orgID uuid.UUID, now time.Time) (*Organization, LockOutcome, error) {
	ctx, span := lockTracer.Start(ctx, "LockExpiredPilot",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	org, err := l.store.GetOrganization(ctx, orgID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get organization failed")
		return nil, "", err
	}

	if !org.PilotExpired(now) {
		span.SetAttributes(attribute.String("outcome", string(LockNotNeeded)))
		return org, LockNotNeeded, nil
	}

	locked, applied, err := l.store.LockIfExpired(ctx, orgID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock transition failed")
		return nil, "", err
	}

	outcome := LockObserved
	if applied {
		outcome = LockApplied
		l.logger.WithFields(map[string]interface{}{
			"org_id":    orgID.String(),
			"pilot_end": org.PilotEnd.Format(time.RFC3339),
		}).Info("Pilot window elapsed, organization locked")
	}
	l.metrics.RecordLockTransition(string(outcome))
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	return locked, outcome, nil
}
