package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanStatus represents where an organization sits in the pilot lifecycle
type PlanStatus string

const (
	PlanStatusPilot  PlanStatus = "pilot"
	PlanStatusActive PlanStatus = "active"
	PlanStatusLocked PlanStatus = "locked"
)

// Valid reports whether s is one of the three known plan statuses
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusPilot, PlanStatusActive, PlanStatusLocked:
		return true
	}
	return false
}

// PlanTier is the commercial tier label attached to an organization.
// It is informational only; gating is driven by PlanStatus.
type PlanTier string

const (
	PlanTierPilot      PlanTier = "pilot"
	PlanTierStarter    PlanTier = "starter"
	PlanTierPro        PlanTier = "pro"
	PlanTierEnterprise PlanTier = "enterprise"
)

// Organization is a tenant record as persisted by the billing/org subsystem
type Organization struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	PlanStatus PlanStatus `json:"plan_status"`
	PlanTier   PlanTier   `json:"plan_tier,omitempty"`
	PilotStart *time.Time `json:"pilot_start,omitempty"`
	PilotEnd   *time.Time `json:"pilot_end,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PilotExpired reports whether the organization is a pilot whose window
// ended strictly before now.
func (o *Organization) PilotExpired(now time.Time) bool {
	return o.PlanStatus == PlanStatusPilot && o.PilotEnd != nil && now.After(*o.PilotEnd)
}

var (
	// ErrNotFound is returned when no organization exists for an ID
	ErrNotFound = errors.New("organization not found")

	// ErrStoreUnavailable wraps any failure of the underlying organization store
	ErrStoreUnavailable = errors.New("organization store unavailable")

	// ErrDataIntegrity matches every *DataIntegrityError via errors.Is
	ErrDataIntegrity = errors.New("organization data integrity error")
)

// DataIntegrityError reports a persisted plan status outside the known set.
// It is surfaced to callers and never coerced to a default.
type DataIntegrityError struct {
	OrgID  uuid.UUID
	Status string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("organization %s has unknown plan status %q", e.OrgID, e.Status)
}

// Is lets errors.Is(err, ErrDataIntegrity) match
func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// IsDataIntegrity checks if an error is a data integrity error
func IsDataIntegrity(err error) bool {
	var die *DataIntegrityError
	return errors.As(err, &die)
}

// Store is the organization record source. Implementations must make
// LockIfExpired a single conditional write so concurrent callers for the
// same organization cannot both apply it.
type Store interface {
	// GetOrganization returns ErrNotFound when the ID is unknown
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)

	// LockIfExpired sets plan_status=locked only where the row is still a
	// pilot whose pilot_end is before now. It returns the current record and
	// whether this call performed the write.
	LockIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (*Organization, bool, error)

	// Activate is the billing hook moving an organization to active
	Activate(ctx context.Context, id uuid.UUID) (*Organization, error)

	// CreateOrganization inserts a new organization, assigning ID when nil
	CreateOrganization(ctx context.Context, org *Organization) error
}
