package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const orgColumns = `id, name, plan_status, plan_tier, pilot_start, pilot_end, created_at, updated_at`

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore. db must point at the
// primary: the lock transition reads its own writes.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetOrganization retrieves an organization by ID
func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`

	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get organization: %w", ErrStoreUnavailable, err)
	}
	return org, nil
}

// LockIfExpired performs the conditional pilot->locked write. Only one of
// several concurrent callers sees a returned row; the rest fall through to
// a plain read and observe the lock already applied.
func (s *PostgresStore) LockIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (*Organization, bool, error) {
	query := `
		UPDATE organizations
		SET plan_status = 'locked', updated_at = NOW()
		WHERE id = $1 AND plan_status = 'pilot' AND pilot_end IS NOT NULL AND pilot_end < $2
		RETURNING ` + orgColumns

	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, id, now))
	if err == nil {
		return org, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: failed to lock organization: %w", ErrStoreUnavailable, err)
	}

	org, err = s.GetOrganization(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return org, false, nil
}

// Activate moves an organization to active. Called by the external billing
// process once a pilot converts or a locked org pays.
func (s *PostgresStore) Activate(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `
		UPDATE organizations
		SET plan_status = 'active', updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orgColumns

	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to activate organization: %w", ErrStoreUnavailable, err)
	}
	return org, nil
}

// CreateOrganization creates a new organization
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.PlanStatus == "" {
		org.PlanStatus = PlanStatusPilot
	}

	query := `
		INSERT INTO organizations (id, name, plan_status, plan_tier, pilot_start, pilot_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, org.ID, org.Name, org.PlanStatus, org.PlanTier,
		org.PilotStart, org.PilotEnd).Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to create organization: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func scanOrganization(row *sql.Row) (*Organization, error) {
	org := &Organization{}
	var (
		status     string
		tier       sql.NullString
		pilotStart sql.NullTime
		pilotEnd   sql.NullTime
	)
	if err := row.Scan(&org.ID, &org.Name, &status, &tier, &pilotStart, &pilotEnd,
		&org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}

	// Status is validated by ResolveStatus, not here, so that bad rows are
	// reported as data integrity errors instead of read failures.
	org.PlanStatus = PlanStatus(status)
	org.PlanTier = PlanTier(tier.String)
	if pilotStart.Valid {
		t := pilotStart.Time
		org.PilotStart = &t
	}
	if pilotEnd.Valid {
		t := pilotEnd.Time
		org.PilotEnd = &t
	}
	return org, nil
}
