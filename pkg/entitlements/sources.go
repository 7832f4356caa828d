package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrSourceUnavailable wraps failures of the override source
var ErrSourceUnavailable = errors.New("entitlement source unavailable")

// OverrideSource looks up raw override values
type OverrideSource interface {
	// GetOverride returns the stored value for (orgID, featureKey) and
	// whether one exists.
	GetOverride(ctx context.Context, orgID uuid.UUID, featureKey string) (string, bool, error)
}

// PostgresSource reads org_entitlements. The handle func is called per
// lookup so reads can be spread over replicas.
type PostgresSource struct {
	db func() *sql.DB
}

// NewPostgresSource creates a PostgresSource. Pass
// ConnectionManager.Replica to read from replicas.
func NewPostgresSource(db func() *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// GetOverride implements OverrideSource
func (s *PostgresSource) GetOverride(ctx context.Context, orgID uuid.UUID, featureKey string) (string, bool, error) {
	query := `SELECT value FROM org_entitlements WHERE org_id = $1 AND feature_key = $2`

	var value string
	err := s.db().QueryRowContext(ctx, query, orgID, featureKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get override: %w", err)
	}
	return value, true, nil
}

// MapSource is an in-memory OverrideSource
type MapSource struct {
	mu        sync.RWMutex
	overrides map[uuid.UUID]map[string]string
}

// NewMapSource creates an empty MapSource
func NewMapSource() *MapSource {
	return &MapSource{overrides: make(map[uuid.UUID]map[string]string)}
}

// Set stores an override value
func (s *MapSource) Set(orgID uuid.UUID, featureKey, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[orgID] == nil {
		s.overrides[orgID] = make(map[string]string)
	}
	s.overrides[orgID][featureKey] = value
}

// Replace swaps the whole override table
func (s *MapSource) Replace(overrides map[uuid.UUID]map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = overrides
}

// GetOverride implements OverrideSource
func (s *MapSource) GetOverride(ctx context.Context, orgID uuid.UUID, featureKey string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.overrides[orgID][featureKey]
	return value, ok, nil
}
