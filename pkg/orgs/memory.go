package orgs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for development and tests
type MemoryStore struct {
	mu     sync.Mutex
	orgs   map[uuid.UUID]Organization
	writes int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orgs: make(map[uuid.UUID]Organization)}
}

// GetOrganization retrieves an organization by ID
func (s *MemoryStore) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

// LockIfExpired applies pilot->locked under the store mutex
func (s *MemoryStore) LockIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (*Organization, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !org.PilotExpired(now) {
		return &org, false, nil
	}

	org.PlanStatus = PlanStatusLocked
	org.UpdatedAt = now
	s.orgs[id] = org
	s.writes++
	return &org, true, nil
}

// Activate moves an organization to active
func (s *MemoryStore) Activate(ctx context.Context, id uuid.UUID) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	org.PlanStatus = PlanStatusActive
	org.UpdatedAt = time.Now()
	s.orgs[id] = org
	s.writes++
	return &org, nil
}

// CreateOrganization stores a copy of org
func (s *MemoryStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.PlanStatus == "" {
		org.PlanStatus = PlanStatusPilot
	}
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = *org
	return nil
}

// Writes returns how many state-changing writes the store has applied
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
