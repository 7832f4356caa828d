package orgs

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orgColumnNames = []string{"id", "name", "plan_status", "plan_tier", "pilot_start", "pilot_end", "created_at", "updated_at"}

func setupPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func orgRow(id uuid.UUID, status string, pilotEnd interface{}) *sqlmock.Rows {
	created := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(orgColumnNames).
		AddRow(id.String(), "Acme", status, "pilot", created, pilotEnd, created, created)
}

func TestPostgresStore_GetOrganization(t *testing.T) {
	store, mock := setupPostgresStore(t)
	id := uuid.New()
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("SELECT id, name, plan_status")

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(id.String()).WillReturnRows(orgRow(id, "pilot", end))

		org, err := store.GetOrganization(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, org.ID)
		assert.Equal(t, PlanStatusPilot, org.PlanStatus)
		assert.Equal(t, PlanTierPilot, org.PlanTier)
		require.NotNil(t, org.PilotEnd)
		assert.True(t, end.Equal(*org.PilotEnd))
	})

	t.Run("null pilot end", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(id.String()).WillReturnRows(orgRow(id, "active", nil))

		org, err := store.GetOrganization(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, org.PilotEnd)
	})

	t.Run("unknown status is returned as stored", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(id.String()).WillReturnRows(orgRow(id, "trial", nil))

		org, err := store.GetOrganization(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, PlanStatus("trial"), org.PlanStatus)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(sql.ErrNoRows)

		_, err := store.GetOrganization(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("store unavailable", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(errors.New("connection refused"))

		_, err := store.GetOrganization(context.Background(), id)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LockIfExpired(t *testing.T) {
	id := uuid.New()
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	end := now.Add(-time.Hour)
	update := regexp.QuoteMeta("UPDATE organizations")
	selectQ := regexp.QuoteMeta("SELECT id, name, plan_status")

	t.Run("this call applies the lock", func(t *testing.T) {
		store, mock := setupPostgresStore(t)
		mock.ExpectQuery(update).WithArgs(id.String(), now).WillReturnRows(orgRow(id, "locked", end))

		org, applied, err := store.LockIfExpired(context.Background(), id, now)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, PlanStatusLocked, org.PlanStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("another caller already locked", func(t *testing.T) {
		store, mock := setupPostgresStore(t)
		mock.ExpectQuery(update).WithArgs(id.String(), now).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(selectQ).WithArgs(id.String()).WillReturnRows(orgRow(id, "locked", end))

		org, applied, err := store.LockIfExpired(context.Background(), id, now)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, PlanStatusLocked, org.PlanStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update fails", func(t *testing.T) {
		store, mock := setupPostgresStore(t)
		mock.ExpectQuery(update).WillReturnError(errors.New("deadlock detected"))

		_, _, err := store.LockIfExpired(context.Background(), id, now)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestPostgresStore_Activate(t *testing.T) {
	store, mock := setupPostgresStore(t)
	id := uuid.New()
	update := regexp.QuoteMeta("SET plan_status = 'active'")

	mock.ExpectQuery(update).WithArgs(id.String()).WillReturnRows(orgRow(id, "active", nil))
	org, err := store.Activate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusActive, org.PlanStatus)

	mock.ExpectQuery(update).WithArgs(id.String()).WillReturnError(sql.ErrNoRows)
	_, err = store.Activate(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOrganization(t *testing.T) {
	store, mock := setupPostgresStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO organizations")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))

	org := &Organization{Name: "Acme"}
	require.NoError(t, store.CreateOrganization(context.Background(), org))
	assert.NotEqual(t, uuid.Nil, org.ID)
	assert.Equal(t, PlanStatusPilot, org.PlanStatus)
	assert.Equal(t, created, org.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
