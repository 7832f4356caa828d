package entitlements

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

func TestPostgresSource_GetOverride(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	source := NewPostgresSource(func() *sql.DB { return db })
	orgID := uuid.New()
	query := regexp.QuoteMeta("SELECT value FROM org_entitlements WHERE org_id = $1 AND feature_key = $2")

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(orgID.String(), "limits_bias_runs_per_day").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("10"))

		value, found, err := source.GetOverride(context.Background(), orgID, "limits_bias_runs_per_day")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "10", value)
	})

	t.Run("absent", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(sql.ErrNoRows)

		_, found, err := source.GetOverride(context.Background(), orgID, "limits_bias_runs_per_day")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(errors.New("too many connections"))

		_, _, err := source.GetOverride(context.Background(), orgID, "limits_bias_runs_per_day")
		assert.ErrorContains(t, err, "too many connections")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileSource(t *testing.T) {
	orgID := uuid.MustParse("9b2f5f3e-4d6c-4f0e-9f39-0d6a3f1d1c11")
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
overrides:
  9b2f5f3e-4d6c-4f0e-9f39-0d6a3f1d1c11:
    limits_bias_runs_per_day: 10
`), 0o644))

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	source, err := NewFileSource(path, logger)
	require.NoError(t, err)

	value, found, err := source.GetOverride(context.Background(), orgID, "limits_bias_runs_per_day")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "10", value)

	t.Run("reloads on change", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, source.Watch(ctx))

		require.NoError(t, os.WriteFile(path, []byte(`
overrides:
  9b2f5f3e-4d6c-4f0e-9f39-0d6a3f1d1c11:
    limits_bias_runs_per_day: 25
`), 0o644))

		assert.Eventually(t, func() bool {
			value, _, _ := source.GetOverride(context.Background(), orgID, "limits_bias_runs_per_day")
			return value == "25"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("invalid org id", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("overrides:\n  not-a-uuid:\n    limits_x_per_day: 1\n"), 0o644))
		_, err := NewFileSource(bad, logger)
		assert.ErrorContains(t, err, "invalid organization id")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"), logger)
		assert.Error(t, err)
	})
}
