package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	sqliteSchema = `
		CREATE TABLE IF NOT EXISTS usage_counters (
			org_id     TEXT    NOT NULL,
			metric     TEXT    NOT NULL,
			day        TEXT    NOT NULL,
			count      INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (org_id, metric, day)
		)
	`
	sqliteReserveQuery = `
		INSERT INTO usage_counters (org_id, metric, day, count, updated_at)
		VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (org_id, metric, day) DO UPDATE
			SET count = usage_counters.count + 1, updated_at = CURRENT_TIMESTAMP
			WHERE usage_counters.count + 1 <= ?
		RETURNING count
	`
	sqlitePeekQuery = `
		SELECT count FROM usage_counters
		WHERE org_id = ? AND metric = ? AND day = ?
	`
	sqliteDeleteBeforeQuery = `DELETE FROM usage_counters WHERE day < ?`
)

// SQLiteStore keeps counters in a local SQLite database for single-node
// deployments. Writers are serialized by SQLite itself.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLiteStore opens path and creates the counter table if needed
func OpenSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY under concurrent reserves
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage_counters: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

// TryIncrement implements Store
func (s *SQLiteStore) TryIncrement(ctx context.Context, key Key, limit int64) (res Result, err error) {
	start := time.Now()
	defer func() {
		s.opts.metrics.RecordStoreOperation("sqlite", "try_increment", time.Since(start), err)
	}()

	if limit < 1 {
		return s.reject(ctx, key)
	}

	var count int64
	err = s.db.QueryRowContext(ctx, sqliteReserveQuery, key.OrgID.String(), key.Metric, key.Day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return s.reject(ctx, key)
	}
	if err != nil {
		return Result{}, unavailable("sqlite reserve", err)
	}
	return Result{Accepted: true, Count: count}, nil
}

func (s *SQLiteStore) reject(ctx context.Context, key Key) (Result, error) {
	current, err := s.Peek(ctx, key)
	if err != nil {
		return Result{}, err
	}
	return Result{Accepted: false, Count: current}, nil
}

// Peek implements Store
func (s *SQLiteStore) Peek(ctx context.Context, key Key) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, sqlitePeekQuery, key.OrgID.String(), key.Metric, key.Day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("sqlite peek", err)
	}
	return count, nil
}

// DeleteBefore removes counters for days strictly before day
func (s *SQLiteStore) DeleteBefore(ctx context.Context, day string) (int64, error) {
	result, err := s.db.ExecContext(ctx, sqliteDeleteBeforeQuery, day)
	if err != nil {
		return 0, unavailable("sqlite delete", err)
	}
	return result.RowsAffected()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
