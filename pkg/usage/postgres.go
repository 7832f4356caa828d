package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	pgReserveQuery = `
		INSERT INTO usage_counters (org_id, metric, day, count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (org_id, metric, day) DO UPDATE
			SET count = usage_counters.count + 1, updated_at = NOW()
			WHERE usage_counters.count + 1 <= $4
		RETURNING count
	`
	pgPeekQuery = `
		SELECT count FROM usage_counters
		WHERE org_id = $1 AND metric = $2 AND day = $3
	`
	pgDeleteBeforeQuery = `DELETE FROM usage_counters WHERE day < $1`
)

// PostgresStore keeps counters in the usage_counters table. The reserve is
// a single conditional upsert, so an abandoned call either applied fully
// or not at all.
type PostgresStore struct {
	db   *sql.DB
	opts options
}

// NewPostgresStore creates a PostgresStore. db must be the primary.
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{
		db:   db,
		opts: buildOptions(opts),
	}
}

// TryIncrement implements Store
func (s *PostgresStore) TryIncrement(ctx context.Context, key Key, limit int64) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "usage.postgres.TryIncrement")
	defer span.End()

	start := time.Now()
	defer func() {
		s.opts.metrics.RecordStoreOperation("postgres", "try_increment", time.Since(start), err)
	}()

	if limit < 1 {
		return s.reject(ctx, key)
	}

	var count int64
	err = s.db.QueryRowContext(ctx, pgReserveQuery, key.OrgID, key.Metric, key.Day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict row exists but the WHERE clause refused the update
		return s.reject(ctx, key)
	}
	if err != nil {
		return Result{}, unavailable("postgres reserve", err)
	}

	return Result{Accepted: true, Count: count}, nil
}

func (s *PostgresStore) reject(ctx context.Context, key Key) (Result, error) {
	current, err := s.peek(ctx, key)
	if err != nil {
		return Result{}, err
	}
	return Result{Accepted: false, Count: current}, nil
}

// Peek implements Store
func (s *PostgresStore) Peek(ctx context.Context, key Key) (count int64, err error) {
	start := time.Now()
	defer func() {
		s.opts.metrics.RecordStoreOperation("postgres", "peek", time.Since(start), err)
	}()
	return s.peek(ctx, key)
}

func (s *PostgresStore) peek(ctx context.Context, key Key) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, pgPeekQuery, key.OrgID, key.Metric, key.Day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("postgres peek", err)
	}
	return count, nil
}

// DeleteBefore removes counters for days strictly before day and returns
// the number of rows removed.
func (s *PostgresStore) DeleteBefore(ctx context.Context, day string) (int64, error) {
	result, err := s.db.ExecContext(ctx, pgDeleteBeforeQuery, day)
	if err != nil {
		return 0, unavailable("postgres delete", err)
	}
	return result.RowsAffected()
}
