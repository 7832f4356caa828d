// Package bootstrap opens the stores selected by configuration and hands
// them to the server and the usage janitor.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/pilotgate/pkg/config"
	"github.com/platinummonkey/pilotgate/pkg/entitlements"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/orgs"
	"github.com/platinummonkey/pilotgate/pkg/storage/postgres"
	"github.com/platinummonkey/pilotgate/pkg/usage"
)

// Pruner deletes counter buckets older than a day
type Pruner interface {
	DeleteBefore(ctx context.Context, day string) (int64, error)
}

// Stores holds every backing store for one process
type Stores struct {
	Orgs      orgs.Store
	Overrides entitlements.OverrideSource
	Counters  usage.Store

	conns     *postgres.ConnectionManager
	redis     *redis.Client
	overrides *entitlements.FileSource
	closers   []func() error
	logger    *observability.Logger
}

// Open connects the stores named in cfg. Network backends are retried with
// exponential backoff for up to cfg.Storage.ConnectTimeout.
func Open(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*Stores, error) {
	s := &Stores{logger: logger}
	if err := s.open(ctx, cfg, metrics); err != nil {
		if closeErr := s.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Stores) open(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) error {
	st := cfg.Storage

	if st.NeedsPostgres() {
		err := Retry(ctx, s.logger, "postgres", st.ConnectTimeout, func() error {
			cm, err := postgres.NewConnectionManager(ctx, st.ConnectionConfig(), s.logger)
			if err != nil {
				return err
			}
			s.conns = cm
			return nil
		})
		if err != nil {
			return err
		}
		s.closers = append(s.closers, s.conns.Close)

		if st.AutoMigrate {
			if err := postgres.Migrate(ctx, s.conns.Primary()); err != nil {
				return err
			}
		}
	}

	if st.CounterBackend == config.BackendRedis {
		err := Retry(ctx, s.logger, "redis", st.ConnectTimeout, func() error {
			client, err := postgres.NewRedisClient(ctx, st.RedisConfig())
			if err != nil {
				return err
			}
			s.redis = client
			return nil
		})
		if err != nil {
			return err
		}
		s.closers = append(s.closers, s.redis.Close)
	}

	switch st.OrgStore {
	case config.BackendPostgres:
		s.Orgs = orgs.NewPostgresStore(s.conns.Primary())
		s.Overrides = entitlements.NewPostgresSource(s.conns.Replica)
	default:
		s.Orgs = orgs.NewMemoryStore()
		s.Overrides = entitlements.NewMapSource()
	}

	// A file, when configured, replaces the default override source
	if st.OverridesFile != "" {
		fs, err := entitlements.NewFileSource(st.OverridesFile, s.logger)
		if err != nil {
			return err
		}
		s.overrides = fs
		s.Overrides = fs
	}

	counterOpts := []usage.Option{
		usage.WithRetention(cfg.Gate.CounterRetention),
		usage.WithMetrics(metrics),
	}
	switch st.CounterBackend {
	case config.BackendRedis:
		s.Counters = usage.NewRedisStore(s.redis, counterOpts...)
	case config.BackendPostgres:
		s.Counters = usage.NewPostgresStore(s.conns.Primary(), counterOpts...)
	case config.BackendSQLite:
		store, err := usage.OpenSQLiteStore(ctx, st.SQLitePath, counterOpts...)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store.Close)
		s.Counters = store
	case config.BackendMemory:
		s.Counters = usage.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported counter backend: %s", st.CounterBackend)
	}

	s.logger.WithFields(map[string]interface{}{
		"org_store":       st.OrgStore,
		"counter_backend": st.CounterBackend,
		"overrides_file":  st.OverridesFile,
	}).Info("Stores opened")
	return nil
}

// WatchOverrides hot-reloads the overrides file until ctx is done. It is a
// no-op when overrides do not come from a file.
func (s *Stores) WatchOverrides(ctx context.Context) error {
	if s.overrides == nil {
		return nil
	}
	return s.overrides.Watch(ctx)
}

// Pruner returns the counter store when it supports retention deletes.
// Redis expires keys on its own and reports false.
func (s *Stores) Pruner() (Pruner, bool) {
	p, ok := s.Counters.(Pruner)
	return p, ok
}

// DB returns the primary database, nil without postgres
func (s *Stores) DB() *sql.DB {
	if s.conns == nil {
		return nil
	}
	return s.conns.Primary()
}

// Connections returns the postgres connection manager, nil without postgres
func (s *Stores) Connections() *postgres.ConnectionManager {
	return s.conns
}

// Redis returns the redis client, nil unless counters live in redis
func (s *Stores) Redis() *redis.Client {
	return s.redis
}

// Close releases every connection, newest first
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Retry runs connect with exponential backoff until it succeeds, ctx ends
// or maxElapsed passes. A zero maxElapsed makes a single attempt.
func Retry(ctx context.Context, logger *observability.Logger, what string, maxElapsed time.Duration, connect func() error) error {
	if maxElapsed <= 0 {
		if err := connect(); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", what, err)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = maxElapsed

	err := backoff.RetryNotify(connect, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
		logger.WithError(err).WithField("retry_in", wait.String()).Warnf("Waiting for %s", what)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", what, err)
	}
	return nil
}
