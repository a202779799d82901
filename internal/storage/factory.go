package storage

import (
	"context"
	"fmt"

	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/retry"
)

// OpenSnapshotStore connects the configured backend, retrying the connection with backoff,
// and wraps it with the Redis cache when enabled. An unreachable Redis disables the cache.
func OpenSnapshotStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (SnapshotStore, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	ctx = logging.WithLogger(ctx, logger)
	log := logger.WithField("backend", cfg.Database.Backend)

	var store SnapshotStore
	switch cfg.Database.Backend {
	case config.BackendPostgres, "":
		var db *PostgresDB
		err := retry.Do(ctx, retry.DefaultConfig(), "postgres connect", func(ctx context.Context, attempt int) error {
			var err error
			db, err = NewPostgresDB(ctx, &cfg.Database.Postgres)
			return err
		})
		if err != nil {
			return nil, err
		}
		store = NewPostgresSnapshotRepository(db)

	case config.BackendClickHouse:
		var db *ClickHouseDB
		err := retry.Do(ctx, retry.DefaultConfig(), "clickhouse connect", func(ctx context.Context, attempt int) error {
			var err error
			db, err = NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
			return err
		})
		if err != nil {
			return nil, err
		}
		store = NewClickHouseSnapshotRepository(db)

	case config.BackendMemory:
		log.Warn("Using in-memory snapshot store; data is lost on exit")
		store = NewMemorySnapshotStore()

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Database.Backend)
	}

	if !cfg.Cache.Enabled {
		return store, nil
	}

	cache, err := NewRedisCache(ctx, &cfg.Database.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, snapshot cache disabled")
		return store, nil
	}
	log.WithField("ttl", cfg.Cache.TTL.String()).Info("Snapshot cache enabled")
	return NewCachedSnapshotStore(store, cache, cfg.Cache.TTL, logger), nil
}
