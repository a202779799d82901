package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vault-snapshots/internal/circuitbreaker"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/models"
)

// CachedSnapshotStore caches listings and baseline lookups in Redis in front of another store.
// Cached keys carry a per-pair generation that every upsert increments, so a fill racing an
// upsert lands under a generation no reader asks for. Cache failures are logged and the call
// falls through to the underlying store. Reads and fills go through a circuit breaker so an
// unreachable Redis is skipped; invalidation always reaches Redis.
type CachedSnapshotStore struct {
	inner   SnapshotStore
	cache   *RedisCache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger
}

// NewCachedSnapshotStore wraps inner with a Redis cache
func NewCachedSnapshotStore(inner SnapshotStore, cache *RedisCache, ttl time.Duration, logger *logging.Logger) *CachedSnapshotStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	logger = logger.WithField("component", "snapshot-cache")
	return &CachedSnapshotStore{
		inner:   inner,
		cache:   cache,
		ttl:     ttl,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("redis-snapshot-cache"), logger),
		logger:  logger,
	}
}

// Addresses keep their case: the backing stores compare them exactly.
func pairPrefix(chainID, vaultAddress string) string {
	return fmt.Sprintf("vault_snapshots:%s:%s", chainID, vaultAddress)
}

func generationKey(chainID, vaultAddress string) string {
	return pairPrefix(chainID, vaultAddress) + ":gen"
}

func indexKey(chainID, vaultAddress string) string {
	return pairPrefix(chainID, vaultAddress) + ":keys"
}

func listKey(chainID, vaultAddress string, gen int64, limit int) string {
	return fmt.Sprintf("%s:g%d:list:%d", pairPrefix(chainID, vaultAddress), gen, limit)
}

func earliestKey(chainID, vaultAddress string, gen int64) string {
	return fmt.Sprintf("%s:g%d:earliest", pairPrefix(chainID, vaultAddress), gen)
}

// Upsert writes through, then moves the pair to a new generation and drops its old entries
func (c *CachedSnapshotStore) Upsert(ctx context.Context, snapshot *models.Snapshot) error {
	if err := c.inner.Upsert(ctx, snapshot); err != nil {
		return err
	}
	if err := c.cache.BumpGeneration(ctx, generationKey(snapshot.ChainID, snapshot.VaultAddress), c.ttl*4); err != nil {
		c.logger.WithError(err).Warn("Failed to advance snapshot cache generation")
	}
	if err := c.cache.DropTracked(ctx, indexKey(snapshot.ChainID, snapshot.VaultAddress)); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate snapshot cache")
	}
	return nil
}

// FindEarliest serves the baseline from cache when present
func (c *CachedSnapshotStore) FindEarliest(ctx context.Context, chainID, vaultAddress string) (*models.Snapshot, error) {
	gen, cacheable := c.generation(ctx, chainID, vaultAddress)
	key := earliestKey(chainID, vaultAddress, gen)

	var cached models.Snapshot
	if cacheable && c.get(ctx, key, &cached) {
		return &cached, nil
	}

	s, err := c.inner.FindEarliest(ctx, chainID, vaultAddress)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.set(ctx, indexKey(chainID, vaultAddress), key, s)
	}
	return s, nil
}

// ListDescendingByTimestamp serves listings from cache when present
func (c *CachedSnapshotStore) ListDescendingByTimestamp(ctx context.Context, chainID, vaultAddress string, limit int) ([]*models.Snapshot, error) {
	limit = ClampLimit(limit)
	gen, cacheable := c.generation(ctx, chainID, vaultAddress)
	key := listKey(chainID, vaultAddress, gen, limit)

	var cached []*models.Snapshot
	if cacheable && c.get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := c.inner.ListDescendingByTimestamp(ctx, chainID, vaultAddress, limit)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.set(ctx, indexKey(chainID, vaultAddress), key, rows)
	}
	return rows, nil
}

// Ping checks the underlying store. Redis availability does not affect health.
func (c *CachedSnapshotStore) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Close closes the cache and the underlying store
func (c *CachedSnapshotStore) Close() error {
	cacheErr := c.cache.Close()
	if err := c.inner.Close(); err != nil {
		return err
	}
	return cacheErr
}

// generation reads the pair's current generation. It reports false when the cache is unusable.
func (c *CachedSnapshotStore) generation(ctx context.Context, chainID, vaultAddress string) (int64, bool) {
	var gen int64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		gen, err = c.cache.Generation(ctx, generationKey(chainID, vaultAddress))
		return err
	})
	if err != nil {
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			c.logger.WithError(err).Warn("Snapshot cache generation read failed")
		}
		return 0, false
	}
	return gen, true
}

func (c *CachedSnapshotStore) get(ctx context.Context, key string, dst interface{}) bool {
	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.cache.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			c.logger.WithError(err).WithField("key", key).Warn("Snapshot cache read failed")
		}
		return false
	}
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cache entry")
		return false
	}
	return true
}

func (c *CachedSnapshotStore) set(ctx context.Context, index, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.SetTracked(ctx, index, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.logger.WithError(err).WithField("key", key).Warn("Snapshot cache write failed")
	}
}
