package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vault-snapshots/internal/config"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(ctx context.Context, cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get retrieves a value by key. A missing key returns redis.Nil.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

// Generation returns the counter stored at key, zero when it does not exist.
func (r *RedisCache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// BumpGeneration increments the counter at key and refreshes its expiry.
func (r *RedisCache) BumpGeneration(ctx context.Context, key string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// SetTracked stores value under key with a TTL and records key in the index set,
// so every key of a group can be dropped together.
func (r *RedisCache) SetTracked(ctx context.Context, index, key string, value []byte, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, ttl*2)
	_, err := pipe.Exec(ctx)
	return err
}

// DropTracked deletes every key recorded in the index set and the set itself.
func (r *RedisCache) DropTracked(ctx context.Context, index string) error {
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	return r.client.Del(ctx, append(keys, index)...).Err()
}
