package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache over Redis, for deployments that already run Redis
// and want per-key expiry.
type RedisCache struct {
	rdb        *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache wraps an existing Redis client. defaultTTL applies when Set
// is called with a zero ttl.
func NewRedisCache(rdb *redis.Client, defaultTTL time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, defaultTTL: defaultTTL}
}

// Get returns the cached bytes, or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, nil
}

// Set stores the bytes under key with the given ttl, falling back to the
// default when ttl is zero.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
