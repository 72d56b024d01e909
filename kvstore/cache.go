// Package kvstore provides the state-sharing layers of the messaging core:
// a distributed cache (JetStream key-value or Redis backed) and a blob store
// over the JetStream object store.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tesseract-hub/go-messaging/config"
)

// Cache is a byte-oriented cache. A miss is (nil, nil), not an error, so
// callers distinguish "not cached" from "cache broken" without sentinel
// checks.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetAs reads a cached JSON value into a typed pointer. A miss returns
// (nil, nil).
func GetAs[T any](ctx context.Context, c Cache, key string) (*T, error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode cached value %s: %w", key, err)
	}
	return &v, nil
}

// SetAs writes a value into the cache as JSON.
func SetAs[T any](ctx context.Context, c Cache, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for cache key %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// KVCache is a Cache over a JetStream key-value bucket. The bucket is
// created lazily on first use with the configured TTL; JetStream KV expiry
// is bucket-wide, so per-call TTLs are ignored here and only honored by the
// Redis backend.
type KVCache struct {
	js  jetstream.JetStream
	cfg config.CacheConfig

	mu sync.Mutex
	kv jetstream.KeyValue
}

// NewKVCache builds a cache over the default bucket from cfg.
func NewKVCache(js jetstream.JetStream, cfg config.CacheConfig) *KVCache {
	return &KVCache{js: js, cfg: cfg}
}

func (c *KVCache) bucket(ctx context.Context) (jetstream.KeyValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv != nil {
		return c.kv, nil
	}

	kv, err := c.js.KeyValue(ctx, c.cfg.BucketName)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: c.cfg.BucketName,
			TTL:    c.cfg.DefaultTTL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open cache bucket %s: %w", c.cfg.BucketName, err)
	}
	c.kv = kv
	return kv, nil
}

// Get returns the cached bytes, or (nil, nil) on a miss.
func (c *KVCache) Get(ctx context.Context, key string) ([]byte, error) {
	kv, err := c.bucket(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Set stores the bytes under key. The ttl argument is accepted for Cache
// compatibility; expiry follows the bucket TTL.
func (c *KVCache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	kv, err := c.bucket(ctx)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (c *KVCache) Delete(ctx context.Context, key string) error {
	kv, err := c.bucket(ctx)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
