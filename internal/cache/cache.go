// Package cache provides get/set-with-TTL caching against string keys.
// The Redis backend is the deployment default; the in-memory backend serves
// tests and degraded single-process operation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/domain"
)

// Cache defines simple get/set-with-TTL semantics. Values are JSON-encoded.
type Cache interface {
	// Get unmarshals the cached value for key into out. Returns
	// domain.ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string, out interface{}) error

	// Set stores value under key with the given TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Ping checks backend reachability
	Ping(ctx context.Context) error
}

// redisCache is a Cache backed by Redis
type redisCache struct {
	client adapter.RedisClient
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client adapter.RedisClient) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string, out interface{}) error {
	raw, ok, err := c.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("cache get failed: %w", err)
	}
	if !ok {
		return domain.ErrCacheMiss
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode cached value: %w", err)
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, string(raw), ttl); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// memoryItem is a single in-memory cache entry with expiration
type memoryItem struct {
	raw        []byte
	expiration time.Time
}

// memoryCache is a thread-safe in-memory Cache with TTL support. Expired
// entries are evicted lazily: on read of an expired key and swept on every
// write, so there is no background goroutine to shut down.
type memoryCache struct {
	mu    sync.Mutex
	data  map[string]memoryItem
	clock adapter.Clock
}

// NewMemoryCache creates an in-memory cache
func NewMemoryCache(clock adapter.Clock) Cache {
	return &memoryCache{
		data:  make(map[string]memoryItem),
		clock: clock,
	}
}

func (c *memoryCache) Get(ctx context.Context, key string, out interface{}) error {
	c.mu.Lock()
	item, ok := c.data[key]
	if ok && c.clock.Now().After(item.expiration) {
		delete(c.data, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return domain.ErrCacheMiss
	}
	if err := json.Unmarshal(item.raw, out); err != nil {
		return fmt.Errorf("failed to decode cached value: %w", err)
	}
	return nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	c.mu.Lock()
	now := c.clock.Now()
	for k, item := range c.data {
		if now.After(item.expiration) {
			delete(c.data, k)
		}
	}
	c.data[key] = memoryItem{
		raw:        raw,
		expiration: now.Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Ping(ctx context.Context) error {
	return nil
}
