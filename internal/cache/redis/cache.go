package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Cache is a plain key/value cache over Redis strings. Multi-key operations
// are sent as one pipeline so their latency is a single round trip.
type Cache struct {
	c *Client
}

// NewCache creates a Cache backed by the given Client.
func NewCache(c *Client) *Cache {
	return &Cache{c: c}
}

// Get returns the value stored at key or domain.ErrNotFound.
func (k *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := k.c.withTimeout(ctx)
	defer cancel()

	data, err := k.c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, classify(err))
	}
	return data, nil
}

// Set stores value under key. A non-positive ttl stores without expiry.
func (k *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := k.c.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := k.c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, classify(err))
	}
	return nil
}

// GetMany fetches all keys in one pipeline. Missing keys are absent from
// the result map.
func (k *Cache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ctx, cancel := k.c.withTimeout(ctx)
	defer cancel()

	pipe := k.c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get many: %w", classify(err))
	}

	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out[keys[i]] = data
	}
	return out, nil
}

// SetMany stores every item with the same ttl in one pipeline.
func (k *Cache) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := k.c.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	pipe := k.c.rdb.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set many: %w", classify(err))
	}
	return nil
}

// Compile-time interface check.
var _ domain.Cache = (*Cache)(nil)
