package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Store using Redis. Entries carry their write time so
// reads apply the same staleness rule as the memory store.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	cfg := &RedisConfig{
		Prefix: "lendpulse:cache",
		Now:    time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisCache{
		client: client,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}
}

// Client returns underlying redis client.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close is a no-op; the client is owned by the caller.
func (c *RedisCache) Close() error {
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, e *Entry) error {
	if e.TTL <= 0 {
		return fmt.Errorf("redis cache: ttl required for %s", key)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.wrapKey(key), data, e.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, c.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("redis cache: decode %s: %w", key, err)
	}
	if !e.FreshAt(c.now()) {
		return nil, ErrCacheMiss
	}
	return &e, nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Unlink(ctx, c.wrapKeys(keys...)...).Err()
}

// DeleteByPattern removes matching keys using SCAN so large keyspaces are not blocked.
func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	iter := c.client.Scan(ctx, 0, c.wrapKey(pattern), 200).Iterator()
	batch := make([]string, 0, 200)
	removed := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}

func (c *RedisCache) wrapKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

func (c *RedisCache) wrapKeys(keys ...string) []string {
	wrapped := make([]string, len(keys))
	for i, key := range keys {
		wrapped[i] = c.wrapKey(key)
	}
	return wrapped
}
