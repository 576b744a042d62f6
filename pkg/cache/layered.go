package cache

import (
	"context"
	"errors"
)

// LayeredCache keeps entries in memory and mirrors every write to a durable
// store, so a restarted process can serve values written before it went down.
type LayeredCache struct {
	memCache *MemoryCache
	durable  Store
}

// NewLayeredCache creates a layered cache. durable may be nil.
func NewLayeredCache(mem *MemoryCache, durable Store) *LayeredCache {
	return &LayeredCache{memCache: mem, durable: durable}
}

// Set writes memory first; a durable failure is returned after the memory write.
func (lc *LayeredCache) Set(ctx context.Context, key string, e *Entry) error {
	_ = lc.memCache.Set(ctx, key, e)
	if lc.durable == nil {
		return nil
	}
	return lc.durable.Set(ctx, key, e)
}

func (lc *LayeredCache) Get(ctx context.Context, key string) (*Entry, error) {
	if e, err := lc.memCache.Get(ctx, key); err == nil {
		return e, nil
	}
	if lc.durable == nil {
		return nil, ErrCacheMiss
	}

	e, err := lc.durable.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Warm L1 with the original write time so expiry is unchanged.
	_ = lc.memCache.Set(ctx, key, e)
	return e, nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	if lc.durable == nil {
		return nil
	}
	return lc.durable.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	n, _ := lc.memCache.DeleteByPattern(ctx, pattern)
	if lc.durable == nil {
		return n, nil
	}
	m, err := lc.durable.DeleteByPattern(ctx, pattern)
	if m > n {
		n = m
	}
	return n, err
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	err := lc.memCache.Close()
	if lc.durable != nil {
		err = errors.Join(err, lc.durable.Close())
	}
	return err
}

// Sweep drops expired entries from the memory tier. The durable tier expires
// entries on its own.
func (lc *LayeredCache) Sweep() int {
	return lc.memCache.Sweep()
}
