package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryCache implements Store in process memory.
type MemoryCache struct {
	data    map[string]*Entry
	mutex   sync.RWMutex
	maxSize int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:    make(map[string]*Entry),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		stop:    make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go mc.cleanupLoop(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, e *Entry) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.sweepExpired()
		if len(mc.data) >= mc.maxSize {
			mc.evictOldest()
		}
	}

	cp := *e
	mc.data[key] = &cp
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	mc.mutex.RLock()
	item, exists := mc.data[key]
	mc.mutex.RUnlock()

	if !exists {
		return nil, ErrCacheMiss
	}
	if !item.FreshAt(mc.now()) {
		mc.mutex.Lock()
		if cur, ok := mc.data[key]; ok && cur == item {
			delete(mc.data, key)
		}
		mc.mutex.Unlock()
		return nil, ErrCacheMiss
	}
	cp := *item
	return &cp, nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

// DeleteByPattern removes keys matching a glob pattern (Redis-style * and ?).
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	removed := 0
	for key := range mc.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(mc.data, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (mc *MemoryCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.data)
}

// Sweep removes every expired entry and returns how many were dropped.
func (mc *MemoryCache) Sweep() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return mc.sweepExpired()
}

func (mc *MemoryCache) sweepExpired() int {
	now := mc.now()
	removed := 0
	for key, item := range mc.data {
		if !item.FreshAt(now) {
			delete(mc.data, key)
			removed++
		}
	}
	return removed
}

func (mc *MemoryCache) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, item := range mc.data {
		if oldestKey == "" || item.WrittenAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.WrittenAt
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.Sweep()
		case <-mc.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}
