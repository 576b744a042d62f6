package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func entry(clock *fakeClock, v string, ttl time.Duration) *Entry {
	return &Entry{Data: []byte(v), WrittenAt: clock.Now(), TTL: ttl}
}

func TestMemorySetGetExpires(t *testing.T) {
	clock := newFakeClock()
	mc := NewMemoryCache(WithMemoryClock(clock.Now), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "aave:user:0xabc:1:health", entry(clock, "v1", 30*time.Second)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := mc.Get(ctx, "aave:user:0xabc:1:health")
	if err != nil || string(got.Data) != "v1" {
		t.Fatalf("expected v1, got %v %v", got, err)
	}

	clock.Advance(29 * time.Second)
	if _, err := mc.Get(ctx, "aave:user:0xabc:1:health"); err != nil {
		t.Fatalf("should still be fresh: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := mc.Get(ctx, "aave:user:0xabc:1:health"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss at ttl boundary, got %v", err)
	}
}

func TestMemoryCapacitySweepsExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	mc := NewMemoryCache(WithMemoryClock(clock.Now), WithMemoryCleanup(0), WithMemoryMaxSize(3))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "short:1", entry(clock, "a", time.Second))
	_ = mc.Set(ctx, "short:2", entry(clock, "b", time.Second))
	_ = mc.Set(ctx, "long", entry(clock, "c", time.Hour))
	clock.Advance(2 * time.Second)

	_ = mc.Set(ctx, "new", entry(clock, "d", time.Hour))
	if mc.Len() != 2 {
		t.Fatalf("expected expired entries swept, len=%d", mc.Len())
	}
	if _, err := mc.Get(ctx, "long"); err != nil {
		t.Fatalf("live entry evicted: %v", err)
	}
}

func TestMemoryCapacityEvictsOldestWhenAllFresh(t *testing.T) {
	clock := newFakeClock()
	mc := NewMemoryCache(WithMemoryClock(clock.Now), WithMemoryCleanup(0), WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "first", entry(clock, "a", time.Hour))
	clock.Advance(time.Second)
	_ = mc.Set(ctx, "second", entry(clock, "b", time.Hour))
	clock.Advance(time.Second)
	_ = mc.Set(ctx, "third", entry(clock, "c", time.Hour))

	if _, err := mc.Get(ctx, "first"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("oldest entry should be evicted")
	}
	if mc.Len() != 2 {
		t.Fatalf("len=%d", mc.Len())
	}
}

func TestMemoryDeleteByPattern(t *testing.T) {
	clock := newFakeClock()
	mc := NewMemoryCache(WithMemoryClock(clock.Now), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "aave:user:0x1:1:health", entry(clock, "a", time.Hour))
	_ = mc.Set(ctx, "aave:user:0x2:137:health", entry(clock, "b", time.Hour))
	_ = mc.Set(ctx, "aave:market:global:1:rates", entry(clock, "c", time.Hour))

	n, err := mc.DeleteByPattern(ctx, BuildPattern("aave:user:"))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 removed, got %d %v", n, err)
	}
	if _, err := mc.Get(ctx, "aave:market:global:1:rates"); err != nil {
		t.Fatalf("market key removed: %v", err)
	}
}

func TestGenerateKeyWithParams(t *testing.T) {
	if got := GenerateKeyWithParams("aave", "user", "0xabc", 42161, "health"); got != "aave:user:0xabc:42161:health" {
		t.Fatalf("unexpected key %s", got)
	}
}
