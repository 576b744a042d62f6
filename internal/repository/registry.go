package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	drepo "LendPulse/internal/domain/repository"
)

// RedisAccountRegistry keeps one sorted set per network scored by last read.
type RedisAccountRegistry struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisAccountRegistry creates a registry under prefix.
func NewRedisAccountRegistry(client *redis.Client, prefix string) drepo.AccountRegistry {
	if prefix == "" {
		prefix = "lendpulse"
	}
	return &RedisAccountRegistry{client: client, prefix: prefix + ":registry", now: time.Now}
}

func (r *RedisAccountRegistry) key(networkID uint64) string {
	return r.prefix + ":" + strconv.FormatUint(networkID, 10)
}

func (r *RedisAccountRegistry) networksKey() string {
	return r.prefix + ":networks"
}

func (r *RedisAccountRegistry) Touch(ctx context.Context, networkID uint64, address string) error {
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.key(networkID), redis.Z{
		Score:  float64(r.now().UnixMilli()),
		Member: strings.ToLower(address),
	})
	pipe.SAdd(ctx, r.networksKey(), networkID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry touch: %w", err)
	}
	return nil
}

// Active returns the most recently read accounts first.
func (r *RedisAccountRegistry) Active(ctx context.Context, networkID uint64, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	addrs, err := r.client.ZRevRange(ctx, r.key(networkID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry active: %w", err)
	}
	return addrs, nil
}

func (r *RedisAccountRegistry) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	networks, err := r.client.SMembers(ctx, r.networksKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("registry networks: %w", err)
	}
	max := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	var total int64
	for _, n := range networks {
		removed, err := r.client.ZRemRangeByScore(ctx, r.prefix+":"+n, "-inf", max).Result()
		if err != nil {
			return total, fmt.Errorf("registry prune %s: %w", n, err)
		}
		total += removed
	}
	return total, nil
}

// MemoryAccountRegistry is the single-process registry.
type MemoryAccountRegistry struct {
	mu   sync.Mutex
	seen map[uint64]map[string]time.Time
	now  func() time.Time
}

// NewMemoryAccountRegistry creates an empty registry.
func NewMemoryAccountRegistry() *MemoryAccountRegistry {
	return &MemoryAccountRegistry{seen: make(map[uint64]map[string]time.Time), now: time.Now}
}

func (r *MemoryAccountRegistry) Touch(_ context.Context, networkID uint64, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.seen[networkID]
	if !ok {
		m = make(map[string]time.Time)
		r.seen[networkID] = m
	}
	m[strings.ToLower(address)] = r.now()
	return nil
}

func (r *MemoryAccountRegistry) Active(_ context.Context, networkID uint64, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.seen[networkID]
	out := make([]string, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := m[out[i]], m[out[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i] < out[j]
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAccountRegistry) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.seen {
		for a, t := range m {
			if t.Before(olderThan) {
				delete(m, a)
				n++
			}
		}
	}
	return n, nil
}
