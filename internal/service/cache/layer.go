package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	drepo "LendPulse/internal/domain/repository"
	pkgcache "LendPulse/pkg/cache"
	"LendPulse/pkg/logger"
)

// Layer sits in front of the protocol reader. It never returns store errors to
// callers: any backend failure is logged and treated as a miss.
type Layer struct {
	store   pkgcache.Store
	logger  *logger.Logger
	metrics drepo.Metrics
	group   singleflight.Group
	now     func() time.Time

	hits, misses, joins atomic.Int64
}

// Stats are lookup counters since start.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Joins  int64 `json:"joins"`
}

// Stats returns the lookup counters.
func (l *Layer) Stats() Stats {
	return Stats{Hits: l.hits.Load(), Misses: l.misses.Load(), Joins: l.joins.Load()}
}

func (l *Layer) record(key, result string) {
	switch result {
	case "hit":
		l.hits.Add(1)
	case "miss":
		l.misses.Add(1)
	case "join":
		l.joins.Add(1)
	}
	l.metrics.RecordCacheLookup(namespaceOf(key), result)
}

// NewLayer wraps a store.
func NewLayer(store pkgcache.Store, lgr *logger.Logger, m drepo.Metrics) *Layer {
	if m == nil {
		m = drepo.NopMetrics{}
	}
	return &Layer{store: store, logger: lgr, metrics: m, now: time.Now}
}

// SetClock overrides the clock used for write timestamps.
func (l *Layer) SetClock(now func() time.Time) { l.now = now }

// Get returns the fresh entry for key or nil.
func (l *Layer) Get(ctx context.Context, key string) *pkgcache.Entry {
	e, err := l.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			l.logger.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		}
		return nil
	}
	return e
}

// GetInto decodes the cached value into dest. It reports false on miss or decode failure.
func (l *Layer) GetInto(ctx context.Context, key string, dest interface{}) (*pkgcache.Entry, bool) {
	e, ok := l.decode(ctx, key, dest)
	if !ok {
		l.record(key, "miss")
		return nil, false
	}
	l.record(key, "hit")
	return e, true
}

func (l *Layer) decode(ctx context.Context, key string, dest interface{}) (*pkgcache.Entry, bool) {
	e := l.Get(ctx, key)
	if e == nil {
		return nil, false
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		l.logger.Warn("cache decode failed", logger.String("key", key), logger.Error(err))
		return nil, false
	}
	return e, true
}

// Set stores value under key for ttl. Nil values are not cached.
func (l *Layer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *pkgcache.Entry {
	if value == nil || ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		l.logger.Warn("cache encode failed", logger.String("key", key), logger.Error(err))
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	e := &pkgcache.Entry{Data: data, WrittenAt: l.now(), TTL: ttl}
	if err := l.store.Set(ctx, key, e); err != nil {
		l.logger.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
	return e
}

// Invalidate removes key.
func (l *Layer) Invalidate(ctx context.Context, key string) {
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.Warn("cache invalidate failed", logger.String("key", key), logger.Error(err))
	}
}

// DeleteByPattern removes matching keys and returns how many were removed.
func (l *Layer) DeleteByPattern(ctx context.Context, pattern string) int {
	n, err := l.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		l.logger.Warn("cache pattern delete failed", logger.String("pattern", pattern), logger.Error(err))
	}
	return n
}

// Result is a value together with its freshness metadata.
type Result[T any] struct {
	Value       *T
	FromCache   bool
	LastUpdated time.Time
}

// Fetch returns the cached value for key or runs produce exactly once across
// concurrent callers. Every caller that joins an in-flight fetch observes the
// same value or the same error. Successful non-nil results are cached for ttl.
func Fetch[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, produce func(context.Context) (*T, error)) (Result[T], error) {
	var cached T
	if e, ok := l.GetInto(ctx, key, &cached); ok {
		return Result[T]{Value: &cached, FromCache: true, LastUpdated: e.WrittenAt}, nil
	}

	v, err, shared := l.group.Do(key, func() (interface{}, error) {
		// A flight that finished between our miss and Do has already written
		// the entry. The miss was recorded above.
		var again T
		if e, ok := l.decode(ctx, key, &again); ok {
			return Result[T]{Value: &again, FromCache: true, LastUpdated: e.WrittenAt}, nil
		}
		value, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		res := Result[T]{Value: value, LastUpdated: l.now()}
		if value != nil {
			if e := l.Set(ctx, key, value, ttl); e != nil {
				res.LastUpdated = e.WrittenAt
			}
		}
		return res, nil
	})
	if shared {
		l.record(key, "join")
	}
	if err != nil {
		return Result[T]{}, err
	}
	return v.(Result[T]), nil
}

func namespaceOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return key
	}
	return parts[0] + ":" + parts[1]
}

type sweeper interface {
	Sweep() int
}

// PurgeExpired drops expired entries from stores that keep them until read.
func (l *Layer) PurgeExpired() int {
	if s, ok := l.store.(sweeper); ok {
		return s.Sweep()
	}
	return 0
}
