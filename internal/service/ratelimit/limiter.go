package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrLimitExceeded is matched by every ExceededError.
	ErrLimitExceeded = errors.New("rate limit exceeded")
	// ErrBackendUnavailable means the counter store could not be reached.
	// Callers must reject the request.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// Result describes the window after a successful consume.
type Result struct {
	Limit     int
	Count     int
	Remaining int
	ResetIn   time.Duration
}

// ExceededError carries how long the caller must wait.
type ExceededError struct {
	Result
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d, retry after %s", e.Count, e.Limit, e.RetryAfter)
}

func (e *ExceededError) Unwrap() error { return ErrLimitExceeded }

// RetryAfterSeconds rounds the wait up to whole seconds, never below 1.
func (e *ExceededError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Limiter counts requests per {identifier, action} in fixed windows that start
// at the first request.
type Limiter interface {
	Consume(ctx context.Context, identifier, action string, limit int, window time.Duration) (Result, error)
}

func counterKey(identifier, action string) string {
	return "ratelimit:" + action + ":" + identifier
}

func evaluate(count, limit int, resetIn time.Duration) (Result, error) {
	res := Result{Limit: limit, Count: count, Remaining: limit - count, ResetIn: resetIn}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if count > limit {
		retry := resetIn
		if retry <= 0 {
			retry = time.Second
		}
		return res, &ExceededError{Result: res, RetryAfter: retry}
	}
	return res, nil
}

type window struct {
	count   int
	expires time.Time
}

// MemoryLimiter keeps counters in process. Use it only for single-instance
// deployments; counters are not shared.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemory creates an in-process limiter.
func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

// SetClock overrides the clock.
func (l *MemoryLimiter) SetClock(now func() time.Time) { l.now = now }

func (l *MemoryLimiter) Consume(_ context.Context, identifier, action string, limit int, win time.Duration) (Result, error) {
	now := l.now()
	key := counterKey(identifier, action)

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &window{expires: now.Add(win)}
		l.windows[key] = w
	}
	w.count++
	count, resetIn := w.count, w.expires.Sub(now)
	if len(l.windows) > 10000 {
		l.pruneLocked(now)
	}
	l.mu.Unlock()

	return evaluate(count, limit, resetIn)
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, k)
		}
	}
}
