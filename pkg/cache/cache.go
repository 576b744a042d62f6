package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss        = errors.New("cache: key not found")
	ErrCacheUnavailable = errors.New("cache: backend unavailable")
)

// Entry is a stored value with the metadata needed for staleness checks.
type Entry struct {
	Data      []byte        `json:"d"`
	WrittenAt time.Time     `json:"w"`
	TTL       time.Duration `json:"t"`
}

// ExpiresAt returns the instant after which the entry must not be served.
func (e *Entry) ExpiresAt() time.Time {
	return e.WrittenAt.Add(e.TTL)
}

// FreshAt reports whether the entry may be served at now.
func (e *Entry) FreshAt(now time.Time) bool {
	return e.TTL > 0 && now.Before(e.ExpiresAt())
}

// Store is a byte-level TTL key/value store.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Close() error
}
