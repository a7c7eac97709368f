// Package cache provides the key/value caches in front of leaderboard reads.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel kinds for cache errors.
var (
	ErrUnavailable = errors.New("cache unavailable")
	ErrEmptyPrefix = errors.New("cache prefix must not be empty")
)

// Cache stores serialized values with a TTL.
type Cache interface {
	// Get returns the value of key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores val under key for ttl.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	Close() error
}

// Noop never stores anything. Used when caching is disabled.
type Noop struct{}

var _ Cache = Noop{}

// Get always misses.
func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards val.
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// DeletePrefix removes nothing.
func (Noop) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
