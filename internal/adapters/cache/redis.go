package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultScanCount = 500
	defaultKeyPrefix = "mindlab:"
)

// Redis is a cache shared by all replicas.
type Redis struct {
	rdb       *redis.Client
	keyPrefix string
	scanCount int64
}

var _ Cache = (*Redis)(nil)

// RedisOption applies a configuration option to the Redis cache.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.keyPrefix = prefix
	}
}

// WithScanCount sets the SCAN page size used by DeletePrefix.
func WithScanCount(n int64) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.scanCount = n
		}
	}
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, keyPrefix: defaultKeyPrefix, scanCount: defaultScanCount}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, url string, opts ...RedisOption) (*Redis, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrUnavailable, err)
	}
	return NewRedis(rdb, opts...), nil
}

// Get returns the value of key, treating redis.Nil as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return val, true, nil
}

// Set stores val with SETEX.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.SetEx(ctx, r.keyPrefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// DeletePrefix walks matching keys with SCAN and removes each page with
// UNLINK so large buckets never block the server.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	match := escapeGlob(r.keyPrefix+prefix) + "*"
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, r.scanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: scan %s: %w", ErrUnavailable, prefix, err)
		}
		if len(keys) > 0 {
			n, err := r.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: unlink %s: %w", ErrUnavailable, prefix, err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as a pattern so game
// ids are matched literally.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
