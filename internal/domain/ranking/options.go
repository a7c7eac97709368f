package ranking

import (
	"time"

	"github.com/okian/mindlab/internal/adapters/cache"
	"github.com/okian/mindlab/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCache enables read-through caching of leaderboards.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithCacheTTL sets how long a cached leaderboard may be served.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithLoadTimeout bounds a store read shared by concurrent cache misses.
func WithLoadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxLimit caps the number of entries a query may ask for.
func WithMaxLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLimit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
