package service

import (
	"time"

	"github.com/okian/mindlab/internal/adapters/cache"
	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/internal/domain/scoring"
	"github.com/okian/mindlab/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the durable store. The caller keeps ownership and closes
// it after Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithCache enables leaderboard caching.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithCacheTTL sets how long cached leaderboards are served.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithScoringRules sets the aggregation rules.
func WithScoringRules(rules *scoring.Rules) Option {
	return func(s *Service) {
		if rules != nil {
			s.rules = rules
		}
	}
}

// WithBucketer sets the period bucketing used for aliases and retention.
// It should be the bucketer the scoring rules use.
func WithBucketer(b *period.Bucketer) Option {
	return func(s *Service) {
		if b != nil {
			s.bucketer = b
		}
	}
}

// WithWorkerCount sets the number of cache warm workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the warm queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWarming toggles post-commit cache warming.
func WithWarming(enabled bool) Option {
	return func(s *Service) {
		s.warmEnabled = enabled
	}
}

// WithDedupeSize sets the number of committed keys remembered in memory.
// Zero disables the shortcut.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithLimits sets the default and maximum leaderboard limits.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			s.defaultLimit = min(defaultLimit, s.maxLimit)
		}
	}
}

// WithRetention schedules pruning of expired daily and weekly records. An
// empty schedule disables it.
func WithRetention(schedule string, dailyDays, weeklyWeeks int) Option {
	return func(s *Service) {
		s.retentionSchedule = schedule
		s.dailyRetention = dailyDays
		s.weeklyRetention = weeklyWeeks
	}
}

// WithClock overrides the time source used to resolve period aliases.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
