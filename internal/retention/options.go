package retention

import (
	"time"

	"github.com/okian/mindlab/pkg/logger"
)

// Option applies a configuration option to the Job.
type Option func(*Job)

// WithDailyRetention keeps the last days daily buckets.
func WithDailyRetention(days int) Option {
	return func(j *Job) { j.dailyKeep = days }
}

// WithWeeklyRetention keeps the last weeks weekly buckets.
func WithWeeklyRetention(weeks int) Option {
	return func(j *Job) { j.weeklyKeep = weeks }
}

// WithInvalidator drops cached leaderboards after a purge.
func WithInvalidator(inv Invalidator) Option {
	return func(j *Job) {
		if inv != nil {
			j.inv = inv
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}
