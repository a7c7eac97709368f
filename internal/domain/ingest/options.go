package ingest

import (
	"time"

	"github.com/okian/mindlab/internal/domain/dedupe"
	"github.com/okian/mindlab/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithDeduper short-circuits keys already known to be committed.
func WithDeduper(d dedupe.Deduper) Option {
	return func(e *Engine) {
		if d != nil {
			e.dedupe = d
		}
	}
}

// WithInvalidator sets who drops cached leaderboards of changed buckets.
func WithInvalidator(inv Invalidator) Option {
	return func(e *Engine) {
		if inv != nil {
			e.invalidator = inv
		}
	}
}

// WithCommitHook is called with the changed buckets after every commit
// that changed at least one score record.
func WithCommitHook(hook CommitHook) Option {
	return func(e *Engine) {
		if hook != nil {
			e.onCommit = hook
		}
	}
}

// WithClock overrides the time source used for latency and logging.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
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
