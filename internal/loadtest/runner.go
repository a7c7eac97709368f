package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/mindlab/pkg/logger"
)

// percentage multiplier for rates.
const percentageMultiplier = 100

// GenerateToBuffer generates events and appends them to the offline buffer.
func GenerateToBuffer(ctx context.Context, cfg *Config) (int, error) {
	existing, err := LoadBuffer(cfg.BufferFile)
	if err != nil {
		return 0, err
	}
	events, err := Generate(ctx, cfg, time.Now())
	if err != nil {
		return 0, err
	}
	if err := SaveBuffer(cfg.BufferFile, append(existing, events...)); err != nil {
		return 0, err
	}
	logger.Get().Info(ctx, "offline buffer written",
		logger.String("file", cfg.BufferFile),
		logger.Int("generated", len(events)),
		logger.Int("buffered", len(existing)+len(events)))
	return len(events), nil
}

// FlushBuffer sends the offline buffer and keeps only undelivered events.
func FlushBuffer(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	events, err := LoadBuffer(cfg.BufferFile)
	if err != nil {
		return nil, err
	}
	stats.EventsGenerated = len(events)
	stats.DistinctKeys = DistinctKeys(events)
	if len(events) == 0 {
		logger.Get().Info(ctx, "offline buffer is empty", logger.String("file", cfg.BufferFile))
		return stats, nil
	}

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	pending, flushErr := Flush(ctx, cfg, client, events, stats)
	if err := SaveBuffer(cfg.BufferFile, pending); err != nil {
		return stats, err
	}
	finish(stats)
	if flushErr != nil {
		return stats, flushErr
	}
	if len(pending) > 0 {
		return stats, fmt.Errorf("%d events left in %s", len(pending), cfg.BufferFile)
	}
	return stats, nil
}

// Run generates a fresh set of sessions, flushes them with retransmits and
// verifies the server's results. It does not touch the buffer file.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	logger.Get().Info(ctx, "starting sync load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Int("workers", cfg.Workers),
		logger.Int("repeat", cfg.Repeat),
		logger.String("timeout", cfg.Timeout.String()))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	events, err := Generate(ctx, cfg, time.Now())
	if err != nil {
		return nil, fmt.Errorf("event generation failed: %w", err)
	}
	stats.EventsGenerated = len(events)
	stats.DistinctKeys = DistinctKeys(events)

	pending, err := Flush(ctx, cfg, client, events, stats)
	if err != nil {
		return stats, fmt.Errorf("flush failed: %w", err)
	}
	if len(pending) > 0 {
		return stats, fmt.Errorf("%d events were not delivered", len(pending))
	}

	finish(stats)
	if err := Verify(ctx, cfg, client, stats); err != nil {
		return stats, err
	}
	logger.Get().Info(ctx, "load run completed successfully")
	return stats, nil
}

func finish(stats *Stats) {
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
}

// DisplayStats logs the run statistics.
func DisplayStats(ctx context.Context, stats *Stats) {
	var successRate, eventsPerSecond float64
	if stats.Requests > 0 {
		successRate = float64(stats.Requests-stats.FailedRequests) / float64(stats.Requests) * percentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.Sent) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("distinctKeys", stats.DistinctKeys),
		logger.Int("requests", stats.Requests),
		logger.Int("failedRequests", stats.FailedRequests),
		logger.Int("sent", stats.Sent),
		logger.Int("synced", stats.Synced),
		logger.Int("boards", stats.Boards),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
