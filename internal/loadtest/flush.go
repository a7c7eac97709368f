package loadtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/mindlab/pkg/logger"
)

// Retry constants for batches the server asked us to resend.
const (
	maxAttempts  = 3
	retryBackoff = 200 * time.Millisecond
)

// Batches splits events into consecutive batches of at most size events.
func Batches(events []Event, size int) [][]Event {
	if size < 1 {
		size = 1
	}
	out := make([][]Event, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		end := min(start+size, len(events))
		out = append(out, events[start:end])
	}
	return out
}

// Flush sends events to the server in batches using cfg.Workers concurrent
// senders. Every batch is sent 1+cfg.Repeat times; the server must accept
// retransmits without counting them twice. Flush returns the events of
// batches that could not be delivered so the caller can keep them buffered.
func Flush(ctx context.Context, cfg *Config, client *Client, events []Event, stats *Stats) ([]Event, error) {
	batches := Batches(events, cfg.BatchSize)
	workers := max(cfg.Workers, 1)

	logger.Get().Info(ctx, "flushing offline buffer",
		logger.Int("events", len(events)),
		logger.Int("batches", len(batches)),
		logger.Int("workers", workers),
		logger.Int("repeat", cfg.Repeat))

	var (
		mu      sync.Mutex
		pending []Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, batch := range batches {
		g.Go(func() error {
			for round := 0; round <= cfg.Repeat; round++ {
				resp, err := sendWithRetry(gctx, client, batch)
				mu.Lock()
				stats.Requests++
				if err != nil {
					stats.FailedRequests++
					if round == 0 {
						pending = append(pending, batch...)
					}
					mu.Unlock()
					if cfg.Verbose {
						logger.Get().Warn(gctx, "batch failed", logger.Int("batch", i), logger.Error(err))
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					return nil
				}
				stats.Synced += resp.Synced
				stats.Sent += resp.Total
				mu.Unlock()
				if cfg.Verbose {
					logger.Get().Debug(gctx, "batch synced",
						logger.Int("batch", i),
						logger.Int("round", round),
						logger.Int("synced", resp.Synced),
						logger.Int("total", resp.Total))
				}
			}
			return nil
		})
	}
	err := g.Wait()

	logger.Get().Info(ctx, "flush finished",
		logger.Int("synced", stats.Synced),
		logger.Int("sent", stats.Sent),
		logger.Int("failedRequests", stats.FailedRequests),
		logger.Int("pending", len(pending)))
	return pending, err
}

// sendWithRetry resends a batch while the server reports a retryable status.
func sendWithRetry(ctx context.Context, client *Client, batch []Event) (SyncResponse, error) {
	var (
		resp SyncResponse
		err  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err = client.Sync(ctx, batch)
		var se *StatusError
		if err == nil || !errors.As(err, &se) || !se.Retryable() {
			return resp, err
		}
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return resp, err
}
