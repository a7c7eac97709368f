package repository

import (
	"context"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to conflicting
// transactions.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy retries up to 8 times starting at 75ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   75 * time.Millisecond,
		MaxDelay:    1200 * time.Millisecond,
	}
}

// Retry calls fn until it succeeds, fails with an error retryable does not
// accept, or the attempts are exhausted (ErrTxConflict).
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	delay := p.BaseDelay
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < p.MaxDelay {
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return ErrTxConflict
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
