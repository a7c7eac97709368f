package repository

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errConflict = errors.New("conflict")

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func isConflict(err error) bool { return errors.Is(err, errConflict) }

func TestRetry_SucceedsAfterConflicts(t *testing.T) {
	calls := 0
	retries := 0
	p := fastPolicy(5)
	p.OnRetry = func(int, error) { retries++ }

	err := Retry(context.Background(), p, isConflict, func(context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("calls=%d retries=%d, want 3 and 2", calls, retries)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), isConflict, func(context.Context) error {
		calls++
		return errConflict
	})
	if !errors.Is(err, ErrTxConflict) {
		t.Errorf("expected ErrTxConflict, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), isConflict, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	p.OnRetry = func(int, error) { cancel() }

	err := Retry(ctx, p, isConflict, func(context.Context) error { return errConflict })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
