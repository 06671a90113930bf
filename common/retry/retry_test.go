package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bdobrica/Kokoro/common/retry"
)

func TestDo_SuccessOnFirstTry(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	transient := errors.New("transient")
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil after eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_GivesUpWhenExhausted(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent")
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_RetryablePredicate(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retries for permanent error), got %d", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_ = retry.Do(ctx, retry.Policy{Attempts: 5, BaseDelay: 10 * time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	// At most one call should land before the context check stops the loop.
	if calls > 2 {
		t.Fatalf("too many calls (%d) with cancelled context", calls)
	}
}
