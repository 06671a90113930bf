// Package retry provides exponential-backoff retry for transient failures
// of outbound calls (in practice: persona utterance generation).
//
// Debate judgment calls deliberately do not use this package: a missed
// judgment falls back to ending the exchange, so retrying would stack
// latency onto a path that already has a safe answer.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	// Zero or negative is treated as 1 (no retries).
	Attempts int
	// BaseDelay is the wait before the second try; each subsequent wait
	// doubles up to CapDelay.
	BaseDelay time.Duration
	// CapDelay bounds the per-try wait.
	CapDelay time.Duration
	// Retryable classifies errors; nil retries every non-nil error.
	Retryable func(err error) bool
}

// DefaultPolicy suits short-lived network calls.
var DefaultPolicy = Policy{
	Attempts:  3,
	BaseDelay: 500 * time.Millisecond,
	CapDelay:  10 * time.Second,
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
// The error from the last try is returned on failure; ctx errors are
// joined in so callers can tell cancellation from exhaustion.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.CapDelay <= 0 {
		p.CapDelay = DefaultPolicy.CapDelay
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	wait := p.BaseDelay
	var lastErr error

	for try := 1; try <= p.Attempts; try++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if try < p.Attempts {
			slog.Debug("retry: try failed, backing off",
				"try", try, "attempts", p.Attempts,
				"err", lastErr, "wait", wait)

			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(wait):
			}

			wait *= 2
			if wait > p.CapDelay {
				wait = p.CapDelay
			}
		}
	}

	return lastErr
}
