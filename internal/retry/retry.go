// Package retry wraps fallible outbound calls with a bounded number of
// fixed-delay retries.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy configures a retried call: one initial attempt plus Retries extra
// attempts, Delay apart.
type Policy struct {
	Retries int
	Delay   time.Duration
}

// Attempts returns the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Do calls fn until it succeeds or the policy is exhausted. The final error is
// returned wrapped so callers can still match it with errors.Is. A cancelled
// ctx aborts the wait between attempts.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
		}
	}
	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
