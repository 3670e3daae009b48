package services

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds the reconciliation loop: Attempts total calls with a fixed Delay
// between them. There is no sleep after the last attempt.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 3 * time.Second}
}

// Do calls fn until it reports done, returns an error that is not ErrTransient, or the
// attempts run out. On exhaustion it returns (false, last transient error or nil).
// Cancelling ctx stops the loop with ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) (bool, error)) (bool, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		done, err := fn(ctx, attempt)
		if done {
			return true, nil
		}
		if err != nil && !errors.Is(err, ErrTransient) {
			return false, err
		}
		last = err
		if attempt == attempts {
			break
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return false, last
}
