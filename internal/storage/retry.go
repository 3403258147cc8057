package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to contended writes.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries contended operations up to 8 times with full
// jitter, starting at 50ms and capping at 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    8,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// WithRetry runs fn, retrying on ErrContention with exponential backoff and
// full jitter. Any other error, and contention after the attempt budget is
// spent, is returned to the caller. The context deadline is honoured
// between attempts.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}

	backoff := policy.InitialBackoff
	var err error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Full jitter: sleep a uniform fraction of the current backoff.
			delay := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}

		err = fn()
		if err == nil || !errors.Is(err, ErrContention) {
			return err
		}
	}

	return err
}
