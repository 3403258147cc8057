package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesContention(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(), func() error {
		calls++
		if calls < 3 {
			return ErrContention
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(), func() error {
		calls++
		return ErrContention
	})
	require.ErrorIs(t, err, ErrContention)
	assert.Equal(t, 4, calls)
}

func TestWithRetryDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(), func() error {
		calls++
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, 8, policy.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, policy.InitialBackoff)
	assert.Equal(t, time.Second, policy.MaxBackoff)

	// A zero policy falls back to the default instead of skipping the call.
	calls := 0
	err := WithRetry(context.Background(), RetryPolicy{}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, fastPolicy(), func() error {
		return ErrContention
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
