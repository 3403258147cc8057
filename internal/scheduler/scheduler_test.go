package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mementolabs/memento/internal/forgetting"
)

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	s := New(Intervals{}, Jobs{}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(Intervals{}, Jobs{}, nil)
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()

	// Stop before start is a no-op too.
	fresh := New(Intervals{}, Jobs{}, nil)
	fresh.Stop()
}

func TestSchedulerRestarts(t *testing.T) {
	s := New(Intervals{}, Jobs{}, nil)
	require.NoError(t, s.Start())
	s.Stop()
	require.NoError(t, s.Start())
	s.Stop()
}

func TestForgetSweepRunsOnTicker(t *testing.T) {
	var runs atomic.Int32
	s := New(Intervals{Forget: 10 * time.Millisecond}, Jobs{
		ForgetSweep: func(context.Context) (forgetting.Report, error) {
			runs.Add(1)
			return forgetting.Report{}, nil
		},
	}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, runs.Load(), int32(0))
}

func TestForgetSweepSingleFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex

	s := New(Intervals{Forget: time.Millisecond}, Jobs{
		ForgetSweep: func(context.Context) (forgetting.Report, error) {
			cur := inFlight.Add(1)
			mu.Lock()
			if cur > maxInFlight.Load() {
				maxInFlight.Store(cur)
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return forgetting.Report{}, nil
		},
	}, nil)
	require.NoError(t, s.Start())

	// Manual triggers race the ticker; the guard must coalesce them.
	for i := 0; i < 10; i++ {
		go s.TriggerForgetSweep(context.Background())
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestCheckpointAfterContentionStorm(t *testing.T) {
	var checkpoints atomic.Int32
	s := New(Intervals{}, Jobs{
		ForgetSweep: func(context.Context) (forgetting.Report, error) {
			return forgetting.Report{ContentionRetries: contentionStormThreshold}, nil
		},
		Checkpoint: func(context.Context) error {
			checkpoints.Add(1)
			return nil
		},
	}, nil)

	s.TriggerForgetSweep(context.Background())
	assert.Equal(t, int32(1), checkpoints.Load())
}

func TestNoCheckpointOnQuietSweep(t *testing.T) {
	var checkpoints atomic.Int32
	s := New(Intervals{}, Jobs{
		ForgetSweep: func(context.Context) (forgetting.Report, error) {
			return forgetting.Report{}, nil
		},
		Checkpoint: func(context.Context) error {
			checkpoints.Add(1)
			return nil
		},
	}, nil)

	s.TriggerForgetSweep(context.Background())
	assert.Zero(t, checkpoints.Load())
}
