package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/engine/enginetest"
)

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func neverReady(context.Context, int) (bool, error) { return false, nil }

func readyAt(n int) engine.Predicate {
	return func(_ context.Context, attempt int) (bool, error) {
		return attempt == n, nil
	}
}

func TestRetrySucceedsOnFirstAttemptWithoutSleeping(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	res, err := r.Retry(context.Background(), readyAt(0), engine.Budget{
		InterAttemptDelay: time.Second,
		MaxAttempts:       5,
	})

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, engine.AttemptSuccess, res.Attempts[0].Outcome)
	assert.Empty(t, clock.Sleeps())
}

func TestRetrySucceedsAfterPendingAttempts(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	res, err := r.Retry(context.Background(), readyAt(3), engine.Budget{
		InterAttemptDelay: 100 * time.Millisecond,
		MaxDuration:       15 * time.Minute,
	})

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	require.Len(t, res.Attempts, 4)
	for i, a := range res.Attempts[:3] {
		assert.Equal(t, i, a.Index)
		assert.Equal(t, engine.AttemptPending, a.Outcome)
	}
	assert.Equal(t, engine.AttemptSuccess, res.Attempts[3].Outcome)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond,
	}, clock.Sleeps())
	assert.Equal(t, 300*time.Millisecond, res.Elapsed)
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	calls := 0
	res, err := r.Retry(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return false, nil
	}, engine.Budget{MaxAttempts: 7})

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.False(t, res.Succeeded)
	assert.Equal(t, 7, calls)
	assert.Len(t, res.Attempts, 7)
	assert.Empty(t, clock.Sleeps(), "zero delay must not sleep")
}

func TestRetryExhaustsDurationBudget(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	res, err := r.Retry(context.Background(), neverReady, engine.Budget{
		InterAttemptDelay: 100 * time.Millisecond,
		MaxDuration:       time.Second,
	})

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	// Attempts at 0ms..1100ms; the one at 1000ms does not exceed the budget.
	assert.Len(t, res.Attempts, 12)
	assert.Len(t, clock.Sleeps(), 11)
	assert.Equal(t, 1100*time.Millisecond, res.Elapsed)
}

func TestRetryAttemptStartedBeforeDeadlineCounts(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	calls := 0
	res, err := r.Retry(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		clock.Advance(3 * time.Second)
		return calls == 1, nil
	}, engine.Budget{InterAttemptDelay: time.Second, MaxDuration: 2 * time.Second})

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3*time.Second, res.Elapsed)
}

func TestRetryDeadlineCheckedBeforeAttemptBudget(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	res, err := r.Retry(context.Background(), func(context.Context, int) (bool, error) {
		clock.Advance(time.Minute)
		return false, nil
	}, engine.Budget{MaxAttempts: 10, MaxDuration: 90 * time.Second})

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.Len(t, res.Attempts, 2)
}

func TestRetryPropagatesPredicateErrorImmediately(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)
	boom := engine.NewTransportError("read failed", errors.New("connection reset"))

	calls := 0
	res, err := r.Retry(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return false, boom
	}, engine.Budget{InterAttemptDelay: time.Second, MaxAttempts: 10})

	require.Error(t, err)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, engine.AttemptError, res.Attempts[0].Outcome)
	assert.Empty(t, clock.Sleeps())
}

func TestRetryCancelledDuringDelay(t *testing.T) {
	clock := enginetest.NewFakeClock(epoch)
	r := engine.NewRetrier(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.OnSleep = func(n int, _ time.Duration) {
		if n == 1 {
			cancel()
		}
	}

	res, err := r.Retry(ctx, neverReady, engine.Budget{
		InterAttemptDelay: time.Minute,
		MaxAttempts:       6,
	})

	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.False(t, engine.IsTimeout(err))
	assert.Len(t, res.Attempts, 2)
	assert.Equal(t, "operation cancelled", engine.ReasonOf(err))
}

func TestRetryCancelledBeforeFirstAttempt(t *testing.T) {
	r := engine.NewRetrier(enginetest.NewFakeClock(epoch))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	res, err := r.Retry(ctx, func(context.Context, int) (bool, error) {
		called = true
		return true, nil
	}, engine.Budget{MaxAttempts: 1})

	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.False(t, called)
	assert.Empty(t, res.Attempts)
}

func TestRetryCancelledWhilePredicateRuns(t *testing.T) {
	transportErr := engine.NewTransportError("stat backup file failed", context.Canceled)

	tests := []struct {
		name   string
		result bool
		err    error
	}{
		{name: "classified error", err: transportErr},
		{name: "reported ready", result: true},
		{name: "reported pending", result: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := engine.NewRetrier(enginetest.NewFakeClock(epoch))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := r.Retry(ctx, func(context.Context, int) (bool, error) {
				cancel()
				return tt.result, tt.err
			}, engine.Budget{InterAttemptDelay: time.Second, MaxAttempts: 3})

			require.Error(t, err)
			assert.True(t, engine.IsCancelled(err))
			assert.False(t, engine.IsTransport(err))
			assert.False(t, res.Succeeded)
			require.Len(t, res.Attempts, 1)
			assert.Equal(t, engine.AttemptError, res.Attempts[0].Outcome)
		})
	}
}

func TestRetryBareContextErrorFromPredicateIsCancelled(t *testing.T) {
	r := engine.NewRetrier(enginetest.NewFakeClock(epoch))

	_, err := r.Retry(context.Background(), func(context.Context, int) (bool, error) {
		return false, context.Canceled
	}, engine.Budget{MaxAttempts: 3})

	var e *engine.EngineError
	require.ErrorAs(t, err, &e)
	assert.Equal(t, engine.ErrorClassCancelled, e.Class)
}

func TestRetryRejectsUnboundedBudget(t *testing.T) {
	r := engine.NewRetrier(enginetest.NewFakeClock(epoch))

	tests := []struct {
		name   string
		budget engine.Budget
	}{
		{name: "no bounds", budget: engine.Budget{InterAttemptDelay: time.Second}},
		{name: "negative delay", budget: engine.Budget{InterAttemptDelay: -time.Second, MaxAttempts: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Retry(context.Background(), neverReady, tt.budget)
			assert.True(t, engine.IsConfiguration(err))
		})
	}
}

func TestRetryConcurrentRunsDoNotShareState(t *testing.T) {
	r := engine.NewRetrier(engine.SystemClock{})

	var wg sync.WaitGroup
	results := make([]engine.RetryResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Retry(context.Background(), readyAt(i), engine.Budget{MaxAttempts: 10})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.Len(t, res.Attempts, i+1)
	}
}
