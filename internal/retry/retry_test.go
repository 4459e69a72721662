// internal/retry/retry_test.go
package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingSleeper records waits without sleeping.
type countingSleeper struct {
	waits []time.Duration
}

func (c *countingSleeper) sleep(ctx context.Context, d time.Duration) error {
	c.waits = append(c.waits, d)
	return ctx.Err()
}

func TestDo_SucceedsAfterKFailures(t *testing.T) {
	for k := 0; k < 4; k++ {
		sleeper := &countingSleeper{}
		calls := 0
		got, err := Do(context.Background(), func(context.Context) (string, error) {
			calls++
			if calls <= k {
				return "", errors.New("transient")
			}
			return "ok", nil
		}, WithMaxAttempts(5), WithDelay(3*time.Second), WithSleeper(sleeper.sleep))

		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", got)
		assert.Equal(t, k+1, calls)
		assert.Len(t, sleeper.waits, k, "exactly one wait per failure")
		for _, w := range sleeper.waits {
			assert.Equal(t, 3*time.Second, w, "delay is constant")
		}
	}
}

func TestDo_AlwaysFailing(t *testing.T) {
	sleeper := &countingSleeper{}
	calls := 0
	cause := errors.New("connection refused")

	var hooks []int
	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, cause
	}, WithMaxAttempts(5), WithSleeper(sleeper.sleep), WithOnRetry(func(attempt int, err error) {
		hooks = append(hooks, attempt)
		assert.ErrorIs(t, err, cause)
	}))

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Len(t, sleeper.waits, 4, "no wait after the final attempt")
	assert.Equal(t, []int{1, 2, 3, 4}, hooks)

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, cause, "the last underlying error is preserved")
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
}

func TestDo_MaxAttemptsFloor(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	}, WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	}, WithDelay(time.Hour))

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 1, calls)
}

func TestDo_AttemptTimeout(t *testing.T) {
	sleeper := &countingSleeper{}
	var deadlines []bool
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		<-ctx.Done()
		return 0, ctx.Err()
	}, WithMaxAttempts(2), WithAttemptTimeout(10*time.Millisecond), WithSleeper(sleeper.sleep))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, []bool{true, true}, deadlines)
}

func TestDo_DefaultHookLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sleeper := &countingSleeper{}
	calls := 0
	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 1, nil
	}, WithLogger(zap.New(core)), WithSleeper(sleeper.sleep))

	require.NoError(t, err)
	entries := logs.FilterMessage("Attempt failed, retrying.").All()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ContextMap()["attempt"])
	assert.Equal(t, int64(2), entries[1].ContextMap()["attempt"])
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
