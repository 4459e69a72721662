// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrMaxRetriesExceeded is matched by every ExhaustedError.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = time.Second
)

// ExhaustedError reports that an operation failed on every allowed attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrMaxRetriesExceeded, e.Attempts, e.Last)
}

// Unwrap exposes the final attempt's error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is makes errors.Is(err, ErrMaxRetriesExceeded) hold.
func (e *ExhaustedError) Is(target error) bool { return target == ErrMaxRetriesExceeded }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// OnRetry is called before each wait with the attempt that just failed (1-based).
type OnRetry func(attempt int, err error)

type settings struct {
	maxAttempts    int
	delay          time.Duration
	attemptTimeout time.Duration
	onRetry        OnRetry
	sleep          Sleeper
	logger         *zap.Logger
}

// Option configures Do.
type Option func(*settings)

// WithMaxAttempts bounds the number of invocations. Values below one are treated as one.
func WithMaxAttempts(n int) Option {
	return func(s *settings) { s.maxAttempts = n }
}

// WithDelay sets the constant wait between attempts.
func WithDelay(d time.Duration) Option {
	return func(s *settings) { s.delay = d }
}

// WithAttemptTimeout bounds each invocation of the operation.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *settings) { s.attemptTimeout = d }
}

// WithOnRetry replaces the default logging hook.
func WithOnRetry(fn OnRetry) Option {
	return func(s *settings) { s.onRetry = fn }
}

// WithSleeper replaces the timer based wait.
func WithSleeper(fn Sleeper) Option {
	return func(s *settings) { s.sleep = fn }
}

// WithLogger sets the logger used by the default hook.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Do runs op until it succeeds, the attempts are used up or ctx is done.
// Waits are constant and happen only between attempts.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts ...Option) (T, error) {
	s := settings{
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultDelay,
		sleep:       sleepContext,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.onRetry == nil {
		logger := s.logger
		maxAttempts, delay := s.maxAttempts, s.delay
		s.onRetry = func(attempt int, err error) {
			logger.Warn("Attempt failed, retrying.",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := invoke(ctx, op, s.attemptTimeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == s.maxAttempts {
			break
		}
		s.onRetry(attempt, err)
		if err := s.sleep(ctx, s.delay); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return zero, &ExhaustedError{Attempts: s.maxAttempts, Last: lastErr}
}

func invoke[T any](ctx context.Context, op func(context.Context) (T, error), timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
