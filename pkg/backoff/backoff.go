package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrAttemptsExhausted is wrapped around the last error when MaxAttempts is reached.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep pauses for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jitter returns a duration drawn uniformly from [min, max).
// When max <= min the result is min.
func Jitter(min, max time.Duration) time.Duration {
	return jitter(rand.Int64N, min, max)
}

func jitter(int64n func(int64) int64, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(int64n(int64(max-min)))
}

// Policy retries an operation with a jittered delay between attempts.
// MaxAttempts of zero means retry until success or context cancellation.
type Policy struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	Sleep SleepFunc
	// Int64N draws the jitter; defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// RetryHook observes each failed attempt before the policy waits.
type RetryHook func(attempt int, delay time.Duration, err error)

// Do runs op until it succeeds, attempts run out, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry RetryHook) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	int64n := p.Int64N
	if int64n == nil {
		int64n = rand.Int64N
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}

		delay := jitter(int64n, p.MinDelay, p.MaxDelay)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Pauser sleeps a random duration within bounds; it satisfies ports.Sleeper.
type Pauser struct {
	Sleep  SleepFunc
	Int64N func(n int64) int64
}

// SleepBetween pauses for a duration drawn uniformly from [min, max).
func (p Pauser) SleepBetween(ctx context.Context, min, max time.Duration) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	int64n := p.Int64N
	if int64n == nil {
		int64n = rand.Int64N
	}
	return sleep(ctx, jitter(int64n, min, max))
}
