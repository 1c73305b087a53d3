package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/executor"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/pkg/config"
)

// expSeries yields initialDelay, then multiplies by multiplier up to
// maxDelay: delay(n) = min(maxDelay, initialDelay*multiplier^(n-1)).
func expSeries(initial, maxDelay time.Duration, multiplier float64) retry.Backoff {
	next := float64(initial)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(next)
		if d >= maxDelay || d <= 0 {
			return maxDelay, false
		}
		next *= multiplier
		return d, false
	})
}

func newBackoff(policy *task.RetryPolicy, d config.RetryConfig) retry.Backoff {
	retries := 0
	if policy != nil {
		retries = policy.MaxRetryCountOr(d.MaxRetryCount)
	}
	series := expSeries(
		policy.InitialDelayOr(d.InitialDelay),
		policy.MaxDelayOr(d.MaxDelay),
		policy.MultiplierOr(d.Multiplier),
	)
	return retry.WithMaxRetries(uint64(retries), series) //nolint:gosec // retries is validated >= 0
}

// runRetry drives the executor through the retry policy. It returns the
// terminal response, every attempt failure in order, and the retry count
// (invocations minus one).
func (s *Stack) runRetry(ctx context.Context, plan *Plan) (*executor.Response, []*core.Error, int) {
	policy := plan.retryPolicy()
	var last *executor.Response
	var attempts []*core.Error
	calls := 0

	doErr := retry.Do(ctx, newBackoff(policy, s.retryDefaults), func(ctx context.Context) error {
		calls++
		last = s.runner.Execute(ctx, plan.Request)
		if last.Error == nil {
			return nil
		}
		attempts = append(attempts, last.Error)
		if policy != nil && last.Error.Retryable() {
			return retry.RetryableError(last.Error)
		}
		return last.Error
	})

	retries := calls - 1
	if retries < 0 {
		retries = 0
	}
	if retries > 0 {
		recordRetries(ctx, retries)
	}
	if doErr == nil {
		return last, attempts, retries
	}

	terminal, ok := core.AsError(doErr)
	if !ok {
		// retry.Do bailed out of a pending delay (or before the first
		// attempt) with the raw context error.
		terminal = core.FromError(doErr)
		now := s.clock.Now()
		terminal.WithTiming(now, 0)
		attempts = append(attempts, terminal)
	}
	terminal.RetryAttempts = retries
	if last != nil && last.Error != nil && last.Error == terminal {
		return last, attempts, retries
	}
	now := s.clock.Now()
	return &executor.Response{Error: terminal, StartedAt: now, CompletedAt: now}, attempts, retries
}
