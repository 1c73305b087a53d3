package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
	gerrors "github.com/slok/goresilience/errors"
	"github.com/slok/goresilience/retry"
	"github.com/slok/goresilience/timeout"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/pkg/logger"
)

// SourceResilienceConfig tunes the middleware chain around a slow or flaky
// definition source.
type SourceResilienceConfig struct {
	Timeout                     time.Duration
	ErrorPercentThresholdToOpen int
	MinimumRequestToOpen        int
	WaitDurationInOpenState     time.Duration
	RetryTimes                  int
	RetryWaitBase               time.Duration
}

// DefaultSourceResilienceConfig returns conservative defaults sized for
// definition fetches rather than hot-path calls.
func DefaultSourceResilienceConfig() *SourceResilienceConfig {
	return &SourceResilienceConfig{
		Timeout:                     10 * time.Second,
		ErrorPercentThresholdToOpen: 50,
		MinimumRequestToOpen:        5,
		WaitDurationInOpenState:     15 * time.Second,
		RetryTimes:                  3,
		RetryWaitBase:               100 * time.Millisecond,
	}
}

// ResilientSource wraps another source with timeout, circuit breaker and
// retry middleware so a degraded backend cannot stall catalog loading.
type ResilientSource struct {
	inner  Source
	runner goresilience.Runner
}

// NewResilientSource builds the middleware chain. The order enforces the
// timeout first, then the breaker, then retries inside it.
func NewResilientSource(inner Source, cfg *SourceResilienceConfig) *ResilientSource {
	if cfg == nil {
		cfg = DefaultSourceResilienceConfig()
	}
	runner := goresilience.RunnerChain(
		timeout.NewMiddleware(timeout.Config{
			Timeout: cfg.Timeout,
		}),
		circuitbreaker.NewMiddleware(circuitbreaker.Config{
			ErrorPercentThresholdToOpen:        cfg.ErrorPercentThresholdToOpen,
			MinimumRequestToOpen:               cfg.MinimumRequestToOpen,
			SuccessfulRequiredOnHalfOpen:       1,
			WaitDurationInOpenState:            cfg.WaitDurationInOpenState,
			MetricsSlidingWindowBucketQuantity: 10,
			MetricsBucketDuration:              1 * time.Second,
		}),
		retry.NewMiddleware(retry.Config{
			Times:    cfg.RetryTimes,
			WaitBase: cfg.RetryWaitBase,
		}),
	)
	return &ResilientSource{inner: inner, runner: runner}
}

// Fetch runs the inner fetch through the middleware chain.
func (s *ResilientSource) Fetch(ctx context.Context) ([]SourceFile, error) {
	var files []SourceFile
	err := s.runner.Run(ctx, func(ctx context.Context) error {
		fetched, fetchErr := s.inner.Fetch(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		files = fetched
		return nil
	})
	if err != nil {
		if errors.Is(err, gerrors.ErrCircuitOpen) {
			logger.FromContext(ctx).Warn("definition source circuit is open", "error", err)
			return nil, core.Errorf(core.ErrCircuitOpen, "definition source rejected: circuit is open")
		}
		if errors.Is(err, gerrors.ErrTimeout) {
			return nil, core.Errorf(core.ErrTimeout, "definition source timed out")
		}
		return nil, err
	}
	return files, nil
}
