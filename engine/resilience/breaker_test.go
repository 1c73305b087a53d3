package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/pkg/config"
)

func testBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		SamplingDuration: 60 * time.Second,
		BreakDuration:    30 * time.Second,
		HalfOpenRequests: 2,
	}
}

func TestBreakerTable(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("Should stay closed below the failure threshold", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		table.RecordFailure(ctx, "k", s)
		table.RecordFailure(ctx, "k", s)
		state, admitted := table.Admit(ctx, "k", s)
		assert.True(t, admitted)
		assert.Equal(t, BreakerClosed, state)
		snap := table.Snapshot("k")
		assert.Equal(t, "closed", snap.State)
		assert.Equal(t, 2, snap.Failures)
	})

	t.Run("Should open at the threshold and reject calls", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		for i := 0; i < 3; i++ {
			table.RecordFailure(ctx, "k", s)
		}
		state, admitted := table.Admit(ctx, "k", s)
		assert.False(t, admitted)
		assert.Equal(t, BreakerOpen, state)
		assert.Equal(t, "open", table.Snapshot("k").State)
	})

	t.Run("Should reset the consecutive count on success", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		table.RecordFailure(ctx, "k", s)
		table.RecordFailure(ctx, "k", s)
		table.RecordSuccess(ctx, "k", s)
		table.RecordFailure(ctx, "k", s)
		table.RecordFailure(ctx, "k", s)
		_, admitted := table.Admit(ctx, "k", s)
		assert.True(t, admitted)
	})

	t.Run("Should restart the count when the sampling window lapses", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		table.RecordFailure(ctx, "k", s)
		table.RecordFailure(ctx, "k", s)
		clock.Advance(61 * time.Second)
		table.RecordFailure(ctx, "k", s)
		_, admitted := table.Admit(ctx, "k", s)
		assert.True(t, admitted)
		assert.Equal(t, 1, table.Snapshot("k").Failures)
	})

	t.Run("Should move to half-open after the break duration", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		for i := 0; i < 3; i++ {
			table.RecordFailure(ctx, "k", s)
		}
		clock.Advance(29 * time.Second)
		_, admitted := table.Admit(ctx, "k", s)
		require.False(t, admitted)
		clock.Advance(1 * time.Second)
		state, admitted := table.Admit(ctx, "k", s)
		assert.True(t, admitted)
		assert.Equal(t, BreakerHalfOpen, state)
	})

	t.Run("Should close after enough half-open successes", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		for i := 0; i < 3; i++ {
			table.RecordFailure(ctx, "k", s)
		}
		clock.Advance(30 * time.Second)
		_, admitted := table.Admit(ctx, "k", s)
		require.True(t, admitted)
		table.RecordSuccess(ctx, "k", s)
		assert.Equal(t, "half_open", table.Snapshot("k").State)
		table.RecordSuccess(ctx, "k", s)
		assert.Equal(t, "closed", table.Snapshot("k").State)
		state, admitted := table.Admit(ctx, "k", s)
		assert.True(t, admitted)
		assert.Equal(t, BreakerClosed, state)
	})

	t.Run("Should re-open on a half-open failure with a fresh break window", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		for i := 0; i < 3; i++ {
			table.RecordFailure(ctx, "k", s)
		}
		clock.Advance(30 * time.Second)
		_, admitted := table.Admit(ctx, "k", s)
		require.True(t, admitted)
		table.RecordFailure(ctx, "k", s)
		assert.Equal(t, "open", table.Snapshot("k").State)
		clock.Advance(29 * time.Second)
		_, admitted = table.Admit(ctx, "k", s)
		assert.False(t, admitted)
		clock.Advance(1 * time.Second)
		state, admitted := table.Admit(ctx, "k", s)
		assert.True(t, admitted)
		assert.Equal(t, BreakerHalfOpen, state)
	})

	t.Run("Should keep circuits independent per key", func(t *testing.T) {
		clock := core.NewFakeClock(start)
		table := NewBreakerTable(clock)
		s := testBreakerSettings()
		for i := 0; i < 3; i++ {
			table.RecordFailure(ctx, "exec-1|fetch", s)
		}
		_, admitted := table.Admit(ctx, "exec-1|fetch", s)
		assert.False(t, admitted)
		_, admitted = table.Admit(ctx, "exec-2|fetch", s)
		assert.True(t, admitted)
	})

	t.Run("Should report closed for unknown keys", func(t *testing.T) {
		table := NewBreakerTable(core.NewFakeClock(start))
		snap := table.Snapshot("nope")
		assert.Equal(t, "closed", snap.State)
		assert.Equal(t, 0, snap.Failures)
	})
}

func TestBreakerSettings(t *testing.T) {
	defaults := config.Default().Resilience.CircuitBreaker

	t.Run("Should use engine defaults without a policy", func(t *testing.T) {
		s := breakerSettings(nil, defaults)
		assert.Equal(t, 5, s.FailureThreshold)
		assert.Equal(t, 60*time.Second, s.SamplingDuration)
		assert.Equal(t, 30*time.Second, s.BreakDuration)
		assert.Equal(t, 3, s.HalfOpenRequests)
	})

	t.Run("Should overlay policy knobs over the defaults", func(t *testing.T) {
		policy := &task.CircuitBreakerPolicy{
			FailureThreshold: 2,
			BreakDuration:    "5s",
		}
		s := breakerSettings(policy, defaults)
		assert.Equal(t, 2, s.FailureThreshold)
		assert.Equal(t, 60*time.Second, s.SamplingDuration)
		assert.Equal(t, 5*time.Second, s.BreakDuration)
		assert.Equal(t, 3, s.HalfOpenRequests)
	})

	t.Run("Should accept bare numbers as minutes", func(t *testing.T) {
		policy := &task.CircuitBreakerPolicy{SamplingDuration: "2"}
		s := breakerSettings(policy, defaults)
		assert.Equal(t, 2*time.Minute, s.SamplingDuration)
	})
}
