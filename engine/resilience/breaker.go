// Package resilience composes the fault-tolerance stack around the task
// executor: cache, then circuit breaker, then retry, with an optional
// fallback task on terminal failure. The scheduler invokes the outermost
// layer; the executor below stays single-attempt.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/pkg/config"
)

// BreakerState is the circuit phase for one protected task ref.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerSettings are the effective knobs after merging a step policy over
// the engine defaults.
type BreakerSettings struct {
	FailureThreshold int
	SamplingDuration time.Duration
	BreakDuration    time.Duration
	HalfOpenRequests int
}

func breakerSettings(p *task.CircuitBreakerPolicy, d config.CircuitBreakerConfig) BreakerSettings {
	s := BreakerSettings{
		FailureThreshold: d.FailureThreshold,
		SamplingDuration: d.SamplingDuration,
		BreakDuration:    d.BreakDuration,
		HalfOpenRequests: d.HalfOpenRequests,
	}
	if p == nil {
		return s
	}
	if p.FailureThreshold > 0 {
		s.FailureThreshold = p.FailureThreshold
	}
	if dur, err := core.ParseHumanDuration(p.SamplingDuration); err == nil && p.SamplingDuration != "" {
		s.SamplingDuration = dur
	}
	if dur, err := core.ParseHumanDuration(p.BreakDuration); err == nil && p.BreakDuration != "" {
		s.BreakDuration = dur
	}
	if p.HalfOpenRequests > 0 {
		s.HalfOpenRequests = p.HalfOpenRequests
	}
	return s
}

type breakerEntry struct {
	state BreakerState
	// failures counts consecutive failures inside the sampling window
	// while closed.
	failures          int
	windowStart       time.Time
	openedAt          time.Time
	halfOpenSuccesses int
}

// BreakerTable holds circuit state per (scope, task ref) key. It is owned
// by the execution host and may be shared across executions; all access is
// mutex-guarded and no lock is held across a task execution.
type BreakerTable struct {
	mu      sync.Mutex
	clock   core.Clock
	entries map[string]*breakerEntry
}

func NewBreakerTable(clock core.Clock) *BreakerTable {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &BreakerTable{clock: clock, entries: map[string]*breakerEntry{}}
}

func (t *BreakerTable) entry(key string) *breakerEntry {
	e, ok := t.entries[key]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		t.entries[key] = e
	}
	return e
}

// Admit reports whether a protected call may proceed. An open circuit
// whose break duration has elapsed moves to half-open and admits the call.
func (t *BreakerTable) Admit(ctx context.Context, key string, s BreakerSettings) (BreakerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	switch e.state {
	case BreakerOpen:
		if t.clock.Now().Sub(e.openedAt) >= s.BreakDuration {
			e.state = BreakerHalfOpen
			e.halfOpenSuccesses = 0
			recordBreakerTransition(ctx, BreakerHalfOpen)
			return BreakerHalfOpen, true
		}
		return BreakerOpen, false
	case BreakerHalfOpen:
		return BreakerHalfOpen, true
	default:
		return BreakerClosed, true
	}
}

// RecordSuccess feeds one successful protected call into the circuit.
func (t *BreakerTable) RecordSuccess(ctx context.Context, key string, s BreakerSettings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	switch e.state {
	case BreakerClosed:
		e.failures = 0
	case BreakerHalfOpen:
		e.halfOpenSuccesses++
		if e.halfOpenSuccesses >= s.HalfOpenRequests {
			e.state = BreakerClosed
			e.failures = 0
			recordBreakerTransition(ctx, BreakerClosed)
		}
	}
}

// RecordFailure feeds one failed protected call into the circuit.
func (t *BreakerTable) RecordFailure(ctx context.Context, key string, s BreakerSettings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	e := t.entry(key)
	switch e.state {
	case BreakerClosed:
		if e.failures == 0 || now.Sub(e.windowStart) > s.SamplingDuration {
			e.failures = 1
			e.windowStart = now
		} else {
			e.failures++
		}
		if e.failures >= s.FailureThreshold {
			e.state = BreakerOpen
			e.openedAt = now
			recordBreakerTransition(ctx, BreakerOpen)
		}
	case BreakerHalfOpen:
		// A half-open probe failing re-opens for a full break duration.
		e.state = BreakerOpen
		e.openedAt = now
		recordBreakerTransition(ctx, BreakerOpen)
	}
}

// Snapshot returns the current phase and failure count for diagnostics.
func (t *BreakerTable) Snapshot(key string) *task.BreakerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return &task.BreakerSnapshot{State: BreakerClosed.String()}
	}
	return &task.BreakerSnapshot{State: e.state.String(), Failures: e.failures}
}
