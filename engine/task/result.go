package task

import (
	"time"

	"github.com/dagrun/dagrun/engine/core"
)

// BreakerSnapshot captures circuit state at result time for diagnostics.
type BreakerSnapshot struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Result is the full record of one step execution.
type Result struct {
	TaskID  string          `json:"taskId"`
	Status  core.StatusType `json:"status"`
	Success bool            `json:"success"`

	Input  *core.Input  `json:"input,omitempty"`
	Output *core.Output `json:"output,omitempty"`

	// Error is the terminal failure; Errors keeps every attempt's failure in
	// order so retried calls stay auditable.
	Error  *core.Error   `json:"error,omitempty"`
	Errors []*core.Error `json:"errors,omitempty"`

	RetryCount  int       `json:"retryCount"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMs  int64     `json:"durationMs"`

	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`

	CircuitState *BreakerSnapshot `json:"circuitState,omitempty"`
	UsedFallback bool             `json:"usedFallback,omitempty"`
	FallbackRef  string           `json:"fallbackRef,omitempty"`
	CacheHit     bool             `json:"cacheHit,omitempty"`

	// ResolvedRef is the task spec actually executed, after switch routing.
	ResolvedRef string `json:"resolvedRef,omitempty"`
}

// NewResult starts a result record for taskID at now.
func NewResult(taskID string, now time.Time) *Result {
	return &Result{
		TaskID:    taskID,
		Status:    core.StatusRunning,
		StartedAt: now,
	}
}

// MarkSuccess finalizes the result with output at now.
func (r *Result) MarkSuccess(output *core.Output, now time.Time) *Result {
	r.Status = core.StatusSuccess
	r.Success = true
	r.Output = output
	r.finish(now)
	return r
}

// MarkFailed finalizes the result with the terminal error at now.
func (r *Result) MarkFailed(err *core.Error, now time.Time) *Result {
	r.Status = core.StatusFailed
	r.Success = false
	r.Error = err
	if err != nil {
		r.recordAttemptError(err)
	}
	r.finish(now)
	return r
}

// MarkSkipped finalizes the result as skipped with an empty output. Skipped
// steps count as successful for workflow dependents.
func (r *Result) MarkSkipped(reason string, now time.Time) *Result {
	r.Status = core.StatusSkipped
	r.Success = true
	r.Skipped = true
	r.SkipReason = reason
	empty := core.Output{}
	r.Output = &empty
	r.finish(now)
	return r
}

// MarkCanceled finalizes the result after context cancellation.
func (r *Result) MarkCanceled(err *core.Error, now time.Time) *Result {
	r.Status = core.StatusCanceled
	r.Success = false
	r.Error = err
	r.finish(now)
	return r
}

// RecordAttempt appends one attempt failure without finalizing.
func (r *Result) RecordAttempt(err *core.Error) {
	if err != nil {
		r.recordAttemptError(err)
	}
}

func (r *Result) recordAttemptError(err *core.Error) {
	for _, existing := range r.Errors {
		if existing == err {
			return
		}
	}
	r.Errors = append(r.Errors, err)
}

func (r *Result) finish(now time.Time) {
	r.CompletedAt = now
	if !r.StartedAt.IsZero() {
		r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
	}
}
