package workflow

import (
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
)

// IterationCost records one pass of the scheduler loop.
type IterationCost struct {
	Index     int      `json:"index"`
	Launched  []string `json:"launched,omitempty"`
	Completed []string `json:"completed,omitempty"`
	WaitMs    int64    `json:"waitMs"`
}

// OrchestrationCost breaks the wall-clock of an execution into engine
// overhead versus task time.
type OrchestrationCost struct {
	SetupMs              int64           `json:"setupMs"`
	TeardownMs           int64           `json:"teardownMs"`
	TaskTimeMs           int64           `json:"taskTimeMs"`
	SchedulingOverheadMs int64           `json:"schedulingOverheadMs"`
	Iterations           []IterationCost `json:"iterations,omitempty"`
}

// Result is the structured outcome of one workflow execution. The shape is
// stable; changes are additive only.
type Result struct {
	WorkflowID string          `json:"workflowId"`
	ExecID     core.ID         `json:"execId"`
	Status     core.StatusType `json:"status"`
	Success    bool            `json:"success"`

	Output      *core.Output            `json:"output,omitempty"`
	TaskResults map[string]*task.Result `json:"taskResults"`
	Errors      []*core.Error           `json:"errors,omitempty"`

	StartedAt            time.Time          `json:"startedAt"`
	CompletedAt          time.Time          `json:"completedAt"`
	TotalDurationMs      int64              `json:"totalDurationMs"`
	GraphBuildDurationMs int64              `json:"graphBuildDurationMs"`
	Cost                 *OrchestrationCost `json:"orchestrationCost,omitempty"`

	// Dry runs report the planned parallel groups without executing.
	DryRun        bool       `json:"dryRun,omitempty"`
	PlannedGroups [][]string `json:"plannedGroups,omitempty"`
}

// NewResult starts an execution record.
func NewResult(workflowID string, execID core.ID, now time.Time) *Result {
	return &Result{
		WorkflowID:  workflowID,
		ExecID:      execID,
		Status:      core.StatusRunning,
		StartedAt:   now,
		TaskResults: map[string]*task.Result{},
	}
}

// AddTaskResult records one settled step.
func (r *Result) AddTaskResult(res *task.Result) {
	if res == nil {
		return
	}
	r.TaskResults[res.TaskID] = res
	if res.Error != nil {
		r.Errors = append(r.Errors, res.Error)
	}
}

// MarkSuccess finalizes a successful execution with its outputs.
func (r *Result) MarkSuccess(output *core.Output, now time.Time) *Result {
	r.Status = core.StatusSuccess
	r.Success = true
	r.Output = output
	r.finish(now)
	return r
}

// MarkFailed finalizes a failed execution.
func (r *Result) MarkFailed(err *core.Error, now time.Time) *Result {
	r.Status = core.StatusFailed
	r.Success = false
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
	r.finish(now)
	return r
}

// MarkCanceled finalizes an execution aborted by the caller.
func (r *Result) MarkCanceled(err *core.Error, now time.Time) *Result {
	r.Status = core.StatusCanceled
	r.Success = false
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
	r.finish(now)
	return r
}

// FirstError returns the first recorded error, if any.
func (r *Result) FirstError() *core.Error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

func (r *Result) finish(now time.Time) {
	r.CompletedAt = now
	if !r.StartedAt.IsZero() {
		r.TotalDurationMs = now.Sub(r.StartedAt).Milliseconds()
	}
}
