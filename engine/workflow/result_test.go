package workflow_test

import (
	"testing"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowResult(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t.Run("Should collect task results and propagate their errors", func(t *testing.T) {
		r := workflow.NewResult("order-pipeline", core.MustNewID(), start)
		ok := task.NewResult("fetch", start).MarkSuccess(&core.Output{"v": 7}, start.Add(time.Second))
		failed := task.NewResult("enrich", start).
			MarkFailed(core.Errorf(core.ErrHTTP, "502"), start.Add(2*time.Second))
		r.AddTaskResult(ok)
		r.AddTaskResult(failed)
		require.Len(t, r.TaskResults, 2)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, core.ErrHTTP, r.FirstError().Code)
	})
	t.Run("Should remain successful when steps were skipped", func(t *testing.T) {
		r := workflow.NewResult("order-pipeline", core.MustNewID(), start)
		r.AddTaskResult(task.NewResult("optional", start).MarkSkipped("condition false", start))
		r.MarkSuccess(&core.Output{}, start.Add(time.Second))
		assert.True(t, r.Success)
		assert.Equal(t, core.StatusSuccess, r.Status)
		assert.Equal(t, int64(1000), r.TotalDurationMs)
	})
	t.Run("Should finalize canceled executions as unsuccessful", func(t *testing.T) {
		r := workflow.NewResult("order-pipeline", core.MustNewID(), start)
		r.MarkCanceled(core.Errorf(core.ErrCanceled, "caller canceled"), start.Add(time.Second))
		assert.False(t, r.Success)
		assert.Equal(t, core.StatusCanceled, r.Status)
		require.Len(t, r.Errors, 1)
	})
}
