package orchestrator_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/engine/catalog"
	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/orchestrator"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
)

// concurrencyProbe tracks how many handler calls overlap.
type concurrencyProbe struct {
	current atomic.Int64
	peak    atomic.Int64
}

func (p *concurrencyProbe) enter() {
	cur := p.current.Add(1)
	for {
		prev := p.peak.Load()
		if cur <= prev || p.peak.CompareAndSwap(prev, cur) {
			return
		}
	}
}

func (p *concurrencyProbe) exit() {
	p.current.Add(-1)
}

func forEachFlow(t *testing.T, reg *catalog.Registry, policy *task.ForEachPolicy) *workflow.Config {
	t.Helper()
	addTask(t, reg, inlineTask("per-item"))
	wf := &workflow.Config{
		Name: "fanout",
		Tasks: []workflow.Step{
			{ID: "each", TaskRef: "per-item", ForEach: policy,
				Input: map[string]any{"v": "{{ item }}", "i": "{{ index }}"}},
		},
	}
	addWorkflow(t, reg, wf)
	return wf
}

func TestForEachSequential(t *testing.T) {
	t.Run("Should run items one at a time in order and aggregate outputs", func(t *testing.T) {
		reg := catalog.NewRegistry()
		addTask(t, reg, inlineTask("per-item"))
		addTask(t, reg, inlineTask("echo"))
		wf := &workflow.Config{
			Name: "seq-fanout",
			Tasks: []workflow.Step{
				{ID: "each", TaskRef: "per-item", ForEach: &task.ForEachPolicy{Items: "{{ input.ids }}"},
					Input: map[string]any{"v": "{{ item }}", "i": "{{ index }}"}},
				{ID: "tally", TaskRef: "echo",
					Input: map[string]any{"done": "{{ tasks.each.output.successCount }}"}},
			},
		}
		addWorkflow(t, reg, wf)
		orch := orchestrator.New(reg)
		registerEcho(t, orch, "echo")
		probe := &concurrencyProbe{}
		require.NoError(t, orch.Executor().Register("per-item", func(_ context.Context, input *core.Input) (*core.Output, error) {
			probe.enter()
			defer probe.exit()
			time.Sleep(2 * time.Millisecond)
			out := core.Output(input.AsMap())
			return &out, nil
		}))

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"ids": []any{10, 20, 30}},
		})
		require.True(t, result.Success, "errors: %v", result.Errors)

		each := result.TaskResults["each"]
		out := each.Output.AsMap()
		assert.Equal(t, 3, out["itemCount"])
		assert.Equal(t, 3, out["successCount"])
		assert.Equal(t, 0, out["failureCount"])
		assert.Equal(t, []any{
			map[string]any{"v": 10, "i": 0},
			map[string]any{"v": 20, "i": 1},
			map[string]any{"v": 30, "i": 2},
		}, out["outputs"])
		assert.Equal(t, int64(1), probe.peak.Load())
		assert.Equal(t, 3, result.TaskResults["tally"].Output.Prop("done"))
	})
}

func TestForEachParallel(t *testing.T) {
	t.Run("Should overlap iterations when parallel", func(t *testing.T) {
		reg := catalog.NewRegistry()
		wf := forEachFlow(t, reg, &task.ForEachPolicy{
			Items: "{{ input.ids }}", Parallel: true, MaxConcurrency: 2,
		})
		orch := orchestrator.New(reg)
		var entered atomic.Int64
		pair := make(chan struct{})
		require.NoError(t, orch.Executor().Register("per-item", func(_ context.Context, input *core.Input) (*core.Output, error) {
			if entered.Add(1) == 2 {
				close(pair)
			}
			select {
			case <-pair:
			case <-time.After(2 * time.Second):
				return nil, fmt.Errorf("iterations never overlapped")
			}
			out := core.Output(input.AsMap())
			return &out, nil
		}))

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"ids": []any{1, 2}},
		})
		require.True(t, result.Success, "errors: %v", result.Errors)
		assert.Equal(t, 2, result.TaskResults["each"].Output.Prop("successCount"))
	})

	t.Run("Should cap in-flight iterations at maxConcurrency", func(t *testing.T) {
		reg := catalog.NewRegistry()
		wf := forEachFlow(t, reg, &task.ForEachPolicy{
			Items: "{{ input.ids }}", Parallel: true, MaxConcurrency: 2,
		})
		orch := orchestrator.New(reg)
		probe := &concurrencyProbe{}
		require.NoError(t, orch.Executor().Register("per-item", func(_ context.Context, input *core.Input) (*core.Output, error) {
			probe.enter()
			defer probe.exit()
			time.Sleep(3 * time.Millisecond)
			out := core.Output(input.AsMap())
			return &out, nil
		}))

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"ids": []any{1, 2, 3, 4, 5, 6}},
		})
		require.True(t, result.Success)
		assert.LessOrEqual(t, probe.peak.Load(), int64(2))
		out := result.TaskResults["each"].Output.AsMap()
		assert.Equal(t, []any{
			map[string]any{"v": 1, "i": 0},
			map[string]any{"v": 2, "i": 1},
			map[string]any{"v": 3, "i": 2},
			map[string]any{"v": 4, "i": 3},
			map[string]any{"v": 5, "i": 4},
			map[string]any{"v": 6, "i": 5},
		}, out["outputs"])
	})
}

func TestForEachFailures(t *testing.T) {
	t.Run("Should keep the aggregate successful when single items fail", func(t *testing.T) {
		reg := catalog.NewRegistry()
		wf := forEachFlow(t, reg, &task.ForEachPolicy{Items: "{{ input.ids }}"})
		orch := orchestrator.New(reg)
		require.NoError(t, orch.Executor().Register("per-item", func(_ context.Context, input *core.Input) (*core.Output, error) {
			if input.Prop("v") == 2 {
				return nil, fmt.Errorf("item rejected")
			}
			out := core.Output(input.AsMap())
			return &out, nil
		}))

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"ids": []any{1, 2, 3}},
		})
		require.True(t, result.Success, "errors: %v", result.Errors)

		each := result.TaskResults["each"]
		assert.True(t, each.Success)
		out := each.Output.AsMap()
		assert.Equal(t, 2, out["successCount"])
		assert.Equal(t, 1, out["failureCount"])
		outputs, ok := out["outputs"].([]any)
		require.True(t, ok)
		require.Len(t, outputs, 3)
		failed, ok := outputs[1].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, failed, "error")
		assert.Len(t, each.Errors, 1)
	})

	t.Run("Should fail when items do not resolve to an array", func(t *testing.T) {
		reg := catalog.NewRegistry()
		wf := forEachFlow(t, reg, &task.ForEachPolicy{Items: "{{ input.name }}"})
		orch := orchestrator.New(reg)
		registerEcho(t, orch, "per-item")

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"name": "solo"},
		})
		require.False(t, result.Success)
		each := result.TaskResults["each"]
		require.NotNil(t, each.Error)
		assert.Equal(t, core.ErrValidation, each.Error.Code)
		assert.Contains(t, each.Error.Message, "must resolve to an array")
	})

	t.Run("Should fail when the items template cannot resolve", func(t *testing.T) {
		reg := catalog.NewRegistry()
		wf := forEachFlow(t, reg, &task.ForEachPolicy{Items: "{{ input.missing.deep }}"})
		orch := orchestrator.New(reg)
		registerEcho(t, orch, "per-item")

		result := orch.Execute(context.Background(), wf, nil)
		require.False(t, result.Success)
		each := result.TaskResults["each"]
		require.NotNil(t, each.Error)
		assert.Equal(t, core.ErrTemplate, each.Error.Code)
	})
}

func TestForEachBoundaries(t *testing.T) {
	t.Run("Should settle an empty collection without running anything", func(t *testing.T) {
		reg := catalog.NewRegistry()
		wf := forEachFlow(t, reg, &task.ForEachPolicy{Items: "{{ input.ids }}"})
		orch := orchestrator.New(reg)
		var calls atomic.Int64
		require.NoError(t, orch.Executor().Register("per-item", func(_ context.Context, _ *core.Input) (*core.Output, error) {
			calls.Add(1)
			return &core.Output{}, nil
		}))

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"ids": []any{}},
		})
		require.True(t, result.Success)
		out := result.TaskResults["each"].Output.AsMap()
		assert.Equal(t, 0, out["itemCount"])
		assert.Equal(t, []any{}, out["outputs"])
		assert.Equal(t, int64(0), calls.Load())
	})

	t.Run("Should bind renamed item and index variables", func(t *testing.T) {
		reg := catalog.NewRegistry()
		addTask(t, reg, inlineTask("per-item"))
		wf := &workflow.Config{
			Name: "named-vars",
			Tasks: []workflow.Step{
				{ID: "each", TaskRef: "per-item",
					ForEach: &task.ForEachPolicy{Items: "{{ input.users }}", ItemVar: "user", IndexVar: "pos"},
					Input:   map[string]any{"who": "{{ user.name }}", "at": "{{ pos }}"}},
			},
		}
		addWorkflow(t, reg, wf)
		orch := orchestrator.New(reg)
		registerEcho(t, orch, "per-item")

		result := orch.Execute(context.Background(), wf, &orchestrator.Options{
			Input: map[string]any{"users": []any{map[string]any{"name": "ada"}}},
		})
		require.True(t, result.Success, "errors: %v", result.Errors)
		out := result.TaskResults["each"].Output.AsMap()
		assert.Equal(t, []any{map[string]any{"who": "ada", "at": 0}}, out["outputs"])
	})
}
