package orchestrator

import (
	"context"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/expr"
	"github.com/dagrun/dagrun/engine/resilience"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// prepareAndLaunch takes one step from ready to in-flight: condition
// gate, switch routing, spec lookup, input resolution and validation,
// then a goroutine through the fault-tolerance stack. It returns a
// completion when the step settled synchronously (skip or preparation
// failure) and nil once a goroutine owns the step.
func (s *scheduler) prepareAndLaunch(ctx context.Context, id string) *completion {
	node, _ := s.g.Node(id)
	step := node.Step
	res := task.NewResult(id, s.o.clock.Now())
	tctx := s.templateContext()

	cond := s.o.eval.Condition(step.Condition, tctx)
	if cond.Error != nil {
		res.MarkFailed(cond.Error, s.o.clock.Now())
		return &completion{res: res}
	}
	if !cond.ShouldExecute {
		res.MarkSkipped("condition is false: "+cond.EvaluatedExpression, s.o.clock.Now())
		return &completion{res: res}
	}

	if step.IsSubflow() {
		return s.launchSubflow(ctx, step, res, tctx)
	}

	taskRef := step.TaskRef
	if step.Switch != nil {
		sw := s.o.eval.Switch(step.Switch, tctx)
		if sw.Error != nil {
			res.MarkFailed(sw.Error, s.o.clock.Now())
			return &completion{res: res}
		}
		taskRef = sw.TaskRef
		res.ResolvedRef = taskRef
	}

	spec, err := s.o.catalog.GetTask(taskRef)
	if err != nil {
		res.MarkFailed(core.FromError(err), s.o.clock.Now())
		return &completion{res: res}
	}

	if step.ForEach != nil {
		return s.launchForEach(ctx, step, taskRef, spec, res, tctx)
	}

	input, cerr := s.resolveStepInput(step.Input, spec, tctx)
	if cerr != nil {
		res.MarkFailed(cerr, s.o.clock.Now())
		return &completion{res: res}
	}
	res.Input = input
	if verr := spec.ValidateInput(ctx, input); verr != nil {
		res.MarkFailed(core.FromError(verr), s.o.clock.Now())
		return &completion{res: res}
	}
	plan, cerr := s.buildPlan(ctx, step, taskRef, spec, input, tctx)
	if cerr != nil {
		res.MarkFailed(cerr, s.o.clock.Now())
		return &completion{res: res}
	}

	s.running++
	go func() {
		outcome := s.o.stack.Run(ctx, plan)
		s.foldOutcome(ctx, res, spec, outcome)
		s.completions <- &completion{res: res}
	}()
	return nil
}

// resolveStepInput resolves the step input mapping and layers it over the
// spec defaults; step values win.
func (s *scheduler) resolveStepInput(
	raw map[string]any,
	spec *task.Config,
	tctx *tplengine.Context,
) (*core.Input, *core.Error) {
	resolved := map[string]any{}
	if len(raw) > 0 {
		m, err := s.o.engine.ResolveMapping(raw, tctx)
		if err != nil {
			return nil, core.NewError(err, expr.TemplateErrorCode(err), nil)
		}
		resolved = m
	}
	input := core.Input(resolved)
	if spec != nil && spec.With != nil {
		merged, err := input.Merge(spec.With)
		if err != nil {
			return nil, core.NewError(err, core.ErrConfiguration, nil)
		}
		return merged, nil
	}
	return &input, nil
}

// foldOutcome maps the stack's verdict onto the task result: attempts,
// cache and breaker telemetry, then the terminal status. Output schemas
// are not enforced on fallback responses, which belong to a different
// spec.
func (s *scheduler) foldOutcome(
	ctx context.Context,
	res *task.Result,
	spec *task.Config,
	out *resilience.Outcome,
) {
	res.RetryCount = out.RetryCount
	for _, attempt := range out.Attempts {
		res.RecordAttempt(attempt)
	}
	res.CacheHit = out.CacheHit
	res.UsedFallback = out.UsedFallback
	res.FallbackRef = out.FallbackRef
	res.CircuitState = out.Breaker

	now := s.o.clock.Now()
	resp := out.Response
	if resp.Error != nil {
		if resp.Error.Code == core.ErrCanceled {
			res.MarkCanceled(resp.Error, now)
			return
		}
		res.MarkFailed(resp.Error, now)
		return
	}
	if !out.UsedFallback {
		if verr := spec.ValidateOutput(ctx, resp.Output); verr != nil {
			res.MarkFailed(core.FromError(verr), now)
			return
		}
	}
	res.MarkSuccess(resp.Output, now)
}
