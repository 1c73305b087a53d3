package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/expr"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// launchForEach fans one step out over a resolved collection. The items
// template must produce an array. An empty collection settles the step
// immediately; otherwise a goroutine drives the iterations and reports
// one aggregate completion.
func (s *scheduler) launchForEach(
	ctx context.Context,
	step *workflow.Step,
	taskRef string,
	spec *task.Config,
	res *task.Result,
	tctx *tplengine.Context,
) *completion {
	v, err := s.o.engine.Resolve(step.ForEach.Items, tctx)
	if err != nil {
		res.MarkFailed(core.NewError(err, expr.TemplateErrorCode(err), map[string]any{"field": "forEach.items"}), s.o.clock.Now())
		return &completion{res: res}
	}
	items, ok := v.([]any)
	if !ok {
		res.MarkFailed(core.Errorf(core.ErrValidation,
			"step %s: forEach items must resolve to an array, got %T", step.ID, v), s.o.clock.Now())
		return &completion{res: res}
	}
	if len(items) == 0 {
		res.MarkSuccess(aggregateOutput(nil, 0, 0), s.o.clock.Now())
		return &completion{res: res}
	}

	// The scheduler keeps mutating views as siblings settle; iterations
	// resolve against a frozen copy.
	base := tctx.Clone()
	s.running++
	go s.runForEach(ctx, step, taskRef, spec, res, base, items)
	return nil
}

func (s *scheduler) runForEach(
	ctx context.Context,
	step *workflow.Step,
	taskRef string,
	spec *task.Config,
	res *task.Result,
	base *tplengine.Context,
	items []any,
) {
	policy := step.ForEach
	limit := 1
	if policy.Parallel {
		limit = -1
		if policy.MaxConcurrency > 0 {
			limit = policy.MaxConcurrency
			if ceiling := s.o.cfg.Scheduler.ForEachMaxConcurrency; ceiling > 0 {
				limit = min(limit, ceiling)
			}
		}
	}

	outputs := make([]any, len(items))
	errs := make([]*core.Error, len(items))
	var mu sync.Mutex
	var retries int

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for idx, item := range items {
		group.Go(func() error {
			entry, itemErr, retryCount := s.runIteration(gctx, step, taskRef, spec, base, idx, item)
			mu.Lock()
			outputs[idx] = entry
			errs[idx] = itemErr
			retries += retryCount
			mu.Unlock()
			// Item failures land in the aggregate; they never cancel
			// sibling iterations.
			return nil
		})
	}
	_ = group.Wait()

	now := s.o.clock.Now()
	res.RetryCount = retries
	if ctx.Err() != nil {
		res.MarkCanceled(core.FromError(ctx.Err()), now)
		s.completions <- &completion{res: res}
		return
	}

	successes := 0
	for _, itemErr := range errs {
		if itemErr == nil {
			successes++
		}
	}
	for _, itemErr := range errs {
		if itemErr != nil {
			res.RecordAttempt(itemErr)
		}
	}
	recordForEachItems(ctx, len(items))
	logger.FromContext(ctx).Debug("forEach completed",
		"step", step.ID, "items", len(items), "failures", len(items)-successes)
	res.MarkSuccess(aggregateOutput(outputs, len(items), successes), now)
	s.completions <- &completion{res: res}
}

// runIteration executes one item: clone the frozen context, bind the
// iteration variables, resolve and validate the input, then run the full
// fault-tolerance stack. Failures come back as the item's output entry.
func (s *scheduler) runIteration(
	ctx context.Context,
	step *workflow.Step,
	taskRef string,
	spec *task.Config,
	base *tplengine.Context,
	idx int,
	item any,
) (any, *core.Error, int) {
	policy := step.ForEach
	itctx := base.Clone().WithIteration(policy.GetItemVar(), item, policy.GetIndexVar(), idx)

	input, cerr := s.resolveStepInput(step.Input, spec, itctx)
	if cerr != nil {
		return errorEntry(cerr), cerr, 0
	}
	if verr := spec.ValidateInput(ctx, input); verr != nil {
		cerr := core.FromError(verr)
		return errorEntry(cerr), cerr, 0
	}
	plan, cerr := s.buildPlan(ctx, step, taskRef, spec, input, itctx)
	if cerr != nil {
		return errorEntry(cerr), cerr, 0
	}

	outcome := s.o.stack.Run(ctx, plan)
	resp := outcome.Response
	if resp.Error != nil {
		return errorEntry(resp.Error), resp.Error, outcome.RetryCount
	}
	if !outcome.UsedFallback {
		if verr := spec.ValidateOutput(ctx, resp.Output); verr != nil {
			cerr := core.FromError(verr)
			return errorEntry(cerr), cerr, outcome.RetryCount
		}
	}
	return outputMap(resp.Output), nil, outcome.RetryCount
}

func errorEntry(err *core.Error) map[string]any {
	return map[string]any{"error": err}
}

func aggregateOutput(outputs []any, itemCount, successCount int) *core.Output {
	if outputs == nil {
		outputs = []any{}
	}
	return &core.Output{
		"outputs":      outputs,
		"itemCount":    itemCount,
		"successCount": successCount,
		"failureCount": itemCount - successCount,
	}
}
