package orchestrator

import (
	"context"
	"strings"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// launchSubflow recurses into a referenced workflow. Depth and cycle
// guards run against the call stack before anything launches; the child
// execution shares this orchestrator's breaker table, cache store, clock
// and configuration.
func (s *scheduler) launchSubflow(
	ctx context.Context,
	step *workflow.Step,
	res *task.Result,
	tctx *tplengine.Context,
) *completion {
	child, err := s.o.catalog.GetWorkflow(step.WorkflowRef)
	if err != nil {
		res.MarkFailed(core.FromError(err), s.o.clock.Now())
		return &completion{res: res}
	}
	childKey := child.Ref().Key()

	maxDepth := s.opts.maxDepth(s.o.cfg)
	if len(s.stack) >= maxDepth {
		res.MarkFailed(core.Errorf(core.ErrDepthExceeded,
			"step %s: sub-workflow depth limit %d reached", step.ID, maxDepth), s.o.clock.Now())
		return &completion{res: res}
	}
	for _, key := range s.stack {
		if key == childKey {
			res.MarkFailed(core.Errorf(core.ErrWorkflowCycle,
				"step %s: workflow cycle detected: %s", step.ID, cyclePath(s.stack, childKey)), s.o.clock.Now())
			return &completion{res: res}
		}
	}

	input, cerr := s.resolveStepInput(step.Input, nil, tctx)
	if cerr != nil {
		res.MarkFailed(cerr, s.o.clock.Now())
		return &completion{res: res}
	}
	res.Input = input
	res.ResolvedRef = step.WorkflowRef

	s.running++
	go func() {
		childRes := s.o.Execute(ctx, child, &Options{
			Input:     input.AsMap(),
			CallStack: s.stack,
			MaxDepth:  s.opts.MaxDepth,
		})
		s.completions <- s.foldSubflow(step.ID, res, childRes)
	}()
	return nil
}

// foldSubflow exposes the child's output as the step output and brings
// every child task result along, namespaced under the step id. Nested
// chains re-prefix naturally.
func (s *scheduler) foldSubflow(stepID string, res *task.Result, child *workflow.Result) *completion {
	folded := make(map[string]*task.Result, len(child.TaskResults))
	for cid, cres := range child.TaskResults {
		folded[stepID+"."+cid] = cres
	}
	now := s.o.clock.Now()
	switch {
	case child.Status == core.StatusCanceled:
		res.MarkCanceled(child.FirstError(), now)
	case !child.Success:
		res.MarkFailed(child.FirstError(), now)
	default:
		out := child.Output
		if out == nil {
			out = &core.Output{}
		}
		res.MarkSuccess(out, now)
	}
	return &completion{res: res, folded: folded}
}

// cyclePath renders the offending chain, dropping the default-namespace
// prefix so everyday paths read as plain workflow names.
func cyclePath(stack []string, repeat string) string {
	parts := make([]string, 0, len(stack)+1)
	for _, key := range stack {
		parts = append(parts, strings.TrimPrefix(key, workflow.DefaultNamespace+"/"))
	}
	parts = append(parts, strings.TrimPrefix(repeat, workflow.DefaultNamespace+"/"))
	return strings.Join(parts, " → ")
}
