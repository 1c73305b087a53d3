package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/expr"
	"github.com/dagrun/dagrun/engine/graph"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// completion carries one settled step back to the scheduling loop.
// folded holds sub-workflow task results namespaced under the step id.
type completion struct {
	res    *task.Result
	folded map[string]*task.Result
}

type scheduler struct {
	o      *Orchestrator
	wf     *workflow.Config
	g      *graph.Graph
	input  map[string]any
	opts   *Options
	result *workflow.Result

	// stack is the workflow key chain from the root execution down to
	// this one, used for cycle and depth checks on sub-workflow steps.
	stack []string

	status      map[string]core.StatusType
	views       map[string]tplengine.TaskView
	completions chan *completion
	running     int
	halted      bool

	firstTaskStart time.Time
	lastTaskEnd    time.Time
	taskTimeMs     int64
}

func newScheduler(
	o *Orchestrator,
	wf *workflow.Config,
	g *graph.Graph,
	input map[string]any,
	opts *Options,
	result *workflow.Result,
) *scheduler {
	s := &scheduler{
		o:           o,
		wf:          wf,
		g:           g,
		input:       input,
		opts:        opts,
		result:      result,
		stack:       make([]string, 0, len(opts.CallStack)+1),
		status:      make(map[string]core.StatusType, g.Size()),
		views:       make(map[string]tplengine.TaskView, g.Size()),
		completions: make(chan *completion, g.Size()),
	}
	s.stack = append(s.stack, opts.CallStack...)
	s.stack = append(s.stack, wf.Ref().Key())
	for _, id := range g.TopologicalOrder() {
		s.status[id] = core.StatusPending
		s.views[id] = tplengine.TaskView{State: tplengine.TaskPending}
	}
	return s
}

// run drives the workflow to a terminal state. Each loop iteration
// launches every ready step, then blocks until at least one in-flight
// step settles and drains the rest without waiting.
func (s *scheduler) run(ctx context.Context) {
	execStart := s.o.clock.Now()
	cost := &workflow.OrchestrationCost{}
	for {
		if ctx.Err() != nil {
			s.halted = true
		}
		ready := s.takeReady()
		if len(ready) == 0 && s.running == 0 {
			break
		}
		ic := workflow.IterationCost{Index: len(cost.Iterations)}
		launchStart := s.o.clock.Now()
		for _, id := range ready {
			ic.Launched = append(ic.Launched, id)
			if c := s.prepareAndLaunch(ctx, id); c != nil {
				s.settle(ctx, c, &ic)
			}
		}
		cost.SchedulingOverheadMs += s.o.clock.Now().Sub(launchStart).Milliseconds()
		if s.running > 0 {
			waitStart := s.o.clock.Now()
			s.collect(ctx, &ic)
			ic.WaitMs = s.o.clock.Now().Sub(waitStart).Milliseconds()
		}
		cost.Iterations = append(cost.Iterations, ic)
	}
	s.finalize(ctx, execStart, cost)
}

// takeReady promotes every pending step whose dependencies all settled
// successfully, in id order. A parallelism cap leaves the overflow
// pending for the next iteration.
func (s *scheduler) takeReady() []string {
	if s.halted {
		return nil
	}
	var ready []string
	for id, st := range s.status {
		if st == core.StatusPending && s.depsSatisfied(id) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	if limit := s.o.cfg.Scheduler.MaxParallelTasks; limit > 0 {
		slots := limit - s.running
		if slots <= 0 {
			return nil
		}
		if len(ready) > slots {
			ready = ready[:slots]
		}
	}
	for _, id := range ready {
		s.status[id] = core.StatusRunning
	}
	return ready
}

func (s *scheduler) depsSatisfied(id string) bool {
	for _, dep := range s.g.Dependencies(id) {
		if !s.status[dep].SatisfiesDependency() {
			return false
		}
	}
	return true
}

// collect blocks for one completion, then keeps draining until the
// channel is empty so simultaneous finishers settle in the same
// iteration.
func (s *scheduler) collect(ctx context.Context, ic *workflow.IterationCost) {
	c := <-s.completions
	s.running--
	s.settle(ctx, c, ic)
	for {
		select {
		case c := <-s.completions:
			s.running--
			s.settle(ctx, c, ic)
		default:
			return
		}
	}
}

func (s *scheduler) settle(ctx context.Context, c *completion, ic *workflow.IterationCost) {
	res := c.res
	s.status[res.TaskID] = res.Status
	switch {
	case res.Skipped:
		s.views[res.TaskID] = tplengine.TaskView{State: tplengine.TaskSkipped, Output: map[string]any{}}
	case res.Success:
		s.views[res.TaskID] = tplengine.TaskView{State: tplengine.TaskCompleted, Output: outputMap(res.Output)}
	default:
		s.halted = true
	}
	s.result.AddTaskResult(res)
	for id, sub := range c.folded {
		// Folded child results keep their own error lists; collecting them
		// again at the parent would double-count.
		s.result.TaskResults[id] = sub
	}
	s.observeSpan(res)
	ic.Completed = append(ic.Completed, res.TaskID)
	recordTaskExecution(ctx, res.Status)
}

func (s *scheduler) observeSpan(res *task.Result) {
	s.taskTimeMs += res.DurationMs
	if res.StartedAt.IsZero() {
		return
	}
	if s.firstTaskStart.IsZero() || res.StartedAt.Before(s.firstTaskStart) {
		s.firstTaskStart = res.StartedAt
	}
	if res.CompletedAt.After(s.lastTaskEnd) {
		s.lastTaskEnd = res.CompletedAt
	}
}

func (s *scheduler) finalize(ctx context.Context, execStart time.Time, cost *workflow.OrchestrationCost) {
	now := s.o.clock.Now()
	cost.TaskTimeMs = s.taskTimeMs
	if !s.firstTaskStart.IsZero() {
		cost.SetupMs = s.firstTaskStart.Sub(execStart).Milliseconds()
		cost.TeardownMs = now.Sub(s.lastTaskEnd).Milliseconds()
	}
	s.result.Cost = cost
	switch {
	case ctx.Err() != nil:
		s.result.MarkCanceled(core.FromError(ctx.Err()), now)
	case s.halted:
		// Step errors were already collected through AddTaskResult.
		s.result.MarkFailed(nil, now)
	default:
		s.resolveWorkflowOutput(ctx, now)
	}
}

func (s *scheduler) resolveWorkflowOutput(ctx context.Context, now time.Time) {
	if len(s.wf.Output) == 0 {
		s.result.MarkSuccess(nil, now)
		return
	}
	resolved, err := s.o.engine.ResolveMapping(s.wf.Output, s.templateContext())
	if err != nil {
		logger.FromContext(ctx).Error("workflow output resolution failed", "error", err)
		s.result.MarkFailed(core.NewError(err, expr.TemplateErrorCode(err), map[string]any{
			"workflow": s.wf.Name,
			"scope":    "output",
		}), now)
		return
	}
	out := core.Output(resolved)
	s.result.MarkSuccess(&out, now)
}

// templateContext exposes the workflow input and every settled task view
// to template resolution. Pending views stay present so references to
// unfinished tasks fail with a task-not-completed diagnostic instead of
// an unknown-task one.
func (s *scheduler) templateContext() *tplengine.Context {
	return tplengine.NewContext().WithInput(s.input).WithTasks(s.views)
}

func outputMap(out *core.Output) map[string]any {
	if out == nil {
		return map[string]any{}
	}
	return out.AsMap()
}
