// Package orchestrator drives workflow executions. It compiles the step
// graph, schedules ready steps through the fault-tolerance stack, fans
// forEach blocks out, recurses into sub-workflows and folds every settled
// step into one structured result.
package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/dagrun/dagrun/engine/catalog"
	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/executor"
	"github.com/dagrun/dagrun/engine/expr"
	"github.com/dagrun/dagrun/engine/graph"
	"github.com/dagrun/dagrun/engine/infra/cache"
	"github.com/dagrun/dagrun/engine/resilience"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/config"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// Orchestrator executes workflows against a catalog of definitions. One
// instance is safe for concurrent executions; the breaker table and cache
// store behind it are shared across all of them.
type Orchestrator struct {
	catalog  catalog.Catalog
	cfg      *config.Config
	clock    core.Clock
	store    cache.Store
	exec     *executor.Executor
	breakers *resilience.BreakerTable
	stack    *resilience.Stack
	engine   *tplengine.TemplateEngine
	eval     *expr.Evaluator
	sem      *semaphore.Weighted
}

type Option func(*Orchestrator)

// WithConfig overrides the built-in configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithClock injects the time source shared by the executor, the breaker
// table and cost accounting.
func WithClock(clock core.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithStore attaches a response cache. Without one, cache blocks are
// inert.
func WithStore(store cache.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithExecutor swaps the task executor, keeping any registered inline
// handlers and client settings.
func WithExecutor(exec *executor.Executor) Option {
	return func(o *Orchestrator) { o.exec = exec }
}

// WithBreakerTable shares a breaker table across orchestrators.
func WithBreakerTable(table *resilience.BreakerTable) Option {
	return func(o *Orchestrator) { o.breakers = table }
}

// New assembles an orchestrator over the given catalog.
func New(cat catalog.Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{catalog: cat}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if o.clock == nil {
		o.clock = core.SystemClock()
	}
	if o.exec == nil {
		o.exec = executor.New(
			executor.WithClock(o.clock),
			executor.WithTimeout(o.cfg.HTTP.DefaultTimeout),
		)
	}
	if o.breakers == nil {
		o.breakers = resilience.NewBreakerTable(o.clock)
	}
	o.stack = resilience.NewStack(o.exec, o.breakers, o.store, o.clock, o.cfg)
	o.engine = tplengine.NewEngine()
	o.eval = expr.NewEvaluator(o.engine)
	if n := o.cfg.Scheduler.MaxConcurrentExecutions; n > 0 {
		o.sem = semaphore.NewWeighted(int64(n))
	}
	return o
}

// Executor exposes the task executor so hosts can register inline
// handlers.
func (o *Orchestrator) Executor() *executor.Executor {
	return o.exec
}

// Wait blocks until background cache refreshes have drained.
func (o *Orchestrator) Wait() {
	o.stack.Wait()
}

// Options tunes one execution.
type Options struct {
	// Input is the caller-provided workflow input, checked against the
	// declared parameters with defaults applied.
	Input map[string]any
	// DryRun plans the execution and returns the parallel groups without
	// launching anything.
	DryRun bool
	// CallStack carries ancestor workflow keys during sub-workflow
	// recursion. Hosts leave it empty.
	CallStack []string
	// MaxDepth overrides the configured sub-workflow depth limit when
	// positive.
	MaxDepth int
}

func (opts *Options) maxDepth(cfg *config.Config) int {
	if opts.MaxDepth > 0 {
		return opts.MaxDepth
	}
	return cfg.Runtime.MaxSubflowDepth
}

// ExecuteRef resolves a workflow reference through the catalog and
// executes it.
func (o *Orchestrator) ExecuteRef(ctx context.Context, ref string, opts *Options) *workflow.Result {
	wf, err := o.catalog.GetWorkflow(ref)
	if err != nil {
		now := o.clock.Now()
		result := workflow.NewResult(ref, core.MustNewID(), now)
		result.MarkFailed(core.FromError(err), now)
		return o.finish(ctx, result)
	}
	return o.Execute(ctx, wf, opts)
}

// Execute runs one workflow to completion and returns its structured
// result. The result is always non-nil; Success reports the verdict.
func (o *Orchestrator) Execute(ctx context.Context, wf *workflow.Config, opts *Options) *workflow.Result {
	if opts == nil {
		opts = &Options{}
	}
	execID := core.MustNewID()
	startedAt := o.clock.Now()
	result := workflow.NewResult(wf.Name, execID, startedAt)

	log := logger.FromContext(ctx).With("workflow", wf.Ref().String(), "exec_id", execID)
	ctx = logger.ContextWithLogger(ctx, log)

	// Only top-level executions count against the host cap; a sub-workflow
	// already holds its root's slot and acquiring again would deadlock.
	if o.sem != nil && len(opts.CallStack) == 0 && !opts.DryRun {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			result.MarkCanceled(core.FromError(err), o.clock.Now())
			return o.finish(ctx, result)
		}
		defer o.sem.Release(1)
	}

	input, err := wf.ResolveInput(ctx, opts.Input)
	if err != nil {
		result.MarkFailed(core.FromError(err), o.clock.Now())
		return o.finish(ctx, result)
	}

	buildStart := o.clock.Now()
	build := graph.Build(ctx, wf)
	result.GraphBuildDurationMs = o.clock.Now().Sub(buildStart).Milliseconds()
	if !build.OK() {
		result.MarkFailed(build.CoreError(), o.clock.Now())
		return o.finish(ctx, result)
	}

	if opts.DryRun {
		result.DryRun = true
		result.PlannedGroups = build.Graph.ParallelGroups()
		result.MarkSuccess(nil, o.clock.Now())
		return o.finish(ctx, result)
	}

	log.Debug("execution started", "tasks", build.Graph.Size(), "depth", len(opts.CallStack))
	sched := newScheduler(o, wf, build.Graph, input.AsMap(), opts, result)
	sched.run(ctx)
	return o.finish(ctx, result)
}

func (o *Orchestrator) finish(ctx context.Context, result *workflow.Result) *workflow.Result {
	recordWorkflowExecution(ctx, result.Status, result.TotalDurationMs)
	log := logger.FromContext(ctx)
	if result.Success {
		log.Info("execution completed",
			"status", result.Status, "tasks", len(result.TaskResults), "duration_ms", result.TotalDurationMs)
		return result
	}
	log.Info("execution failed",
		"status", result.Status, "tasks", len(result.TaskResults),
		"duration_ms", result.TotalDurationMs, "error", errorSummary(result))
	return result
}

func errorSummary(result *workflow.Result) string {
	if err := result.FirstError(); err != nil {
		return err.Message
	}
	return ""
}
