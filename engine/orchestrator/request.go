package orchestrator

import (
	"context"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/executor"
	"github.com/dagrun/dagrun/engine/expr"
	"github.com/dagrun/dagrun/engine/resilience"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/transform"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// buildPlan assembles the fully resolved launch plan: the request, the
// cache key and bypass decision, and the fallback request when one is
// configured. Everything resolves here so retries and background cache
// refreshes replay identical requests. A fallback that cannot be built
// fails the step at launch rather than surfacing mid-recovery.
func (s *scheduler) buildPlan(
	ctx context.Context,
	step *workflow.Step,
	taskRef string,
	spec *task.Config,
	input *core.Input,
	tctx *tplengine.Context,
) (*resilience.Plan, *core.Error) {
	req, cerr := s.buildRequest(step.ID, taskRef, spec, input, step.Timeout)
	if cerr != nil {
		return nil, cerr
	}
	plan := &resilience.Plan{
		Step:         step,
		Request:      req,
		BreakerScope: string(s.result.ExecID),
	}
	if step.Cache != nil {
		if step.Cache.Key != "" {
			key, err := s.o.engine.ResolveString(step.Cache.Key, tctx)
			if err != nil {
				return nil, core.NewError(err, expr.TemplateErrorCode(err), map[string]any{"field": "cache.key"})
			}
			plan.CacheKey = key
		}
		if step.Cache.BypassWhen != "" {
			bypass := s.o.eval.Condition(step.Cache.BypassWhen, tctx)
			if bypass.Error != nil {
				return nil, bypass.Error
			}
			plan.BypassCache = bypass.ShouldExecute
		}
	}
	if step.Fallback != nil {
		fb, cerr := s.buildFallback(ctx, step, tctx)
		if cerr != nil {
			return nil, cerr
		}
		plan.Fallback = fb
	}
	return plan, nil
}

func (s *scheduler) buildFallback(
	ctx context.Context,
	step *workflow.Step,
	tctx *tplengine.Context,
) (*executor.Request, *core.Error) {
	fb := step.Fallback
	spec, err := s.o.catalog.GetTask(fb.TaskRef)
	if err != nil {
		return nil, core.NewError(err, core.ErrConfiguration, map[string]any{"fallback": fb.TaskRef})
	}
	input, cerr := s.resolveStepInput(fb.Input, spec, tctx)
	if cerr != nil {
		return nil, cerr
	}
	if verr := spec.ValidateInput(ctx, input); verr != nil {
		return nil, core.FromError(verr)
	}
	return s.buildRequest(step.ID, fb.TaskRef, spec, input, step.Timeout)
}

// buildRequest resolves the task spec into an executable request. Spec
// templates see only the task's own resolved input; tasks stay reusable
// across workflows and never address sibling steps.
func (s *scheduler) buildRequest(
	stepID string,
	taskRef string,
	spec *task.Config,
	input *core.Input,
	stepTimeout string,
) (*executor.Request, *core.Error) {
	req := &executor.Request{
		StepID:  stepID,
		TaskRef: taskRef,
		Type:    spec.Type,
		Input:   input,
	}
	timeout := spec.Timeout
	if stepTimeout != "" {
		timeout = stepTimeout
	}
	if timeout != "" {
		d, err := core.ParseHumanDuration(timeout)
		if err != nil {
			return nil, core.NewError(err, core.ErrConfiguration, map[string]any{"timeout": timeout})
		}
		req.Timeout = d
	}

	specCtx := tplengine.NewContext().WithInput(input.AsMap())
	switch spec.Type {
	case task.TypeHTTP:
		httpReq, cerr := s.buildHTTPRequest(spec.HTTP, specCtx)
		if cerr != nil {
			return nil, cerr
		}
		req.HTTP = httpReq
	case task.TypeTransform:
		tr, cerr := s.buildTransformRequest(spec.Transform, specCtx)
		if cerr != nil {
			return nil, cerr
		}
		req.Transform = tr
	case task.TypeInline:
		req.Handler = spec.Handler
	}
	return req, nil
}

func (s *scheduler) buildHTTPRequest(
	cfg *task.HTTPConfig,
	tctx *tplengine.Context,
) (*executor.HTTPRequest, *core.Error) {
	url, err := s.o.engine.ResolveString(cfg.URL, tctx)
	if err != nil {
		return nil, core.NewError(err, expr.TemplateErrorCode(err), map[string]any{"field": "url"})
	}
	req := &executor.HTTPRequest{
		Method: cfg.GetMethod(),
		URL:    url,
	}
	if len(cfg.Headers) > 0 {
		req.Headers = make(map[string]string, len(cfg.Headers))
		for name, value := range cfg.Headers {
			resolved, err := s.o.engine.ResolveString(value, tctx)
			if err != nil {
				return nil, core.NewError(err, expr.TemplateErrorCode(err), map[string]any{"header": name})
			}
			req.Headers[name] = resolved
		}
	}
	if cfg.Body != nil {
		body, err := s.o.engine.ParseMap(cfg.Body, tctx)
		if err != nil {
			return nil, core.NewError(err, expr.TemplateErrorCode(err), map[string]any{"field": "body"})
		}
		req.Body = body
	}
	return req, nil
}

func (s *scheduler) buildTransformRequest(
	cfg *task.TransformConfig,
	tctx *tplengine.Context,
) (*executor.TransformRequest, *core.Error) {
	pipeline, err := transform.Compile(cfg.Operations)
	if err != nil {
		return nil, core.NewError(err, core.ErrConfiguration, nil)
	}
	dataset, err := s.o.engine.ParseMap(cfg.Input, tctx)
	if err != nil {
		return nil, core.NewError(err, expr.TemplateErrorCode(err), map[string]any{"field": "input"})
	}
	return &executor.TransformRequest{Pipeline: pipeline, Dataset: dataset}, nil
}
