// Package expr evaluates the condition and switch policies that gate task
// steps. Conditions are a small boolean language over resolved template
// values; switches route on a case-insensitive string match.
package expr

import (
	"errors"
	"strings"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// ConditionResult carries the gate decision for one step. When Error is
// set the step fails rather than skips, and ShouldExecute is false.
type ConditionResult struct {
	ShouldExecute       bool        `json:"shouldExecute"`
	EvaluatedExpression string      `json:"evaluatedExpression,omitempty"`
	Error               *core.Error `json:"error,omitempty"`
}

// SwitchResult carries the routing decision for one step. TaskRef is empty
// only when evaluation failed.
type SwitchResult struct {
	Matched        bool        `json:"matched"`
	TaskRef        string      `json:"taskRef,omitempty"`
	MatchedValue   string      `json:"matchedValue,omitempty"`
	EvaluatedValue string      `json:"evaluatedValue"`
	IsDefault      bool        `json:"isDefault"`
	Error          *core.Error `json:"error,omitempty"`
}

// Evaluator binds the template engine used to resolve operands.
type Evaluator struct {
	engine *tplengine.TemplateEngine
}

func NewEvaluator(engine *tplengine.TemplateEngine) *Evaluator {
	return &Evaluator{engine: engine}
}

// Condition evaluates a boolean gate expression against the template
// context. An empty condition always executes. The returned
// EvaluatedExpression is the source with resolved template spans replaced
// by their values; spans skipped by short-circuit are left as written.
func (e *Evaluator) Condition(cond string, tctx *tplengine.Context) *ConditionResult {
	if strings.TrimSpace(cond) == "" {
		return &ConditionResult{ShouldExecute: true}
	}
	tokens, serr := lex(cond)
	if serr != nil {
		return &ConditionResult{
			EvaluatedExpression: cond,
			Error:               core.Errorf(core.ErrConfiguration, "condition %q: %s", cond, serr.Error()),
		}
	}
	root, templates, serr := parse(tokens)
	if serr != nil {
		return &ConditionResult{
			EvaluatedExpression: cond,
			Error:               core.Errorf(core.ErrConfiguration, "condition %q: %s", cond, serr.Error()),
		}
	}
	ec := &evalContext{resolve: func(raw string) (any, error) {
		return e.engine.Resolve(raw, tctx)
	}}
	v, err := root.eval(ec)
	evaluated := substitute(cond, templates)
	if err != nil {
		return &ConditionResult{
			EvaluatedExpression: evaluated,
			Error:               core.NewError(err, TemplateErrorCode(err), map[string]any{"condition": cond}),
		}
	}
	return &ConditionResult{ShouldExecute: Truthy(v), EvaluatedExpression: evaluated}
}

// Switch resolves the value template and routes to the first case whose
// match compares equal ignoring case, falling back to the default target.
// No match and no default is a validation failure.
func (e *Evaluator) Switch(policy *task.SwitchPolicy, tctx *tplengine.Context) *SwitchResult {
	v, err := e.engine.Resolve(policy.Value, tctx)
	if err != nil {
		return &SwitchResult{
			Error: core.NewError(err, TemplateErrorCode(err), map[string]any{"value": policy.Value}),
		}
	}
	evaluated := tplengine.Stringify(v)
	for i := range policy.Cases {
		c := &policy.Cases[i]
		if strings.EqualFold(evaluated, c.Match) {
			return &SwitchResult{
				Matched:        true,
				TaskRef:        c.TaskRef,
				MatchedValue:   c.Match,
				EvaluatedValue: evaluated,
			}
		}
	}
	if policy.Default != nil {
		return &SwitchResult{
			TaskRef:        policy.Default.TaskRef,
			EvaluatedValue: evaluated,
			IsDefault:      true,
		}
	}
	return &SwitchResult{
		EvaluatedValue: evaluated,
		Error: core.Errorf(core.ErrValidation,
			"switch value %q matched no case and no default is defined", evaluated),
	}
}

// TemplateErrorCode maps a template failure onto the error taxonomy: parse
// failures are configuration errors, reference failures are resolution
// errors. Mapping errors count as parse-only when every field failed to
// parse.
func TemplateErrorCode(err error) core.ErrorCode {
	var merr *tplengine.MappingError
	if errors.As(err, &merr) {
		for _, f := range merr.Fields {
			if f.Err.Kind != tplengine.KindInvalidTemplate {
				return core.ErrTemplate
			}
		}
		return core.ErrConfiguration
	}
	var terr *tplengine.Error
	if errors.As(err, &terr) {
		if terr.Kind == tplengine.KindInvalidTemplate {
			return core.ErrConfiguration
		}
		return core.ErrTemplate
	}
	return core.ErrTemplate
}
