package workflow

import (
	"fmt"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
)

// Step is one node of a workflow. It names either a reusable task spec
// (taskRef) or a sub-workflow (workflowRef), never both.
type Step struct {
	ID          string `json:"id"                    yaml:"id"                    mapstructure:"id"`
	TaskRef     string `json:"taskRef,omitempty"     yaml:"taskRef,omitempty"     mapstructure:"taskRef,omitempty"`
	WorkflowRef string `json:"workflowRef,omitempty" yaml:"workflowRef,omitempty" mapstructure:"workflowRef,omitempty"`

	Input     map[string]any `json:"input,omitempty"     yaml:"input,omitempty"     mapstructure:"input,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty" mapstructure:"dependsOn,omitempty"`

	Condition string             `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition,omitempty"`
	Switch    *task.SwitchPolicy `json:"switch,omitempty"    yaml:"switch,omitempty"    mapstructure:"switch,omitempty"`
	ForEach   *task.ForEachPolicy `json:"forEach,omitempty"  yaml:"forEach,omitempty"   mapstructure:"forEach,omitempty"`

	Retry          *task.RetryPolicy          `json:"retry,omitempty"          yaml:"retry,omitempty"          mapstructure:"retry,omitempty"`
	Cache          *task.CachePolicy          `json:"cache,omitempty"          yaml:"cache,omitempty"          mapstructure:"cache,omitempty"`
	CircuitBreaker *task.CircuitBreakerPolicy `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty" mapstructure:"circuitBreaker,omitempty"`
	Fallback       *task.FallbackPolicy       `json:"fallback,omitempty"       yaml:"fallback,omitempty"       mapstructure:"fallback,omitempty"`
	Timeout        string                     `json:"timeout,omitempty"        yaml:"timeout,omitempty"        mapstructure:"timeout,omitempty"`
}

// IsSubflow reports whether the step anchors a sub-workflow.
func (s *Step) IsSubflow() bool {
	return s.WorkflowRef != ""
}

func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step id is required")
	}
	if s.TaskRef == "" && s.WorkflowRef == "" {
		return fmt.Errorf("step %s: taskRef or workflowRef is required", s.ID)
	}
	if s.TaskRef != "" && s.WorkflowRef != "" {
		return fmt.Errorf("step %s: taskRef and workflowRef are mutually exclusive", s.ID)
	}
	if s.IsSubflow() {
		if s.Switch != nil {
			return fmt.Errorf("step %s: switch does not apply to workflowRef steps", s.ID)
		}
		if s.ForEach != nil {
			return fmt.Errorf("step %s: forEach does not apply to workflowRef steps", s.ID)
		}
		if s.Fallback != nil {
			return fmt.Errorf("step %s: fallback does not apply to workflowRef steps", s.ID)
		}
		if _, err := ParseRef(s.WorkflowRef); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	if s.Timeout != "" {
		if _, err := core.ParseHumanDuration(s.Timeout); err != nil {
			return fmt.Errorf("step %s: timeout: %w", s.ID, err)
		}
	}
	for _, v := range []interface{ Validate() error }{
		s.Retry, s.CircuitBreaker, s.Fallback, s.ForEach, s.Switch,
	} {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	return nil
}

// TemplateSources returns every step field that may carry templates, keyed
// by source name, for implicit dependency harvesting.
func (s *Step) TemplateSources() map[string]any {
	sources := map[string]any{
		"input":     s.Input,
		"condition": s.Condition,
	}
	if s.Switch != nil {
		sources["switch.value"] = s.Switch.Value
	}
	if s.ForEach != nil {
		sources["forEach.items"] = s.ForEach.Items
	}
	if s.Cache != nil {
		sources["cache.key"] = s.Cache.Key
		sources["cache.bypassWhen"] = s.Cache.BypassWhen
	}
	if s.Fallback != nil {
		sources["fallback.input"] = s.Fallback.Input
	}
	return sources
}

