package task

import (
	"context"
	"errors"
	"fmt"

	"dario.cat/mergo"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/schema"
)

type Type string

const (
	TypeHTTP      Type = "http"
	TypeTransform Type = "transform"
	TypeInline    Type = "inline"
)

// -----------------------------------------------------------------------------
// Kind payloads
// -----------------------------------------------------------------------------

// HTTPConfig describes an outbound HTTP call. URL, headers and body may all
// carry templates; they resolve against the step context before execution.
type HTTPConfig struct {
	Method  string            `json:"method,omitempty"  yaml:"method,omitempty"  mapstructure:"method,omitempty"`
	URL     string            `json:"url"               yaml:"url"               mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers,omitempty"`
	Body    any               `json:"body,omitempty"    yaml:"body,omitempty"    mapstructure:"body,omitempty"`
}

// GetMethod returns the HTTP method, defaulting to GET.
func (h *HTTPConfig) GetMethod() string {
	if h == nil || h.Method == "" {
		return "GET"
	}
	return h.Method
}

// TransformConfig holds a pipeline definition. Input resolves to the dataset;
// operations stay raw here and compile into typed ops in engine/transform.
type TransformConfig struct {
	Input      any              `json:"input"                yaml:"input"                mapstructure:"input"`
	Operations []map[string]any `json:"operations,omitempty" yaml:"operations,omitempty" mapstructure:"operations,omitempty"`
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config is a reusable task definition, referenced from workflow steps by
// taskRef. Exactly one kind payload must match Type.
type Config struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id,omitempty"`
	Type Type   `json:"type"         yaml:"type"         mapstructure:"type"         validate:"required,oneof=http transform inline"`

	HTTP      *HTTPConfig      `json:"http,omitempty"      yaml:"http,omitempty"      mapstructure:"http,omitempty"`
	Transform *TransformConfig `json:"transform,omitempty" yaml:"transform,omitempty" mapstructure:"transform,omitempty"`
	Handler   string           `json:"handler,omitempty"   yaml:"handler,omitempty"   mapstructure:"handler,omitempty"`

	InputSchema  *schema.Schema `json:"input,omitempty"  yaml:"input,omitempty"  mapstructure:"input,omitempty"`
	OutputSchema *schema.Schema `json:"output,omitempty" yaml:"output,omitempty" mapstructure:"output,omitempty"`

	// With holds default input values; step-level input merges over them.
	With *core.Input `json:"with,omitempty" yaml:"with,omitempty" mapstructure:"with,omitempty"`

	// Timeout is the default execution timeout as a human duration. Bare
	// integers are minutes. Steps may override it.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout,omitempty"`
}

func (t *Config) Component() core.ComponentType {
	return core.ComponentTask
}

func (t *Config) GetInput() *core.Input {
	if t.With == nil {
		t.With = &core.Input{}
	}
	return t.With
}

func (t *Config) Validate(ctx context.Context) error {
	v := schema.NewCompositeValidator(
		schema.NewStructValidator(t),
		NewTypeValidator(t),
	)
	return v.Validate(ctx)
}

func (t *Config) ValidateInput(ctx context.Context, input *core.Input) error {
	if t.InputSchema == nil || input == nil {
		return nil
	}
	return schema.NewParamsValidator(input.AsMap(), t.InputSchema, t.ID).Validate(ctx)
}

func (t *Config) ValidateOutput(ctx context.Context, output *core.Output) error {
	if t.OutputSchema == nil || output == nil {
		return nil
	}
	return schema.NewParamsValidator(output.AsMap(), t.OutputSchema, t.ID).Validate(ctx)
}

func (t *Config) Merge(other any) error {
	otherConfig, ok := other.(*Config)
	if !ok {
		return fmt.Errorf("failed to merge task configs: %w", errors.New("invalid type for merge"))
	}
	return mergo.Merge(t, otherConfig, mergo.WithOverride)
}

// Clone returns a deep copy so executions can mutate defaults safely.
func (t *Config) Clone() (*Config, error) {
	if t == nil {
		return nil, nil
	}
	return core.DeepCopy(t)
}
