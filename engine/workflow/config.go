package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"dario.cat/mergo"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/schema"
)

// DefaultNamespace applies when metadata omits a namespace.
const DefaultNamespace = "default"

// Metadata names a definition inside the catalog.
type Metadata struct {
	Name      string `json:"name"                yaml:"name"                mapstructure:"name"                validate:"required"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" mapstructure:"namespace,omitempty"`
	Version   string `json:"version,omitempty"   yaml:"version,omitempty"   mapstructure:"version,omitempty"`
}

// Ref returns the reference this metadata names.
func (m Metadata) Ref() Ref {
	ns := m.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return Ref{Namespace: ns, Name: m.Name, Version: m.Version}
}

// InputParam declares one named workflow parameter.
type InputParam struct {
	Type     string         `json:"type,omitempty"     yaml:"type,omitempty"     mapstructure:"type,omitempty"     validate:"omitempty,oneof=string number boolean object array"`
	Required bool           `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required,omitempty"`
	Default  any            `json:"default,omitempty"  yaml:"default,omitempty"  mapstructure:"default,omitempty"`
	Enum     []any          `json:"enum,omitempty"     yaml:"enum,omitempty"     mapstructure:"enum,omitempty"`
	Schema   *schema.Schema `json:"schema,omitempty"   yaml:"schema,omitempty"   mapstructure:"schema,omitempty"`
}

// Config is a workflow definition: declared inputs, the step list, and the
// output mapping evaluated once every step settled.
type Config struct {
	Name        string `json:"name"                  yaml:"name"                  mapstructure:"name"                  validate:"required"`
	Namespace   string `json:"namespace,omitempty"   yaml:"namespace,omitempty"   mapstructure:"namespace,omitempty"`
	Version     string `json:"version,omitempty"     yaml:"version,omitempty"     mapstructure:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description,omitempty"`

	Input  map[string]*InputParam `json:"input,omitempty"  yaml:"input,omitempty"  mapstructure:"input,omitempty"`
	Tasks  []Step                 `json:"tasks"            yaml:"tasks"            mapstructure:"tasks"`
	Output map[string]any         `json:"output,omitempty" yaml:"output,omitempty" mapstructure:"output,omitempty"`
}

func (w *Config) Component() core.ComponentType {
	return core.ComponentWorkflow
}

// GetNamespace returns the namespace, defaulting to DefaultNamespace.
func (w *Config) GetNamespace() string {
	if w.Namespace == "" {
		return DefaultNamespace
	}
	return w.Namespace
}

// Ref returns the canonical reference for this definition.
func (w *Config) Ref() Ref {
	return Ref{Namespace: w.GetNamespace(), Name: w.Name, Version: w.Version}
}

func (w *Config) Validate(ctx context.Context) error {
	v := schema.NewCompositeValidator(
		schema.NewStructValidator(w),
	)
	if err := v.Validate(ctx); err != nil {
		return err
	}
	for i := range w.Tasks {
		if err := w.Tasks[i].Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.Name, err)
		}
	}
	return nil
}

// ResolveInput applies declared defaults over the provided values and checks
// required, enum, type and schema constraints. Failures are VALIDATION_ERROR.
func (w *Config) ResolveInput(ctx context.Context, provided map[string]any) (*core.Input, error) {
	resolved := core.Input{}
	for name, value := range provided {
		resolved[name] = value
	}
	names := make([]string, 0, len(w.Input))
	for name := range w.Input {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		param := w.Input[name]
		if param == nil {
			continue
		}
		value, present := resolved[name]
		if !present {
			if param.Default != nil {
				resolved[name] = param.Default
				value = param.Default
				present = true
			} else if param.Required {
				return nil, core.Errorf(core.ErrValidation, "workflow %s: input %q is required", w.Name, name)
			}
		}
		if !present {
			continue
		}
		if !matchesParamType(value, param.Type) {
			return nil, core.Errorf(
				core.ErrValidation,
				"workflow %s: input %q must be of type %s",
				w.Name, name, param.Type,
			)
		}
		if len(param.Enum) > 0 && !enumContains(param.Enum, value) {
			return nil, core.Errorf(core.ErrValidation, "workflow %s: input %q is not an allowed value", w.Name, name)
		}
		if param.Schema != nil {
			if _, err := param.Schema.Validate(ctx, value); err != nil {
				return nil, core.NewError(err, core.ErrValidation, map[string]any{
					"workflow": w.Name,
					"input":    name,
				})
			}
		}
	}
	return &resolved, nil
}

func (w *Config) Merge(other any) error {
	otherConfig, ok := other.(*Config)
	if !ok {
		return fmt.Errorf("failed to merge workflow configs: %w", errors.New("invalid type for merge"))
	}
	return mergo.Merge(w, otherConfig, mergo.WithOverride)
}

// Clone returns a deep copy for safe per-execution mutation.
func (w *Config) Clone() (*Config, error) {
	if w == nil {
		return nil, nil
	}
	return core.DeepCopy(w)
}

// StepByID returns the step with the given id.
func (w *Config) StepByID(id string) (*Step, bool) {
	for i := range w.Tasks {
		if w.Tasks[i].ID == id {
			return &w.Tasks[i], true
		}
	}
	return nil, false
}

func matchesParamType(v any, t string) bool {
	switch t {
	case "":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int32, int64, uint, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

func enumContains(enum []any, v any) bool {
	for _, allowed := range enum {
		if valuesEqual(allowed, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares enum members loosely so YAML ints match JSON floats.
func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
