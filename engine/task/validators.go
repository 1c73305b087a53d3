package task

import (
	"context"
	"fmt"

	"github.com/dagrun/dagrun/engine/core"
)

// -----------------------------------------------------------------------------
// TypeValidator
// -----------------------------------------------------------------------------

// TypeValidator checks that exactly the payload matching Type is present and
// well formed.
type TypeValidator struct {
	config *Config
}

func NewTypeValidator(config *Config) *TypeValidator {
	return &TypeValidator{
		config: config,
	}
}

func (v *TypeValidator) Validate(_ context.Context) error {
	switch v.config.Type {
	case TypeHTTP:
		if err := v.validateHTTP(); err != nil {
			return err
		}
	case TypeTransform:
		if err := v.validateTransform(); err != nil {
			return err
		}
	case TypeInline:
		if err := v.validateInline(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("task type is required")
	default:
		return fmt.Errorf("invalid task type: %s", v.config.Type)
	}
	if v.config.Timeout != "" {
		if _, err := core.ParseHumanDuration(v.config.Timeout); err != nil {
			return fmt.Errorf("task %s: timeout: %w", v.config.ID, err)
		}
	}
	return nil
}

func (v *TypeValidator) validateHTTP() error {
	if v.config.HTTP == nil {
		return fmt.Errorf("http payload is required for http tasks")
	}
	if v.config.HTTP.URL == "" {
		return fmt.Errorf("http url is required")
	}
	if v.config.Transform != nil || v.config.Handler != "" {
		return fmt.Errorf("http tasks cannot carry transform or handler payloads")
	}
	return nil
}

func (v *TypeValidator) validateTransform() error {
	if v.config.Transform == nil {
		return fmt.Errorf("transform payload is required for transform tasks")
	}
	if v.config.Transform.Input == nil {
		return fmt.Errorf("transform input is required")
	}
	if v.config.HTTP != nil || v.config.Handler != "" {
		return fmt.Errorf("transform tasks cannot carry http or handler payloads")
	}
	return nil
}

func (v *TypeValidator) validateInline() error {
	if v.config.Handler == "" {
		return fmt.Errorf("handler name is required for inline tasks")
	}
	if v.config.HTTP != nil || v.config.Transform != nil {
		return fmt.Errorf("inline tasks cannot carry http or transform payloads")
	}
	return nil
}
