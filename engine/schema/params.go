package schema

import (
	"context"
	"errors"
	"fmt"
)

// ParamsValidator checks an input mapping against a declared schema. Used
// for workflow inputs and task inputs after template resolution.
type ParamsValidator struct {
	id     string
	params map[string]any
	schema *Schema
}

func NewParamsValidator(params map[string]any, schema *Schema, id string) *ParamsValidator {
	return &ParamsValidator{
		id:     id,
		params: params,
		schema: schema,
	}
}

func (v *ParamsValidator) Validate(ctx context.Context) error {
	// No schema means nothing to validate against.
	if v.schema == nil {
		return nil
	}

	// A schema without parameters is an error: required fields can never hold.
	if v.params == nil {
		return fmt.Errorf(
			"%w for %s: %s",
			errors.New("validation error"),
			v.id,
			"parameters are nil but a schema is defined",
		)
	}

	if _, err := v.schema.Validate(ctx, v.params); err != nil {
		return fmt.Errorf("%w for %s: %w", errors.New("input parameters invalid"), v.id, err)
	}

	return nil
}
