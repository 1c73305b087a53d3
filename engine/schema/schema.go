package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/kaptinlin/jsonschema"
)

// -----------------------------------------------------------------------------
// Schema
// -----------------------------------------------------------------------------

// Schema is a JSON Schema document kept in its map form so definitions can
// embed it directly from YAML.
type Schema map[string]any

type Result = jsonschema.EvaluationResult

// compiledSchemaCache memoizes compiled schemas keyed by their canonical
// JSON. Workflow definitions revalidate the same schemas on every run.
var compiledSchemaCache sync.Map

func (s *Schema) String() string {
	bytes, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(bytes)
}

// Compile compiles the schema, reusing a cached compilation when the same
// document was seen before.
func (s *Schema) Compile(ctx context.Context) (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	start := time.Now()
	key := core.ETagFromAny(map[string]any(*s))
	if cached, ok := compiledSchemaCache.Load(key); ok {
		recordSchemaCompile(ctx, time.Since(start), true)
		return cached.(*jsonschema.Schema), nil
	}
	bytes, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	compiledSchemaCache.Store(key, compiled)
	recordSchemaCompile(ctx, time.Since(start), false)
	return compiled, nil
}

// Validate checks value against the schema. A nil schema accepts anything.
func (s *Schema) Validate(ctx context.Context, value any) (*Result, error) {
	compiled, err := s.Compile(ctx)
	if err != nil {
		return nil, err
	}
	if compiled == nil {
		return nil, nil
	}
	start := time.Now()
	result := compiled.Validate(value)
	recordSchemaValidation(ctx, time.Since(start), result.Valid)
	if result.Valid {
		return result, nil
	}
	return nil, fmt.Errorf("schema validation failed: %v", result.Errors)
}
