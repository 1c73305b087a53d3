// Package transform runs the data-shaping pipelines behind transform
// tasks. A pipeline is an ordered list of named operations compiled from
// their raw definition records; the catalog of operations is closed.
package transform

import (
	"fmt"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/go-viper/mapstructure/v2"
)

// Operation is one compiled pipeline stage.
type Operation interface {
	Name() string
	Apply(data any) (any, error)
}

// validatable operations check their parameters at compile time.
type validatable interface {
	validate() error
}

var registry = map[string]func() Operation{
	"select":     func() Operation { return &selectOp{} },
	"filter":     func() Operation { return &filterOp{} },
	"map":        func() Operation { return &mapOp{} },
	"flatMap":    func() Operation { return &flatMapOp{} },
	"groupBy":    func() Operation { return &groupByOp{} },
	"join":       func() Operation { return &joinOp{} },
	"sortBy":     func() Operation { return &sortByOp{} },
	"enrich":     func() Operation { return &enrichOp{} },
	"aggregate":  func() Operation { return &aggregateOp{} },
	"limit":      func() Operation { return &limitOp{} },
	"skip":       func() Operation { return &skipOp{} },
	"first":      func() Operation { return &firstOp{} },
	"last":       func() Operation { return &lastOp{} },
	"nth":        func() Operation { return &nthOp{} },
	"reverse":    func() Operation { return &reverseOp{} },
	"unique":     func() Operation { return &uniqueOp{} },
	"flatten":    func() Operation { return &flattenOp{} },
	"chunk":      func() Operation { return &chunkOp{} },
	"zip":        func() Operation { return &zipOp{} },
	"uppercase":  func() Operation { return &caseOp{upper: true} },
	"lowercase":  func() Operation { return &caseOp{} },
	"trim":       func() Operation { return &trimOp{} },
	"split":      func() Operation { return &splitOp{} },
	"concat":     func() Operation { return &concatOp{} },
	"replace":    func() Operation { return &replaceOp{} },
	"substring":  func() Operation { return &substringOp{} },
	"template":   func() Operation { return &templateOp{} },
	"round":      func() Operation { return &roundOp{} },
	"floor":      func() Operation { return &floorOp{} },
	"ceil":       func() Operation { return &ceilOp{} },
	"abs":        func() Operation { return &absOp{} },
	"clamp":      func() Operation { return &clampOp{} },
	"scale":      func() Operation { return &scaleOp{} },
	"percentage": func() Operation { return &percentageOp{} },
	"randomOne":  func() Operation { return &randomOneOp{} },
	"randomN":    func() Operation { return &randomNOp{} },
	"shuffle":    func() Operation { return &shuffleOp{} },
}

// Pipeline is a compiled sequence of operations applied left to right.
type Pipeline struct {
	ops []Operation
}

// Compile turns raw operation records into a pipeline. Unknown operation
// names, unknown parameters and invalid parameter values are all
// configuration errors; nothing is deferred to apply time.
func Compile(raw []map[string]any) (*Pipeline, error) {
	ops := make([]Operation, 0, len(raw))
	for i, spec := range raw {
		name, _ := spec["operation"].(string)
		if name == "" {
			return nil, core.Errorf(core.ErrConfiguration,
				"transform step %d: missing operation name", i)
		}
		factory, ok := registry[name]
		if !ok {
			return nil, core.Errorf(core.ErrConfiguration,
				"transform step %d: unknown operation %q", i, name)
		}
		op := factory()
		if err := decodeSpec(spec, op); err != nil {
			return nil, core.Errorf(core.ErrConfiguration,
				"transform step %d (%s): %v", i, name, err)
		}
		if v, ok := op.(validatable); ok {
			if err := v.validate(); err != nil {
				return nil, core.Errorf(core.ErrConfiguration,
					"transform step %d (%s): %v", i, name, err)
			}
		}
		ops = append(ops, op)
	}
	return &Pipeline{ops: ops}, nil
}

// Apply runs the dataset through every stage. Stage failures are data
// shape problems and classify as validation errors.
func (p *Pipeline) Apply(data any) (any, error) {
	out := data
	for i, op := range p.ops {
		next, err := op.Apply(out)
		if err != nil {
			return nil, core.NewError(
				fmt.Errorf("operation %s: %w", op.Name(), err),
				core.ErrValidation,
				map[string]any{"operation": op.Name(), "step": i},
			)
		}
		out = next
	}
	return out, nil
}

// Size returns the number of compiled stages.
func (p *Pipeline) Size() int {
	return len(p.ops)
}

// decodeSpec binds the record onto the typed operation, rejecting
// parameters the operation does not declare.
func decodeSpec(spec map[string]any, out Operation) error {
	params := make(map[string]any, len(spec))
	for k, v := range spec {
		if k != "operation" {
			params[k] = v
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
