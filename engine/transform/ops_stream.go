package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/expr"
)

// ----- select -----

type selectOp struct {
	Fields []string `mapstructure:"fields"`
}

func (o *selectOp) Name() string { return "select" }

func (o *selectOp) validate() error {
	if len(o.Fields) == 0 {
		return fmt.Errorf("fields is required")
	}
	return nil
}

func (o *selectOp) Apply(data any) (any, error) {
	return mapRecords(data, func(rec map[string]any) (any, error) {
		out := make(map[string]any, len(o.Fields))
		for _, f := range o.Fields {
			if v, ok := fieldValue(rec, f); ok {
				out[keyName(f)] = v
			}
		}
		return out, nil
	})
}

// keyName is the output key for a projected path: the last path segment.
func keyName(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ----- filter -----

var filterOperators = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"contains": true, "startsWith": true, "endsWith": true, "in": true,
}

type filterOp struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    any    `mapstructure:"value"`
}

func (o *filterOp) Name() string { return "filter" }

func (o *filterOp) validate() error {
	if o.Field == "" {
		return fmt.Errorf("field is required")
	}
	if !filterOperators[o.Operator] {
		return fmt.Errorf("unknown operator %q", o.Operator)
	}
	if o.Operator == "in" {
		if _, ok := o.Value.([]any); !ok {
			return fmt.Errorf("in operator needs an array value")
		}
	}
	return nil
}

func (o *filterOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		v, _ := fieldValue(el, o.Field)
		if o.matches(v) {
			out = append(out, el)
		}
	}
	return out, nil
}

func (o *filterOp) matches(v any) bool {
	switch o.Operator {
	case "contains":
		if s, ok := v.(string); ok {
			return strings.Contains(s, stringValue(o.Value))
		}
		if arr, ok := v.([]any); ok {
			for _, el := range arr {
				if expr.Compare("==", el, o.Value) {
					return true
				}
			}
		}
		return false
	case "startsWith":
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, stringValue(o.Value))
	case "endsWith":
		s, ok := v.(string)
		return ok && strings.HasSuffix(s, stringValue(o.Value))
	case "in":
		list, _ := o.Value.([]any)
		for _, el := range list {
			if expr.Compare("==", v, el) {
				return true
			}
		}
		return false
	}
	return expr.Compare(o.Operator, v, o.Value)
}

// ----- map -----

type mapOp struct {
	Mapping map[string]string `mapstructure:"mapping"`
}

func (o *mapOp) Name() string { return "map" }

func (o *mapOp) validate() error {
	if len(o.Mapping) == 0 {
		return fmt.Errorf("mapping is required")
	}
	return nil
}

func (o *mapOp) Apply(data any) (any, error) {
	return mapRecords(data, func(rec map[string]any) (any, error) {
		out := make(map[string]any, len(o.Mapping))
		for key, path := range o.Mapping {
			if v, ok := fieldValue(rec, path); ok {
				out[key] = v
			}
		}
		return out, nil
	})
}

// ----- flatMap -----

type flatMapOp struct {
	Path string `mapstructure:"path"`
}

func (o *flatMapOp) Name() string { return "flatMap" }

func (o *flatMapOp) validate() error {
	if o.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

func (o *flatMapOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	var out []any
	for i, el := range arr {
		v, ok := fieldValue(el, o.Path)
		if !ok {
			continue
		}
		nested, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("path %q in element %d is not an array", o.Path, i)
		}
		out = append(out, nested...)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// ----- sortBy -----

type sortByOp struct {
	Field string `mapstructure:"field"`
	Order string `mapstructure:"order"`
}

func (o *sortByOp) Name() string { return "sortBy" }

func (o *sortByOp) validate() error {
	if o.Field == "" {
		return fmt.Errorf("field is required")
	}
	if o.Order != "" && o.Order != "asc" && o.Order != "desc" {
		return fmt.Errorf("order must be asc or desc")
	}
	return nil
}

func (o *sortByOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := append([]any(nil), arr...)
	op := "<"
	if o.Order == "desc" {
		op = ">"
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := fieldValue(out[i], o.Field)
		b, _ := fieldValue(out[j], o.Field)
		return expr.Compare(op, a, b)
	})
	return out, nil
}

// ----- enrich -----

type enrichOp struct {
	Fields map[string]any `mapstructure:"fields"`
}

func (o *enrichOp) Name() string { return "enrich" }

func (o *enrichOp) validate() error {
	if len(o.Fields) == 0 {
		return fmt.Errorf("fields is required")
	}
	return nil
}

// Apply adds computed fields to each record. String values with a "$."
// prefix read from the record itself; everything else is a literal.
func (o *enrichOp) Apply(data any) (any, error) {
	return mapRecords(data, func(rec map[string]any) (any, error) {
		out := cloneRecord(rec)
		for key, spec := range o.Fields {
			if path, ok := spec.(string); ok && strings.HasPrefix(path, "$.") {
				if v, found := fieldValue(rec, path[2:]); found {
					out[key] = v
				}
				continue
			}
			out[key] = spec
		}
		return out, nil
	})
}

// ----- limit / skip -----

type limitOp struct {
	Count int `mapstructure:"count"`
}

func (o *limitOp) Name() string { return "limit" }

func (o *limitOp) validate() error {
	if o.Count < 0 {
		return fmt.Errorf("count must not be negative")
	}
	return nil
}

func (o *limitOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if o.Count >= len(arr) {
		return arr, nil
	}
	return append([]any(nil), arr[:o.Count]...), nil
}

type skipOp struct {
	Count int `mapstructure:"count"`
}

func (o *skipOp) Name() string { return "skip" }

func (o *skipOp) validate() error {
	if o.Count < 0 {
		return fmt.Errorf("count must not be negative")
	}
	return nil
}

func (o *skipOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if o.Count >= len(arr) {
		return []any{}, nil
	}
	return append([]any(nil), arr[o.Count:]...), nil
}

// ----- first / last / nth -----

type firstOp struct{}

func (o *firstOp) Name() string { return "first" }

func (o *firstOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty array")
	}
	return arr[0], nil
}

type lastOp struct{}

func (o *lastOp) Name() string { return "last" }

func (o *lastOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty array")
	}
	return arr[len(arr)-1], nil
}

type nthOp struct {
	Index int `mapstructure:"index"`
}

func (o *nthOp) Name() string { return "nth" }

func (o *nthOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if o.Index < 0 || o.Index >= len(arr) {
		return nil, fmt.Errorf("index %d out of range for %d elements", o.Index, len(arr))
	}
	return arr[o.Index], nil
}

// ----- reverse / unique / flatten / chunk / zip -----

type reverseOp struct{}

func (o *reverseOp) Name() string { return "reverse" }

func (o *reverseOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		out[len(arr)-1-i] = el
	}
	return out, nil
}

type uniqueOp struct {
	Field string `mapstructure:"field"`
}

func (o *uniqueOp) Name() string { return "unique" }

// Apply keeps the first occurrence of each key, preserving order. Without
// a field the whole value identifies the element.
func (o *uniqueOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(arr))
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		var key string
		if o.Field != "" {
			v, ok := fieldValue(el, o.Field)
			if !ok {
				key = "\x00absent"
			} else {
				key = stringValue(v)
			}
		} else {
			key = core.ETagFromAny(el)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, el)
	}
	return out, nil
}

type flattenOp struct {
	Depth int `mapstructure:"depth"`
}

func (o *flattenOp) Name() string { return "flatten" }

func (o *flattenOp) validate() error {
	if o.Depth < -1 {
		return fmt.Errorf("depth must be -1 (full) or a positive level count")
	}
	return nil
}

func (o *flattenOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	depth := o.Depth
	if depth == 0 {
		depth = 1
	}
	return flatten(arr, depth), nil
}

func flatten(arr []any, depth int) []any {
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		nested, ok := el.([]any)
		if ok && depth != 0 {
			out = append(out, flatten(nested, depth-1)...)
			continue
		}
		out = append(out, el)
	}
	return out
}

type chunkOp struct {
	Size int `mapstructure:"size"`
}

func (o *chunkOp) Name() string { return "chunk" }

func (o *chunkOp) validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("size must be positive")
	}
	return nil
}

func (o *chunkOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, (len(arr)+o.Size-1)/o.Size)
	for start := 0; start < len(arr); start += o.Size {
		end := start + o.Size
		if end > len(arr) {
			end = len(arr)
		}
		out = append(out, append([]any(nil), arr[start:end]...))
	}
	return out, nil
}

type zipOp struct {
	With []any `mapstructure:"with"`
}

func (o *zipOp) Name() string { return "zip" }

// Apply pairs elements index-wise up to the shorter side. Two objects
// merge into one record with the right side winning on collisions; other
// shapes pair under left and right keys.
func (o *zipOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	n := len(arr)
	if len(o.With) < n {
		n = len(o.With)
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		lm, lok := arr[i].(map[string]any)
		rm, rok := o.With[i].(map[string]any)
		if lok && rok {
			merged := cloneRecord(lm)
			for k, v := range rm {
				merged[k] = v
			}
			out[i] = merged
			continue
		}
		out[i] = map[string]any{"left": arr[i], "right": o.With[i]}
	}
	return out, nil
}
