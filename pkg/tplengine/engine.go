package tplengine

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// parseCacheSize bounds the memoized parse results. Workflows reuse a small
// set of template strings, so a modest cache removes almost all re-parsing.
const parseCacheSize = 2048

// TemplateEngine resolves {{ path }} expressions against a Context.
// A string that is exactly one expression resolves to the referenced value
// with its type preserved; mixed text interpolates stringified values.
type TemplateEngine struct {
	parsed *lru.Cache[string, []span]
}

func NewEngine() *TemplateEngine {
	cache, err := lru.New[string, []span](parseCacheSize)
	if err != nil {
		cache = nil
	}
	return &TemplateEngine{parsed: cache}
}

func (e *TemplateEngine) parse(tmpl string) ([]span, *Error) {
	if e.parsed != nil {
		if spans, ok := e.parsed.Get(tmpl); ok {
			return spans, nil
		}
	}
	spans, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	if e.parsed != nil {
		e.parsed.Add(tmpl, spans)
	}
	return spans, nil
}

// Resolve evaluates tmpl against ctx. Strings without template syntax pass
// through unchanged.
func (e *TemplateEngine) Resolve(tmpl string, ctx *Context) (any, error) {
	spans, perr := e.parse(tmpl)
	if perr != nil {
		return nil, perr
	}
	if len(spans) == 0 {
		return tmpl, nil
	}
	if len(spans) == 1 && strings.TrimSpace(tmpl) == strings.TrimSpace(spans[0].expr.raw) {
		val, rerr := e.resolveExpr(&spans[0].expr, ctx)
		if rerr != nil {
			return nil, rerr
		}
		return val, nil
	}
	var b strings.Builder
	last := 0
	for i := range spans {
		sp := &spans[i]
		b.WriteString(tmpl[last:sp.start])
		val, rerr := e.resolveExpr(&sp.expr, ctx)
		if rerr != nil {
			return nil, rerr
		}
		b.WriteString(Stringify(val))
		last = sp.end
	}
	b.WriteString(tmpl[last:])
	return b.String(), nil
}

// ResolveString evaluates tmpl and coerces the result to a string.
func (e *TemplateEngine) ResolveString(tmpl string, ctx *Context) (string, error) {
	val, err := e.Resolve(tmpl, ctx)
	if err != nil {
		return "", err
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return Stringify(val), nil
}

// ParseMap walks value recursively, resolving every string. Maps and slices
// are rebuilt; the first failure aborts the walk.
func (e *TemplateEngine) ParseMap(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return e.Resolve(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			resolved, err := e.ParseMap(vv, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			resolved, err := e.ParseMap(vv, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveMapping resolves a whole input mapping, collecting every failure
// instead of stopping at the first. Keys walk in sorted order so the error
// list is deterministic.
func (e *TemplateEngine) ResolveMapping(mapping map[string]any, ctx *Context) (map[string]any, error) {
	if mapping == nil {
		return map[string]any{}, nil
	}
	var fields []*FieldError
	out := make(map[string]any, len(mapping))
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = e.resolveMappingValue(k, mapping[k], ctx, &fields)
	}
	if len(fields) > 0 {
		return nil, &MappingError{Fields: fields}
	}
	return out, nil
}

func (e *TemplateEngine) resolveMappingValue(path string, value any, ctx *Context, fields *[]*FieldError) any {
	switch v := value.(type) {
	case string:
		resolved, err := e.Resolve(v, ctx)
		if err != nil {
			var terr *Error
			if te, ok := err.(*Error); ok {
				terr = te
			} else {
				terr = newError(KindInvalidTemplate, v, "%v", err)
			}
			*fields = append(*fields, &FieldError{Path: path, Err: terr})
			return nil
		}
		return resolved
	case map[string]any:
		out := make(map[string]any, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = e.resolveMappingValue(path+"."+k, v[k], ctx, fields)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = e.resolveMappingValue(path+"["+strconv.Itoa(i)+"]", vv, ctx, fields)
		}
		return out
	default:
		return value
	}
}

func (e *TemplateEngine) resolveExpr(x *expression, ctx *Context) (any, *Error) {
	if ctx == nil {
		ctx = NewContext()
	}
	path := x.path
	head := path[0]
	if head.field == "tasks" {
		return e.resolveTaskExpr(x, ctx)
	}
	rootVal, ok := ctx.root(head.field)
	if !ok {
		return nil, newError(KindMissingField, x.raw, "unknown template root %q", head.field)
	}
	return navigate(rootVal, path[1:], x)
}

func (e *TemplateEngine) resolveTaskExpr(x *expression, ctx *Context) (any, *Error) {
	path := x.path
	if len(path) < 2 || path[1].kind != segField {
		return nil, newError(KindInvalidTemplate, x.raw, "task reference must be tasks.<id>")
	}
	id := path[1].field
	view, ok := ctx.task(id)
	if !ok {
		return nil, newError(KindMissingField, x.raw, "unknown task %q", id)
	}
	if view.State == TaskPending {
		return nil, newError(KindTaskNotCompleted, x.raw, "task %q has not completed", id)
	}
	rest := path[2:]
	if len(rest) == 0 {
		return map[string]any{"output": view.Output}, nil
	}
	if rest[0].kind != segField || rest[0].field != "output" {
		return nil, newError(KindMissingField, x.raw, "only 'output' is addressable on task %q", id)
	}
	output := view.Output
	if output == nil {
		output = map[string]any{}
	}
	return navigate(output, rest[1:], x)
}

func navigate(value any, path []segment, x *expression) (any, *Error) {
	cur := value
	for _, seg := range path {
		switch seg.kind {
		case segField:
			m, ok := asStringMap(cur)
			if !ok {
				if cur == nil {
					return nil, newError(KindTypeError, x.raw, "cannot read field %q of null", seg.field)
				}
				return nil, newError(KindTypeError, x.raw, "cannot read field %q of %s", seg.field, typeName(cur))
			}
			v, exists := m[seg.field]
			if !exists {
				return nil, newError(KindMissingField, x.raw, "field %q not found", seg.field)
			}
			cur = v
		case segIndex:
			arr, ok := cur.([]any)
			if !ok {
				if cur == nil {
					return nil, newError(KindTypeError, x.raw, "cannot index null")
				}
				return nil, newError(KindTypeError, x.raw, "cannot index %s", typeName(cur))
			}
			if seg.index >= len(arr) {
				return nil, newError(KindMissingField, x.raw, "index %d out of range (length %d)", seg.index, len(arr))
			}
			cur = arr[seg.index]
		}
	}
	return cur, nil
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, vv := range m {
			out[k] = vv
		}
		return out, true
	default:
		return nil, false
	}
}

func typeName(v any) string {
	switch v.(type) {
	case map[string]any, map[string]string:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case int, int64, float64, json.Number:
		return "a number"
	default:
		return "a scalar"
	}
}

// Stringify renders a resolved value for interpolation into surrounding
// text. Numbers keep their canonical form, objects and arrays render as
// deterministic JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) && t >= -1e15 && t <= 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
