package transform

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// stringTransform applies fn to the targeted strings: the field of each
// record when a field is set, otherwise the value itself or every string
// element of an array.
func stringTransform(data any, field, opName string, fn func(string) (any, error)) (any, error) {
	if field != "" {
		return mapRecords(data, func(rec map[string]any) (any, error) {
			v, ok := fieldValue(rec, field)
			if !ok {
				return rec, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %q is not a string, got %T", field, v)
			}
			next, err := fn(s)
			if err != nil {
				return nil, err
			}
			out := cloneRecord(rec)
			out[keyName(field)] = next
			return out, nil
		})
	}
	switch t := data.(type) {
	case string:
		return fn(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			s, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string, got %T", i, el)
			}
			next, err := fn(s)
			if err != nil {
				return nil, err
			}
			out[i] = next
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s expects a string, an array of strings or a field parameter", opName)
}

// ----- uppercase / lowercase -----

type caseOp struct {
	upper bool

	Field string `mapstructure:"field"`
}

func (o *caseOp) Name() string {
	if o.upper {
		return "uppercase"
	}
	return "lowercase"
}

func (o *caseOp) Apply(data any) (any, error) {
	fn := strings.ToLower
	if o.upper {
		fn = strings.ToUpper
	}
	return stringTransform(data, o.Field, o.Name(), func(s string) (any, error) {
		return fn(s), nil
	})
}

// ----- trim -----

type trimOp struct {
	Field  string `mapstructure:"field"`
	Cutset string `mapstructure:"cutset"`
}

func (o *trimOp) Name() string { return "trim" }

func (o *trimOp) Apply(data any) (any, error) {
	return stringTransform(data, o.Field, "trim", func(s string) (any, error) {
		if o.Cutset != "" {
			return strings.Trim(s, o.Cutset), nil
		}
		return strings.TrimSpace(s), nil
	})
}

// ----- split -----

type splitOp struct {
	Field     string `mapstructure:"field"`
	Separator string `mapstructure:"separator"`
}

func (o *splitOp) Name() string { return "split" }

func (o *splitOp) validate() error {
	if o.Separator == "" {
		return fmt.Errorf("separator is required")
	}
	return nil
}

func (o *splitOp) Apply(data any) (any, error) {
	return stringTransform(data, o.Field, "split", func(s string) (any, error) {
		parts := strings.Split(s, o.Separator)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	})
}

// ----- concat -----

type concatOp struct {
	Fields    []string `mapstructure:"fields"`
	Separator string   `mapstructure:"separator"`
	As        string   `mapstructure:"as"`
}

func (o *concatOp) Name() string { return "concat" }

func (o *concatOp) validate() error {
	if len(o.Fields) == 0 {
		return fmt.Errorf("fields is required")
	}
	if o.As == "" {
		return fmt.Errorf("as is required")
	}
	return nil
}

// Apply joins the stringified fields into one new field per record.
// Absent fields contribute an empty segment.
func (o *concatOp) Apply(data any) (any, error) {
	return mapRecords(data, func(rec map[string]any) (any, error) {
		parts := make([]string, len(o.Fields))
		for i, f := range o.Fields {
			if v, ok := fieldValue(rec, f); ok {
				parts[i] = stringValue(v)
			}
		}
		out := cloneRecord(rec)
		out[o.As] = strings.Join(parts, o.Separator)
		return out, nil
	})
}

// ----- replace -----

type replaceOp struct {
	Field string `mapstructure:"field"`
	Old   string `mapstructure:"old"`
	New   string `mapstructure:"new"`
	Count int    `mapstructure:"count"`
}

func (o *replaceOp) Name() string { return "replace" }

func (o *replaceOp) validate() error {
	if o.Old == "" {
		return fmt.Errorf("old is required")
	}
	return nil
}

func (o *replaceOp) Apply(data any) (any, error) {
	count := o.Count
	if count == 0 {
		count = -1
	}
	return stringTransform(data, o.Field, "replace", func(s string) (any, error) {
		return strings.Replace(s, o.Old, o.New, count), nil
	})
}

// ----- substring -----

type substringOp struct {
	Field string `mapstructure:"field"`
	Start int    `mapstructure:"start"`
	End   int    `mapstructure:"end"`
}

func (o *substringOp) Name() string { return "substring" }

func (o *substringOp) validate() error {
	if o.Start < 0 {
		return fmt.Errorf("start must not be negative")
	}
	if o.End != 0 && o.End < o.Start {
		return fmt.Errorf("end must not precede start")
	}
	return nil
}

// Apply slices by rune so multi-byte input never splits mid-character.
// Bounds clamp to the string; end zero means end of string.
func (o *substringOp) Apply(data any) (any, error) {
	return stringTransform(data, o.Field, "substring", func(s string) (any, error) {
		runes := []rune(s)
		start := o.Start
		if start > len(runes) {
			start = len(runes)
		}
		end := o.End
		if end == 0 || end > len(runes) {
			end = len(runes)
		}
		if end < start {
			end = start
		}
		return string(runes[start:end]), nil
	})
}

// ----- template -----

type templateOp struct {
	Template string `mapstructure:"template"`
	As       string `mapstructure:"as"`

	tmpl *template.Template
}

func (o *templateOp) Name() string { return "template" }

func (o *templateOp) validate() error {
	if o.Template == "" {
		return fmt.Errorf("template is required")
	}
	t, err := template.New("transform").Funcs(sprig.TxtFuncMap()).Parse(o.Template)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	o.tmpl = t
	return nil
}

// Apply renders the template once per record with the record as dot. With
// an as field the rendering is added to the record; without one it
// replaces the element.
func (o *templateOp) Apply(data any) (any, error) {
	render := func(v any) (string, error) {
		var b strings.Builder
		if err := o.tmpl.Execute(&b, v); err != nil {
			return "", fmt.Errorf("render template: %w", err)
		}
		return b.String(), nil
	}
	if o.As != "" {
		return mapRecords(data, func(rec map[string]any) (any, error) {
			s, err := render(rec)
			if err != nil {
				return nil, err
			}
			out := cloneRecord(rec)
			out[o.As] = s
			return out, nil
		})
	}
	if arr, ok := data.([]any); ok {
		out := make([]any, len(arr))
		for i, el := range arr {
			s, err := render(el)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	return render(data)
}
