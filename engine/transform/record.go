package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dagrun/dagrun/pkg/tplengine"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// requireArray coerces the dataset to a record stream. Stream operations
// reject anything that is not an array.
func requireArray(v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expects an array, got %T", v)
	}
	return arr, nil
}

// mapRecords applies fn to a single record or to every record of a
// stream, preserving shape.
func mapRecords(v any, fn func(rec map[string]any) (any, error)) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return fn(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			rec, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object, got %T", i, el)
			}
			mapped, err := fn(rec)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = mapped
		}
		return out, nil
	}
	return nil, fmt.Errorf("expects an object or array of objects, got %T", v)
}

// fieldValue reads a field from a record. Plain keys hit the map
// directly; dotted or indexed paths go through gjson on the record's
// JSON form.
func fieldValue(rec any, path string) (any, bool) {
	if m, ok := rec.(map[string]any); ok {
		if v, found := m[path]; found {
			return v, true
		}
		if !strings.ContainsAny(path, ".[#") {
			return nil, false
		}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	if res.Type == gjson.Number {
		return tplengine.ConvertWithPrecision(res.Raw), true
	}
	return res.Value(), true
}

// cloneRecord shallow-copies a record so enrichment never mutates the
// caller's data.
func cloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return tplengine.Stringify(v)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// numericValue converts a decimal back to a plain number, keeping
// integers integral.
func numericValue(d decimal.Decimal) any {
	if d.IsInteger() {
		if i := d.IntPart(); decimal.NewFromInt(i).Equal(d) {
			return i
		}
	}
	return d.InexactFloat64()
}
