package tplengine

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// maxSafeInteger mirrors the largest integer interoperable with JSON
// consumers that read numbers as IEEE doubles (2^53 - 1).
const maxSafeInteger = 9007199254740991

// ConvertWithPrecision converts a numeric string or json.Number to the
// narrowest type that does not lose precision: int64 for safe integers,
// float64 for representable decimals, otherwise the original string.
func ConvertWithPrecision(value any) any {
	switch v := value.(type) {
	case string:
		return convertNumericString(v)
	case json.Number:
		return convertNumericString(string(v))
	default:
		return v
	}
}

func convertNumericString(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return s
	}
	if dec.IsInteger() {
		bigInt := dec.BigInt()
		if bigInt.IsInt64() {
			i64 := bigInt.Int64()
			if i64 >= -maxSafeInteger && i64 <= maxSafeInteger {
				return i64
			}
		}
		// too large for a safe integer, keep the exact digits
		return s
	}
	f64, _ := dec.Float64()
	if !dec.Equal(decimal.NewFromFloat(f64)) {
		return s
	}
	if significantDigits(trimmed) > 15 {
		return s
	}
	return f64
}

func significantDigits(s string) int {
	if idx := strings.IndexAny(s, "eE"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimLeft(s, "+-")
	s = strings.TrimLeft(s, "0")
	if s == "" || s == "." {
		return 1
	}
	count := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			count++
		}
	}
	return count
}

// ParseJSONWithPrecision decodes JSON keeping integers as int64 where safe,
// instead of collapsing every number to float64.
func ParseJSONWithPrecision(jsonStr string) (any, error) {
	decoder := json.NewDecoder(strings.NewReader(jsonStr))
	decoder.UseNumber()
	var result any
	if err := decoder.Decode(&result); err != nil {
		return nil, err
	}
	return normalizeNumbers(result), nil
}

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		return ConvertWithPrecision(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = normalizeNumbers(vv)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = normalizeNumbers(vv)
		}
		return out
	default:
		return v
	}
}
