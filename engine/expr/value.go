package expr

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dagrun/dagrun/pkg/tplengine"
	"github.com/shopspring/decimal"
)

// Truthy reports whether a resolved value counts as true in condition and
// cache-bypass contexts. Null, false, zero numbers, empty strings, the
// strings "false" and "0", and empty collections are false; everything
// else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(t)
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	if n, ok := asNumber(v); ok {
		return !n.IsZero()
	}
	return true
}

// asNumber converts an operand to a decimal when it is a number or a string
// that parses as one. Booleans and null are never numbers.
func asNumber(v any) (decimal.Decimal, bool) {
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
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// Compare applies one comparison operator with the condition semantics:
// numeric when both operands parse as numbers, string order otherwise,
// null equal only to null. Transform filters and sorts share these rules.
func Compare(op string, l, r any) bool {
	return compare(op, l, r)
}

// equals applies the equality rules: null equals only null, numeric when
// both operands parse as numbers, string compare otherwise.
func equals(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if ln, ok := asNumber(l); ok {
		if rn, ok := asNumber(r); ok {
			return ln.Cmp(rn) == 0
		}
	}
	return tplengine.Stringify(l) == tplengine.Stringify(r)
}

// compare applies a relational or equality operator. Relational compares
// are numeric when both operands parse as numbers and fall back to UTF-8
// code-point order on the stringified values otherwise.
func compare(op string, l, r any) bool {
	switch op {
	case "==":
		return equals(l, r)
	case "!=":
		return !equals(l, r)
	}
	var c int
	if ln, lok := asNumber(l); lok {
		if rn, rok := asNumber(r); rok {
			c = ln.Cmp(rn)
			return ordered(op, c)
		}
	}
	c = strings.Compare(tplengine.Stringify(l), tplengine.Stringify(r))
	return ordered(op, c)
}

func ordered(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

// operandRepr renders a resolved value back into expression syntax for the
// substituted diagnostic form.
func operandRepr(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case string:
		return strconv.Quote(t)
	}
	return tplengine.Stringify(v)
}
