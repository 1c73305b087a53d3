package transform

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// numericTransform applies fn to the targeted numbers, mirroring
// stringTransform's field handling.
func numericTransform(data any, field, opName string, fn func(decimal.Decimal) decimal.Decimal) (any, error) {
	apply := func(v any) (any, error) {
		d, ok := toDecimal(v)
		if !ok {
			return nil, fmt.Errorf("%s expects a numeric value, got %T", opName, v)
		}
		return numericValue(fn(d)), nil
	}
	if field != "" {
		return mapRecords(data, func(rec map[string]any) (any, error) {
			v, ok := fieldValue(rec, field)
			if !ok {
				return rec, nil
			}
			next, err := apply(v)
			if err != nil {
				return nil, err
			}
			out := cloneRecord(rec)
			out[keyName(field)] = next
			return out, nil
		})
	}
	if arr, ok := data.([]any); ok {
		out := make([]any, len(arr))
		for i, el := range arr {
			next, err := apply(el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = next
		}
		return out, nil
	}
	return apply(data)
}

// ----- round / floor / ceil / abs -----

type roundOp struct {
	Field     string `mapstructure:"field"`
	Precision int32  `mapstructure:"precision"`
}

func (o *roundOp) Name() string { return "round" }

func (o *roundOp) validate() error {
	if o.Precision < 0 {
		return fmt.Errorf("precision must not be negative")
	}
	return nil
}

func (o *roundOp) Apply(data any) (any, error) {
	return numericTransform(data, o.Field, "round", func(d decimal.Decimal) decimal.Decimal {
		return d.Round(o.Precision)
	})
}

type floorOp struct {
	Field string `mapstructure:"field"`
}

func (o *floorOp) Name() string { return "floor" }

func (o *floorOp) Apply(data any) (any, error) {
	return numericTransform(data, o.Field, "floor", func(d decimal.Decimal) decimal.Decimal {
		return d.Floor()
	})
}

type ceilOp struct {
	Field string `mapstructure:"field"`
}

func (o *ceilOp) Name() string { return "ceil" }

func (o *ceilOp) Apply(data any) (any, error) {
	return numericTransform(data, o.Field, "ceil", func(d decimal.Decimal) decimal.Decimal {
		return d.Ceil()
	})
}

type absOp struct {
	Field string `mapstructure:"field"`
}

func (o *absOp) Name() string { return "abs" }

func (o *absOp) Apply(data any) (any, error) {
	return numericTransform(data, o.Field, "abs", func(d decimal.Decimal) decimal.Decimal {
		return d.Abs()
	})
}

// ----- clamp -----

type clampOp struct {
	Field string   `mapstructure:"field"`
	Min   *float64 `mapstructure:"min"`
	Max   *float64 `mapstructure:"max"`
}

func (o *clampOp) Name() string { return "clamp" }

func (o *clampOp) validate() error {
	if o.Min == nil && o.Max == nil {
		return fmt.Errorf("min or max is required")
	}
	if o.Min != nil && o.Max != nil && *o.Min > *o.Max {
		return fmt.Errorf("min exceeds max")
	}
	return nil
}

func (o *clampOp) Apply(data any) (any, error) {
	return numericTransform(data, o.Field, "clamp", func(d decimal.Decimal) decimal.Decimal {
		if o.Min != nil {
			if lo := decimal.NewFromFloat(*o.Min); d.LessThan(lo) {
				return lo
			}
		}
		if o.Max != nil {
			if hi := decimal.NewFromFloat(*o.Max); d.GreaterThan(hi) {
				return hi
			}
		}
		return d
	})
}

// ----- scale -----

type scaleOp struct {
	Field  string   `mapstructure:"field"`
	Factor *float64 `mapstructure:"factor"`
}

func (o *scaleOp) Name() string { return "scale" }

func (o *scaleOp) validate() error {
	if o.Factor == nil {
		return fmt.Errorf("factor is required")
	}
	return nil
}

func (o *scaleOp) Apply(data any) (any, error) {
	factor := decimal.NewFromFloat(*o.Factor)
	return numericTransform(data, o.Field, "scale", func(d decimal.Decimal) decimal.Decimal {
		return d.Mul(factor)
	})
}

// ----- percentage -----

type percentageOp struct {
	Field string   `mapstructure:"field"`
	Total *float64 `mapstructure:"total"`
}

func (o *percentageOp) Name() string { return "percentage" }

func (o *percentageOp) validate() error {
	if o.Total == nil {
		return fmt.Errorf("total is required")
	}
	if *o.Total == 0 {
		return fmt.Errorf("total must not be zero")
	}
	return nil
}

// Apply expresses each value as a share of total, rounded to two decimal
// places.
func (o *percentageOp) Apply(data any) (any, error) {
	total := decimal.NewFromFloat(*o.Total)
	hundred := decimal.NewFromInt(100)
	return numericTransform(data, o.Field, "percentage", func(d decimal.Decimal) decimal.Decimal {
		return d.Div(total).Mul(hundred).Round(2)
	})
}
