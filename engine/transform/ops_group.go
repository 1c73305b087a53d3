package transform

import (
	"fmt"
	"sort"

	"github.com/dagrun/dagrun/engine/expr"
	"github.com/shopspring/decimal"
)

// aggregationSpec is one named reduction used by groupBy and aggregate.
type aggregationSpec struct {
	Op    string `mapstructure:"op"`
	Field string `mapstructure:"field"`
}

func (a *aggregationSpec) validate(name string) error {
	switch a.Op {
	case "count":
		return nil
	case "sum", "avg", "min", "max":
		if a.Field == "" {
			return fmt.Errorf("aggregation %q: field is required for %s", name, a.Op)
		}
		return nil
	}
	return fmt.Errorf("aggregation %q: unknown op %q", name, a.Op)
}

// compute reduces the records. Records without the field are skipped;
// non-numeric values fail sum and avg. An empty reduction yields null
// (count yields zero).
func (a *aggregationSpec) compute(recs []any) (any, error) {
	switch a.Op {
	case "count":
		if a.Field == "" {
			return int64(len(recs)), nil
		}
		n := int64(0)
		for _, r := range recs {
			if _, ok := fieldValue(r, a.Field); ok {
				n++
			}
		}
		return n, nil
	case "sum", "avg":
		sum := decimal.Zero
		n := int64(0)
		for i, r := range recs {
			v, ok := fieldValue(r, a.Field)
			if !ok {
				continue
			}
			d, ok := toDecimal(v)
			if !ok {
				return nil, fmt.Errorf("field %q in element %d is not numeric", a.Field, i)
			}
			sum = sum.Add(d)
			n++
		}
		if a.Op == "sum" {
			return numericValue(sum), nil
		}
		if n == 0 {
			return nil, nil
		}
		return numericValue(sum.Div(decimal.NewFromInt(n))), nil
	case "min", "max":
		op := "<"
		if a.Op == "max" {
			op = ">"
		}
		var best any
		found := false
		for _, r := range recs {
			v, ok := fieldValue(r, a.Field)
			if !ok {
				continue
			}
			if !found || expr.Compare(op, v, best) {
				best = v
				found = true
			}
		}
		if !found {
			return nil, nil
		}
		return best, nil
	}
	return nil, fmt.Errorf("unknown op %q", a.Op)
}

// ----- groupBy -----

type groupByOp struct {
	Key          string                     `mapstructure:"key"`
	Aggregations map[string]aggregationSpec `mapstructure:"aggregations"`
}

func (o *groupByOp) Name() string { return "groupBy" }

func (o *groupByOp) validate() error {
	if o.Key == "" {
		return fmt.Errorf("key is required")
	}
	if len(o.Aggregations) == 0 {
		return fmt.Errorf("aggregations is required")
	}
	for _, name := range sortedNames(o.Aggregations) {
		spec := o.Aggregations[name]
		if err := spec.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Apply emits one record per distinct key in first-seen order, carrying
// the key value and every named aggregation.
func (o *groupByOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	var order []string
	groups := map[string][]any{}
	keyValues := map[string]any{}
	for _, el := range arr {
		v, _ := fieldValue(el, o.Key)
		k := stringValue(v)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
			keyValues[k] = v
		}
		groups[k] = append(groups[k], el)
	}
	names := sortedNames(o.Aggregations)
	out := make([]any, 0, len(order))
	for _, k := range order {
		rec := map[string]any{keyName(o.Key): keyValues[k]}
		for _, name := range names {
			spec := o.Aggregations[name]
			v, err := spec.compute(groups[k])
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", k, err)
			}
			rec[name] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func sortedNames(aggs map[string]aggregationSpec) []string {
	names := make([]string, 0, len(aggs))
	for name := range aggs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ----- aggregate -----

type aggregateOp struct {
	Aggregations map[string]aggregationSpec `mapstructure:"aggregations"`
}

func (o *aggregateOp) Name() string { return "aggregate" }

func (o *aggregateOp) validate() error {
	if len(o.Aggregations) == 0 {
		return fmt.Errorf("aggregations is required")
	}
	for _, name := range sortedNames(o.Aggregations) {
		spec := o.Aggregations[name]
		if err := spec.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Apply reduces the whole stream to a single record.
func (o *aggregateOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(o.Aggregations))
	for _, name := range sortedNames(o.Aggregations) {
		spec := o.Aggregations[name]
		v, err := spec.compute(arr)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// ----- join -----

type joinOp struct {
	LeftKey   string `mapstructure:"leftKey"`
	RightKey  string `mapstructure:"rightKey"`
	RightData []any  `mapstructure:"rightData"`
	JoinType  string `mapstructure:"joinType"`
}

func (o *joinOp) Name() string { return "join" }

func (o *joinOp) validate() error {
	if o.LeftKey == "" || o.RightKey == "" {
		return fmt.Errorf("leftKey and rightKey are required")
	}
	switch o.JoinType {
	case "", "inner", "left", "right":
		return nil
	}
	return fmt.Errorf("joinType must be inner, left or right")
}

func (o *joinOp) joinType() string {
	if o.JoinType == "" {
		return "inner"
	}
	return o.JoinType
}

// Apply joins the stream with rightData on the key fields. Matched pairs
// merge with the right side winning on collisions; records missing their
// key field never match, like SQL null.
func (o *joinOp) Apply(data any) (any, error) {
	left, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if o.joinType() == "right" {
		return o.joinRight(left)
	}
	rightIdx, err := indexByKey(o.RightData, o.RightKey, "rightData")
	if err != nil {
		return nil, err
	}
	out := []any{}
	for i, el := range left {
		rec, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		matches := matchesFor(rec, o.LeftKey, rightIdx)
		for _, m := range matches {
			merged := cloneRecord(rec)
			for k, v := range m {
				merged[k] = v
			}
			out = append(out, merged)
		}
		if len(matches) == 0 && o.joinType() == "left" {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (o *joinOp) joinRight(left []any) (any, error) {
	leftIdx, err := indexByKey(left, o.LeftKey, "input")
	if err != nil {
		return nil, err
	}
	out := []any{}
	for i, el := range o.RightData {
		rec, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rightData element %d is not an object", i)
		}
		matches := matchesFor(rec, o.RightKey, leftIdx)
		for _, m := range matches {
			merged := cloneRecord(m)
			for k, v := range rec {
				merged[k] = v
			}
			out = append(out, merged)
		}
		if len(matches) == 0 {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func indexByKey(arr []any, key, side string) (map[string][]map[string]any, error) {
	idx := map[string][]map[string]any{}
	for i, el := range arr {
		rec, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s element %d is not an object", side, i)
		}
		v, found := fieldValue(rec, key)
		if !found {
			continue
		}
		k := stringValue(v)
		idx[k] = append(idx[k], rec)
	}
	return idx, nil
}

func matchesFor(rec map[string]any, key string, idx map[string][]map[string]any) []map[string]any {
	v, found := fieldValue(rec, key)
	if !found {
		return nil
	}
	return idx[stringValue(v)]
}
