package transform_test

import (
	"testing"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, ops ...map[string]any) *transform.Pipeline {
	t.Helper()
	p, err := transform.Compile(ops)
	require.NoError(t, err)
	return p
}

func apply(t *testing.T, data any, ops ...map[string]any) any {
	t.Helper()
	out, err := compile(t, ops...).Apply(data)
	require.NoError(t, err)
	return out
}

func orders() []any {
	return []any{
		map[string]any{"id": "o3", "region": "eu", "amount": int64(250), "status": "paid"},
		map[string]any{"id": "o1", "region": "us", "amount": int64(100), "status": "paid"},
		map[string]any{"id": "o2", "region": "eu", "amount": int64(40), "status": "pending"},
	}
}

func TestCompile(t *testing.T) {
	t.Run("Should reject unknown operations", func(t *testing.T) {
		_, err := transform.Compile([]map[string]any{{"operation": "explode"}})
		require.Error(t, err)
		coreErr, ok := core.AsError(err)
		require.True(t, ok)
		assert.Equal(t, core.ErrConfiguration, coreErr.Code)
		assert.Contains(t, coreErr.Message, "explode")
	})
	t.Run("Should reject a stage without an operation name", func(t *testing.T) {
		_, err := transform.Compile([]map[string]any{{"fields": []any{"a"}}})
		require.Error(t, err)
		coreErr, _ := core.AsError(err)
		assert.Equal(t, core.ErrConfiguration, coreErr.Code)
	})
	t.Run("Should reject parameters the operation does not declare", func(t *testing.T) {
		_, err := transform.Compile([]map[string]any{
			{"operation": "limit", "count": 3, "cuont": 5},
		})
		require.Error(t, err)
		coreErr, _ := core.AsError(err)
		assert.Equal(t, core.ErrConfiguration, coreErr.Code)
	})
	t.Run("Should reject invalid parameter values at compile time", func(t *testing.T) {
		for _, spec := range []map[string]any{
			{"operation": "filter", "field": "a", "operator": "matches"},
			{"operation": "select"},
			{"operation": "chunk", "size": 0},
			{"operation": "sortBy", "field": "a", "order": "sideways"},
			{"operation": "template", "template": "{{ .name"},
			{"operation": "percentage", "total": 0},
		} {
			_, err := transform.Compile([]map[string]any{spec})
			require.Error(t, err, "spec %v", spec)
			coreErr, _ := core.AsError(err)
			assert.Equal(t, core.ErrConfiguration, coreErr.Code, "spec %v", spec)
		}
	})
	t.Run("Should classify apply failures as validation errors", func(t *testing.T) {
		p := compile(t, map[string]any{"operation": "filter", "field": "a", "operator": "=="})
		_, err := p.Apply("not an array")
		require.Error(t, err)
		coreErr, ok := core.AsError(err)
		require.True(t, ok)
		assert.Equal(t, core.ErrValidation, coreErr.Code)
	})
}

func TestPipelineChaining(t *testing.T) {
	t.Run("Should run stages left to right", func(t *testing.T) {
		out := apply(t, orders(),
			map[string]any{"operation": "filter", "field": "status", "operator": "==", "value": "paid"},
			map[string]any{"operation": "sortBy", "field": "amount", "order": "desc"},
			map[string]any{"operation": "select", "fields": []any{"id", "amount"}},
			map[string]any{"operation": "limit", "count": 1},
		)
		assert.Equal(t, []any{map[string]any{"id": "o3", "amount": int64(250)}}, out)
	})
}

func TestStreamOps(t *testing.T) {
	t.Run("Should project nested paths under their last segment", func(t *testing.T) {
		data := []any{map[string]any{"user": map[string]any{"name": "ada"}, "n": int64(1)}}
		out := apply(t, data, map[string]any{"operation": "select", "fields": []any{"user.name", "n"}})
		assert.Equal(t, []any{map[string]any{"name": "ada", "n": int64(1)}}, out)
	})
	t.Run("Should filter with every operator family", func(t *testing.T) {
		data := []any{
			map[string]any{"name": "alpha", "n": int64(1), "tags": []any{"a", "b"}},
			map[string]any{"name": "beta", "n": int64(5)},
		}
		cases := []struct {
			spec map[string]any
			want int
		}{
			{map[string]any{"operation": "filter", "field": "n", "operator": ">", "value": 2}, 1},
			{map[string]any{"operation": "filter", "field": "n", "operator": "<=", "value": 1}, 1},
			{map[string]any{"operation": "filter", "field": "name", "operator": "contains", "value": "lph"}, 1},
			{map[string]any{"operation": "filter", "field": "tags", "operator": "contains", "value": "b"}, 1},
			{map[string]any{"operation": "filter", "field": "name", "operator": "startsWith", "value": "be"}, 1},
			{map[string]any{"operation": "filter", "field": "name", "operator": "endsWith", "value": "ta"}, 1},
			{map[string]any{"operation": "filter", "field": "name", "operator": "in", "value": []any{"alpha", "gamma"}}, 1},
			{map[string]any{"operation": "filter", "field": "tags", "operator": "!=", "value": nil}, 1},
		}
		for _, tc := range cases {
			out := apply(t, data, tc.spec)
			assert.Len(t, out, tc.want, "spec %v", tc.spec)
		}
	})
	t.Run("Should rename fields through map", func(t *testing.T) {
		data := []any{map[string]any{"user": map[string]any{"id": int64(9)}, "v": int64(3)}}
		out := apply(t, data, map[string]any{
			"operation": "map",
			"mapping":   map[string]any{"userId": "user.id", "value": "v"},
		})
		assert.Equal(t, []any{map[string]any{"userId": int64(9), "value": int64(3)}}, out)
	})
	t.Run("Should flatten nested arrays by path", func(t *testing.T) {
		data := []any{
			map[string]any{"items": []any{int64(1), int64(2)}},
			map[string]any{"other": true},
			map[string]any{"items": []any{int64(3)}},
		}
		out := apply(t, data, map[string]any{"operation": "flatMap", "path": "items"})
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out)
	})
	t.Run("Should sort numerically and lexicographically", func(t *testing.T) {
		data := []any{
			map[string]any{"n": int64(10), "s": "b"},
			map[string]any{"n": int64(9), "s": "a"},
		}
		byN := apply(t, data, map[string]any{"operation": "sortBy", "field": "n"})
		assert.Equal(t, int64(9), byN.([]any)[0].(map[string]any)["n"])
		byS := apply(t, data, map[string]any{"operation": "sortBy", "field": "s", "order": "desc"})
		assert.Equal(t, "b", byS.([]any)[0].(map[string]any)["s"])
	})
	t.Run("Should enrich with literals and record paths", func(t *testing.T) {
		data := []any{map[string]any{"user": map[string]any{"city": "Lyon"}}}
		out := apply(t, data, map[string]any{
			"operation": "enrich",
			"fields":    map[string]any{"source": "crm", "city": "$.user.city"},
		})
		rec := out.([]any)[0].(map[string]any)
		assert.Equal(t, "crm", rec["source"])
		assert.Equal(t, "Lyon", rec["city"])
	})
	t.Run("Should slice with limit skip first last nth", func(t *testing.T) {
		data := []any{"a", "b", "c", "d"}
		assert.Equal(t, []any{"a", "b"}, apply(t, data, map[string]any{"operation": "limit", "count": 2}))
		assert.Equal(t, []any{"c", "d"}, apply(t, data, map[string]any{"operation": "skip", "count": 2}))
		assert.Equal(t, "a", apply(t, data, map[string]any{"operation": "first"}))
		assert.Equal(t, "d", apply(t, data, map[string]any{"operation": "last"}))
		assert.Equal(t, "c", apply(t, data, map[string]any{"operation": "nth", "index": 2}))
	})
	t.Run("Should fail first and out of range nth on bad shapes", func(t *testing.T) {
		p := compile(t, map[string]any{"operation": "first"})
		_, err := p.Apply([]any{})
		require.Error(t, err)
		p = compile(t, map[string]any{"operation": "nth", "index": 9})
		_, err = p.Apply([]any{"a"})
		require.Error(t, err)
	})
	t.Run("Should reverse unique flatten chunk and zip", func(t *testing.T) {
		assert.Equal(t, []any{"c", "b", "a"},
			apply(t, []any{"a", "b", "c"}, map[string]any{"operation": "reverse"}))
		assert.Equal(t, []any{"a", "b"},
			apply(t, []any{"a", "b", "a"}, map[string]any{"operation": "unique"}))

		byField := apply(t, []any{
			map[string]any{"k": "x", "v": int64(1)},
			map[string]any{"k": "x", "v": int64(2)},
		}, map[string]any{"operation": "unique", "field": "k"})
		assert.Len(t, byField, 1)
		assert.Equal(t, int64(1), byField.([]any)[0].(map[string]any)["v"])

		nested := []any{[]any{int64(1), []any{int64(2)}}, int64(3)}
		assert.Equal(t, []any{int64(1), []any{int64(2)}, int64(3)},
			apply(t, nested, map[string]any{"operation": "flatten"}))
		assert.Equal(t, []any{int64(1), int64(2), int64(3)},
			apply(t, nested, map[string]any{"operation": "flatten", "depth": -1}))

		assert.Equal(t, []any{[]any{"a", "b"}, []any{"c"}},
			apply(t, []any{"a", "b", "c"}, map[string]any{"operation": "chunk", "size": 2}))

		zipped := apply(t, []any{map[string]any{"a": int64(1)}},
			map[string]any{"operation": "zip", "with": []any{map[string]any{"b": int64(2)}}})
		assert.Equal(t, []any{map[string]any{"a": int64(1), "b": int64(2)}}, zipped)

		paired := apply(t, []any{"x"},
			map[string]any{"operation": "zip", "with": []any{int64(7)}})
		assert.Equal(t, []any{map[string]any{"left": "x", "right": int64(7)}}, paired)
	})
}

func TestGroupOps(t *testing.T) {
	t.Run("Should group with named aggregations in first-seen order", func(t *testing.T) {
		out := apply(t, orders(), map[string]any{
			"operation": "groupBy",
			"key":       "region",
			"aggregations": map[string]any{
				"total": map[string]any{"op": "sum", "field": "amount"},
				"count": map[string]any{"op": "count"},
				"top":   map[string]any{"op": "max", "field": "amount"},
			},
		})
		require.Len(t, out, 2)
		eu := out.([]any)[0].(map[string]any)
		assert.Equal(t, "eu", eu["region"])
		assert.Equal(t, int64(290), eu["total"])
		assert.Equal(t, int64(2), eu["count"])
		assert.Equal(t, int64(250), eu["top"])
		us := out.([]any)[1].(map[string]any)
		assert.Equal(t, "us", us["region"])
	})
	t.Run("Should aggregate the whole stream into one record", func(t *testing.T) {
		out := apply(t, orders(), map[string]any{
			"operation": "aggregate",
			"aggregations": map[string]any{
				"avg":   map[string]any{"op": "avg", "field": "amount"},
				"least": map[string]any{"op": "min", "field": "amount"},
			},
		})
		rec := out.(map[string]any)
		assert.Equal(t, int64(130), rec["avg"])
		assert.Equal(t, int64(40), rec["least"])
	})
	t.Run("Should join inner left and right", func(t *testing.T) {
		left := []any{
			map[string]any{"id": "a", "v": int64(1)},
			map[string]any{"id": "b", "v": int64(2)},
		}
		right := []any{
			map[string]any{"ref": "a", "extra": "x"},
			map[string]any{"ref": "c", "extra": "y"},
		}
		inner := apply(t, left, map[string]any{
			"operation": "join", "leftKey": "id", "rightKey": "ref", "rightData": right,
		})
		require.Len(t, inner, 1)
		assert.Equal(t, map[string]any{"id": "a", "v": int64(1), "ref": "a", "extra": "x"},
			inner.([]any)[0])

		leftJoin := apply(t, left, map[string]any{
			"operation": "join", "leftKey": "id", "rightKey": "ref",
			"rightData": right, "joinType": "left",
		})
		require.Len(t, leftJoin, 2)
		assert.Equal(t, int64(2), leftJoin.([]any)[1].(map[string]any)["v"])

		rightJoin := apply(t, left, map[string]any{
			"operation": "join", "leftKey": "id", "rightKey": "ref",
			"rightData": right, "joinType": "right",
		})
		require.Len(t, rightJoin, 2)
		assert.Equal(t, "y", rightJoin.([]any)[1].(map[string]any)["extra"])
	})
}

func TestStringOps(t *testing.T) {
	t.Run("Should transform bare strings and string arrays", func(t *testing.T) {
		assert.Equal(t, "HI", apply(t, "hi", map[string]any{"operation": "uppercase"}))
		assert.Equal(t, []any{"a", "b"},
			apply(t, []any{"A", "B"}, map[string]any{"operation": "lowercase"}))
		assert.Equal(t, "x", apply(t, "  x  ", map[string]any{"operation": "trim"}))
		assert.Equal(t, "x", apply(t, "--x--", map[string]any{"operation": "trim", "cutset": "-"}))
	})
	t.Run("Should transform a record field in place", func(t *testing.T) {
		data := []any{map[string]any{"name": "ada", "keep": int64(1)}}
		out := apply(t, data, map[string]any{"operation": "uppercase", "field": "name"})
		assert.Equal(t, []any{map[string]any{"name": "ADA", "keep": int64(1)}}, out)
	})
	t.Run("Should split concat replace and substring", func(t *testing.T) {
		assert.Equal(t, []any{"a", "b"},
			apply(t, "a,b", map[string]any{"operation": "split", "separator": ","}))

		joined := apply(t, []any{map[string]any{"first": "Ada", "last": "Lovelace"}},
			map[string]any{"operation": "concat", "fields": []any{"first", "last"}, "separator": " ", "as": "full"})
		assert.Equal(t, "Ada Lovelace", joined.([]any)[0].(map[string]any)["full"])

		assert.Equal(t, "b-b", apply(t, "a-a",
			map[string]any{"operation": "replace", "old": "a", "new": "b"}))
		assert.Equal(t, "ba", apply(t, "aa",
			map[string]any{"operation": "replace", "old": "a", "new": "b", "count": 1}))

		assert.Equal(t, "éè", apply(t, "àéèü",
			map[string]any{"operation": "substring", "start": 1, "end": 3}))
	})
	t.Run("Should render templates with sprig functions", func(t *testing.T) {
		data := []any{map[string]any{"name": "ada"}}
		tagged := apply(t, data, map[string]any{
			"operation": "template",
			"template":  "{{ .name | upper }}!",
			"as":        "greeting",
		})
		assert.Equal(t, "ADA!", tagged.([]any)[0].(map[string]any)["greeting"])

		replaced := apply(t, data, map[string]any{
			"operation": "template",
			"template":  "{{ .name }}",
		})
		assert.Equal(t, []any{"ada"}, replaced)
	})
}

func TestMathOps(t *testing.T) {
	t.Run("Should apply numeric transforms keeping integers integral", func(t *testing.T) {
		assert.Equal(t, 3.14, apply(t, 3.14159,
			map[string]any{"operation": "round", "precision": 2}))
		assert.Equal(t, int64(3), apply(t, 3.7, map[string]any{"operation": "floor"}))
		assert.Equal(t, int64(4), apply(t, 3.2, map[string]any{"operation": "ceil"}))
		assert.Equal(t, int64(5), apply(t, int64(-5), map[string]any{"operation": "abs"}))
		assert.Equal(t, []any{int64(2), int64(5), int64(8)}, apply(t,
			[]any{int64(1), int64(5), int64(9)},
			map[string]any{"operation": "clamp", "min": 2, "max": 8}))
		assert.Equal(t, int64(30), apply(t, int64(3),
			map[string]any{"operation": "scale", "factor": 10}))
		assert.Equal(t, int64(25), apply(t, int64(50),
			map[string]any{"operation": "percentage", "total": 200}))
	})
	t.Run("Should transform a numeric record field", func(t *testing.T) {
		data := []any{map[string]any{"price": 19.999}}
		out := apply(t, data, map[string]any{"operation": "round", "field": "price", "precision": 2})
		assert.Equal(t, []any{map[string]any{"price": int64(20)}}, out)
	})
	t.Run("Should reject non-numeric values", func(t *testing.T) {
		p := compile(t, map[string]any{"operation": "abs"})
		_, err := p.Apply([]any{"NaNish"})
		require.Error(t, err)
	})
}

func TestRandomOps(t *testing.T) {
	data := []any{"a", "b", "c", "d", "e"}

	t.Run("Should replay identically under a fixed seed", func(t *testing.T) {
		spec := map[string]any{"operation": "shuffle", "seed": 42}
		first := apply(t, data, spec)
		second := apply(t, data, spec)
		assert.Equal(t, first, second)
		assert.ElementsMatch(t, data, first.([]any))
	})
	t.Run("Should sample without replacement", func(t *testing.T) {
		out := apply(t, data, map[string]any{"operation": "randomN", "count": 3, "seed": 7})
		require.Len(t, out, 3)
		seen := map[any]bool{}
		for _, el := range out.([]any) {
			assert.False(t, seen[el])
			seen[el] = true
			assert.Contains(t, data, el)
		}
	})
	t.Run("Should pick one element deterministically per seed", func(t *testing.T) {
		first := apply(t, data, map[string]any{"operation": "randomOne", "seed": 11})
		second := apply(t, data, map[string]any{"operation": "randomOne", "seed": 11})
		assert.Equal(t, first, second)
		assert.Contains(t, data, first)
	})
}
