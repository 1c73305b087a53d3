package tplengine_test

import (
	"testing"

	"github.com/dagrun/dagrun/pkg/tplengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *tplengine.Context {
	return tplengine.NewContext().
		WithInput(map[string]any{
			"userId": int64(42),
			"region": "eu-west",
			"nested": map[string]any{"flag": true},
			"list":   []any{"a", "b", "c"},
		}).
		WithTask("fetch-user", tplengine.TaskView{
			State: tplengine.TaskCompleted,
			Output: map[string]any{
				"name":  "Ada",
				"score": 99.5,
				"tags":  []any{int64(1), int64(2)},
			},
		}).
		WithTask("optional-step", tplengine.TaskView{
			State:  tplengine.TaskSkipped,
			Output: map[string]any{},
		}).
		WithTask("still-running", tplengine.TaskView{State: tplengine.TaskPending})
}

func TestResolve(t *testing.T) {
	engine := tplengine.NewEngine()
	t.Run("Should pass through strings without templates", func(t *testing.T) {
		got, err := engine.Resolve("plain text", testContext())
		require.NoError(t, err)
		assert.Equal(t, "plain text", got)
	})
	t.Run("Should keep the type of a single expression", func(t *testing.T) {
		got, err := engine.Resolve("{{input.userId}}", testContext())
		require.NoError(t, err)
		assert.Equal(t, int64(42), got)

		got, err = engine.Resolve("{{input.nested}}", testContext())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"flag": true}, got)

		got, err = engine.Resolve(" {{ input.nested.flag }} ", testContext())
		require.NoError(t, err)
		assert.Equal(t, true, got)
	})
	t.Run("Should interpolate mixed text with stringified values", func(t *testing.T) {
		got, err := engine.Resolve("user {{input.userId}} in {{input.region}}", testContext())
		require.NoError(t, err)
		assert.Equal(t, "user 42 in eu-west", got)
	})
	t.Run("Should index arrays", func(t *testing.T) {
		got, err := engine.Resolve("{{input.list[1]}}", testContext())
		require.NoError(t, err)
		assert.Equal(t, "b", got)

		got, err = engine.Resolve("{{tasks.fetch-user.output.tags[0]}}", testContext())
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})
	t.Run("Should resolve completed task output", func(t *testing.T) {
		got, err := engine.Resolve("{{tasks.fetch-user.output.name}}", testContext())
		require.NoError(t, err)
		assert.Equal(t, "Ada", got)
	})
}

func TestResolveErrors(t *testing.T) {
	engine := tplengine.NewEngine()
	requireKind := func(t *testing.T, err error, kind tplengine.Kind) {
		t.Helper()
		require.Error(t, err)
		terr, ok := err.(*tplengine.Error)
		require.True(t, ok, "expected template error, got %T: %v", err, err)
		assert.Equal(t, kind, terr.Kind)
	}
	t.Run("Should report invalid template syntax", func(t *testing.T) {
		for _, tmpl := range []string{"{{", "{{}}", "{{a..b}}", "{{a[x]}}", "{{1abc}}", "closing }} only", "{{a {{b}} }}"} {
			_, err := engine.Resolve(tmpl, testContext())
			requireKind(t, err, tplengine.KindInvalidTemplate)
		}
	})
	t.Run("Should report missing fields", func(t *testing.T) {
		_, err := engine.Resolve("{{input.unknown}}", testContext())
		requireKind(t, err, tplengine.KindMissingField)

		_, err = engine.Resolve("{{mystery.path}}", testContext())
		requireKind(t, err, tplengine.KindMissingField)

		_, err = engine.Resolve("{{tasks.no-such-task.output.x}}", testContext())
		requireKind(t, err, tplengine.KindMissingField)

		_, err = engine.Resolve("{{input.list[9]}}", testContext())
		requireKind(t, err, tplengine.KindMissingField)
	})
	t.Run("Should report reads of unfinished tasks", func(t *testing.T) {
		_, err := engine.Resolve("{{tasks.still-running.output.x}}", testContext())
		requireKind(t, err, tplengine.KindTaskNotCompleted)
	})
	t.Run("Should fail reads from skipped task outputs as missing fields", func(t *testing.T) {
		_, err := engine.Resolve("{{tasks.optional-step.output.anything}}", testContext())
		requireKind(t, err, tplengine.KindMissingField)
	})
	t.Run("Should report type errors", func(t *testing.T) {
		_, err := engine.Resolve("{{input.region.deeper}}", testContext())
		requireKind(t, err, tplengine.KindTypeError)

		_, err = engine.Resolve("{{input.nested[0]}}", testContext())
		requireKind(t, err, tplengine.KindTypeError)
	})
}

func TestResolveMapping(t *testing.T) {
	engine := tplengine.NewEngine()
	t.Run("Should resolve nested mappings", func(t *testing.T) {
		mapping := map[string]any{
			"url": "https://api/{{input.region}}/users/{{input.userId}}",
			"meta": map[string]any{
				"name": "{{tasks.fetch-user.output.name}}",
			},
			"static": 7,
			"items":  []any{"{{input.list[0]}}", "literal"},
		}
		got, err := engine.ResolveMapping(mapping, testContext())
		require.NoError(t, err)
		assert.Equal(t, "https://api/eu-west/users/42", got["url"])
		assert.Equal(t, map[string]any{"name": "Ada"}, got["meta"])
		assert.Equal(t, 7, got["static"])
		assert.Equal(t, []any{"a", "literal"}, got["items"])
	})
	t.Run("Should aggregate every failure with its path", func(t *testing.T) {
		mapping := map[string]any{
			"a": "{{input.gone}}",
			"b": map[string]any{"c": "{{tasks.still-running.output.x}}"},
			"d": []any{"{{mystery.root}}"},
		}
		_, err := engine.ResolveMapping(mapping, testContext())
		require.Error(t, err)
		merr, ok := err.(*tplengine.MappingError)
		require.True(t, ok)
		require.Len(t, merr.Fields, 3)
		assert.Equal(t, "a", merr.Fields[0].Path)
		assert.Equal(t, "b.c", merr.Fields[1].Path)
		assert.Equal(t, "d[0]", merr.Fields[2].Path)
		assert.Equal(t, tplengine.KindTaskNotCompleted, merr.Fields[1].Err.Kind)
	})
}

func TestIterationScope(t *testing.T) {
	engine := tplengine.NewEngine()
	t.Run("Should bind item and index under default names", func(t *testing.T) {
		ctx := testContext().Clone().WithIteration("", map[string]any{"sku": "X1"}, "", 3)
		got, err := engine.Resolve("{{item.sku}}-{{index}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, "X1-3", got)

		got, err = engine.Resolve("{{forEach.index}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, got)
	})
	t.Run("Should bind custom variable names", func(t *testing.T) {
		ctx := testContext().Clone().WithIteration("order", map[string]any{"id": int64(9)}, "pos", 0)
		got, err := engine.Resolve("{{order.id}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(9), got)
		got, err = engine.Resolve("{{pos}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, got)
	})
}

func TestExtractTaskRefs(t *testing.T) {
	t.Run("Should collect referenced task ids sorted and unique", func(t *testing.T) {
		refs := tplengine.ExtractTaskRefsDeep(map[string]any{
			"a": "{{tasks.zeta.output.x}} and {{tasks.alpha.output.y}}",
			"b": []any{"{{tasks.alpha.output.z}}", "{{input.notask}}"},
		})
		assert.Equal(t, []string{"alpha", "zeta"}, refs)
	})
	t.Run("Should ignore malformed templates", func(t *testing.T) {
		assert.Nil(t, tplengine.ExtractTaskRefs("{{tasks.broken"))
	})
}

func TestStringify(t *testing.T) {
	t.Run("Should render canonical scalar forms", func(t *testing.T) {
		assert.Equal(t, "7", tplengine.Stringify(int64(7)))
		assert.Equal(t, "7", tplengine.Stringify(7.0))
		assert.Equal(t, "7.25", tplengine.Stringify(7.25))
		assert.Equal(t, "true", tplengine.Stringify(true))
		assert.Equal(t, "null", tplengine.Stringify(nil))
		assert.Equal(t, "hi", tplengine.Stringify("hi"))
	})
	t.Run("Should render objects as deterministic JSON", func(t *testing.T) {
		assert.Equal(t, `{"a":1,"b":2}`, tplengine.Stringify(map[string]any{"b": 2, "a": 1}))
	})
}
