package workflow_test

import (
	"context"
	"testing"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderPipeline() *workflow.Config {
	return &workflow.Config{
		Name: "order-pipeline",
		Input: map[string]*workflow.InputParam{
			"orderId": {Type: "number", Required: true},
			"region":  {Type: "string", Default: "eu-west", Enum: []any{"eu-west", "us-east"}},
		},
		Tasks: []workflow.Step{
			{ID: "fetch", TaskRef: "fetch-order", Input: map[string]any{"id": "{{input.orderId}}"}},
			{ID: "enrich", TaskRef: "enrich-order", DependsOn: []string{"fetch"},
				Input: map[string]any{"order": "{{tasks.fetch.output}}"}},
		},
		Output: map[string]any{"total": "{{tasks.enrich.output.total}}"},
	}
}

func TestConfigValidate(t *testing.T) {
	ctx := context.Background()
	t.Run("Should accept a well formed workflow", func(t *testing.T) {
		require.NoError(t, orderPipeline().Validate(ctx))
	})
	t.Run("Should require a name", func(t *testing.T) {
		cfg := orderPipeline()
		cfg.Name = ""
		require.Error(t, cfg.Validate(ctx))
	})
	t.Run("Should default the namespace", func(t *testing.T) {
		assert.Equal(t, "default", orderPipeline().GetNamespace())
		cfg := orderPipeline()
		cfg.Namespace = "shop"
		assert.Equal(t, "shop", cfg.GetNamespace())
	})
	t.Run("Should surface step validation failures", func(t *testing.T) {
		cfg := orderPipeline()
		cfg.Tasks[0].TaskRef = ""
		err := cfg.Validate(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taskRef or workflowRef is required")
	})
}

func TestStepValidate(t *testing.T) {
	t.Run("Should reject both refs on one step", func(t *testing.T) {
		s := workflow.Step{ID: "x", TaskRef: "a", WorkflowRef: "b"}
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mutually exclusive")
	})
	t.Run("Should reject task policies on subflow steps", func(t *testing.T) {
		s := workflow.Step{
			ID:          "sub",
			WorkflowRef: "billing",
			ForEach:     &task.ForEachPolicy{Items: "{{input.orders}}"},
		}
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forEach does not apply")
	})
	t.Run("Should validate the workflow reference format", func(t *testing.T) {
		s := workflow.Step{ID: "sub", WorkflowRef: "a/b/c"}
		require.Error(t, s.Validate())
	})
	t.Run("Should validate nested policy blocks", func(t *testing.T) {
		s := workflow.Step{
			ID:      "x",
			TaskRef: "a",
			Retry:   &task.RetryPolicy{Multiplier: 0.1},
		}
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "multiplier")
	})
	t.Run("Should collect template sources for dependency harvesting", func(t *testing.T) {
		s := workflow.Step{
			ID:        "x",
			TaskRef:   "a",
			Input:     map[string]any{"v": "{{tasks.b.output.v}}"},
			Condition: "{{tasks.c.output.flag}} == true",
			Cache:     &task.CachePolicy{Key: "{{tasks.d.output.etag}}"},
		}
		sources := s.TemplateSources()
		assert.Len(t, sources, 4)
		assert.Contains(t, sources, "cache.key")
		assert.Contains(t, sources, "condition")
	})
}

func TestResolveInput(t *testing.T) {
	ctx := context.Background()
	t.Run("Should apply defaults and keep provided values", func(t *testing.T) {
		got, err := orderPipeline().ResolveInput(ctx, map[string]any{"orderId": 42})
		require.NoError(t, err)
		assert.Equal(t, 42, got.Prop("orderId"))
		assert.Equal(t, "eu-west", got.Prop("region"))
	})
	t.Run("Should fail on missing required params", func(t *testing.T) {
		_, err := orderPipeline().ResolveInput(ctx, map[string]any{})
		require.Error(t, err)
		coreErr, ok := core.AsError(err)
		require.True(t, ok)
		assert.Equal(t, core.ErrValidation, coreErr.Code)
	})
	t.Run("Should enforce declared types", func(t *testing.T) {
		_, err := orderPipeline().ResolveInput(ctx, map[string]any{"orderId": "not-a-number"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be of type number")
	})
	t.Run("Should enforce enum membership", func(t *testing.T) {
		_, err := orderPipeline().ResolveInput(ctx, map[string]any{"orderId": 1, "region": "mars"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an allowed value")
	})
	t.Run("Should not mutate the caller's map", func(t *testing.T) {
		provided := map[string]any{"orderId": 42}
		_, err := orderPipeline().ResolveInput(ctx, provided)
		require.NoError(t, err)
		_, hasDefault := provided["region"]
		assert.False(t, hasDefault)
	})
}
