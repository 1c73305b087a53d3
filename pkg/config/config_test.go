package config_test

import (
	"testing"
	"time"

	"github.com/dagrun/dagrun/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Run("Should provide validating defaults", func(t *testing.T) {
		cfg := config.Default()
		require.NoError(t, config.NewService().Validate(cfg))
		assert.Equal(t, 30*time.Second, cfg.HTTP.DefaultTimeout)
		assert.Equal(t, 5, cfg.Runtime.MaxSubflowDepth)
		assert.Equal(t, 100*time.Millisecond, cfg.Resilience.Retry.InitialDelay)
		assert.Equal(t, 30*time.Second, cfg.Resilience.Retry.MaxDelay)
		assert.Equal(t, 2.0, cfg.Resilience.Retry.Multiplier)
		assert.Equal(t, 3, cfg.Resilience.Retry.MaxRetryCount)
		assert.Equal(t, 5, cfg.Resilience.CircuitBreaker.FailureThreshold)
		assert.Equal(t, 60*time.Second, cfg.Resilience.CircuitBreaker.SamplingDuration)
		assert.Equal(t, 30*time.Second, cfg.Resilience.CircuitBreaker.BreakDuration)
		assert.Equal(t, 3, cfg.Resilience.CircuitBreaker.HalfOpenRequests)
		assert.Equal(t, "memory", cfg.Cache.Driver)
		assert.Equal(t, []string{"GET"}, cfg.Cache.CacheableMethods)
	})
}

func TestLoad(t *testing.T) {
	t.Run("Should apply environment overrides", func(t *testing.T) {
		t.Setenv("DAGRUN_HTTP_DEFAULT_TIMEOUT", "45s")
		t.Setenv("DAGRUN_CACHE_DRIVER", "redis")
		t.Setenv("DAGRUN_RUNTIME_MAX_SUBFLOW_DEPTH", "8")
		t.Setenv("DAGRUN_RESILIENCE_RETRY_MAX_RETRY_COUNT", "7")
		cfg, err := config.NewService().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 45*time.Second, cfg.HTTP.DefaultTimeout)
		assert.Equal(t, "redis", cfg.Cache.Driver)
		assert.Equal(t, 8, cfg.Runtime.MaxSubflowDepth)
		assert.Equal(t, 7, cfg.Resilience.Retry.MaxRetryCount)
	})
	t.Run("Should reject invalid environment values", func(t *testing.T) {
		t.Setenv("DAGRUN_CACHE_DRIVER", "tape")
		_, err := config.NewService().Load(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})
}

func TestManager(t *testing.T) {
	t.Run("Should swap configuration atomically and notify", func(t *testing.T) {
		m := config.NewManager(config.NewService())
		var seen int
		m.OnChange(func(*config.Config) { seen++ })
		_, err := m.Load(t.Context())
		require.NoError(t, err)
		require.NotNil(t, m.Get())
		assert.Equal(t, 1, seen)
	})
	t.Run("Should expose config through context", func(t *testing.T) {
		m := config.NewManager(config.NewService())
		_, err := m.Load(t.Context())
		require.NoError(t, err)
		ctx := config.ContextWithManager(t.Context(), m)
		got := config.FromContext(ctx)
		require.NotNil(t, got)
		assert.Equal(t, m.Get(), got)
	})
}
