package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/pkg/config"
)

func TestEntryState(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{
		Value:    map[string]any{"v": int64(1)},
		StoredAt: base,
		TTL:      time.Minute,
		StaleTTL: 30 * time.Second,
	}

	t.Run("Should be fresh within the TTL", func(t *testing.T) {
		assert.Equal(t, Fresh, entry.State(base))
		assert.Equal(t, Fresh, entry.State(base.Add(time.Minute)))
	})
	t.Run("Should be stale inside the revalidate window", func(t *testing.T) {
		assert.Equal(t, Stale, entry.State(base.Add(time.Minute+time.Second)))
		assert.Equal(t, Stale, entry.State(base.Add(90*time.Second)))
	})
	t.Run("Should expire past the stale window", func(t *testing.T) {
		assert.Equal(t, Expired, entry.State(base.Add(91*time.Second)))
	})
	t.Run("Should report the combined lifetime", func(t *testing.T) {
		assert.Equal(t, 90*time.Second, entry.Lifetime())
	})
	t.Run("Should expire immediately without a stale window", func(t *testing.T) {
		bare := &Entry{StoredAt: base, TTL: time.Minute}
		assert.Equal(t, Fresh, bare.State(base.Add(time.Minute)))
		assert.Equal(t, Expired, bare.State(base.Add(time.Minute+time.Millisecond)))
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	newStore := func(t *testing.T) *MemoryStore {
		t.Helper()
		store, err := NewMemoryStore(1)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}
	entry := func(value map[string]any) *Entry {
		return &Entry{Value: value, StoredAt: time.Now(), TTL: time.Minute}
	}

	t.Run("Should read back a stored entry", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "k1", entry(map[string]any{"v": int64(7)})))
		got, ok, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(7), got.Value["v"])
	})
	t.Run("Should miss on unknown keys", func(t *testing.T) {
		store := newStore(t)
		_, ok, err := store.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should overwrite an existing key", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "k", entry(map[string]any{"n": int64(1)})))
		require.NoError(t, store.Set(ctx, "k", entry(map[string]any{"n": int64(2)})))
		got, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), got.Value["n"])
	})
	t.Run("Should delete entries", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "k", entry(map[string]any{"n": int64(1)})))
		require.NoError(t, store.Delete(ctx, "k"))
		_, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should keep cached failures", func(t *testing.T) {
		store := newStore(t)
		failed := &Entry{
			Error:    core.Errorf(core.ErrHTTP, "upstream said no"),
			StoredAt: time.Now(),
			TTL:      time.Minute,
		}
		require.NoError(t, store.Set(ctx, "err", failed))
		got, ok, err := store.Get(ctx, "err")
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, got.Error)
		assert.Equal(t, core.ErrHTTP, got.Error.Code)
	})
}

func TestNewStore(t *testing.T) {
	t.Run("Should build the memory driver from config", func(t *testing.T) {
		cfg := config.Default()
		store, err := NewStore(context.Background(), cfg)
		require.NoError(t, err)
		defer store.Close()
		_, ok := store.(*MemoryStore)
		assert.True(t, ok)
	})
	t.Run("Should reject unknown drivers", func(t *testing.T) {
		cfg := config.Default()
		cfg.Cache.Driver = "memcached"
		_, err := NewStore(context.Background(), cfg)
		assert.ErrorContains(t, err, "memcached")
	})
	t.Run("Should require a config", func(t *testing.T) {
		_, err := NewStore(context.Background(), nil)
		assert.Error(t, err)
	})
}
