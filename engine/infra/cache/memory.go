package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/dagrun/dagrun/engine/core"
)

const defaultMaxCostMB = 64

// MemoryStore is an in-process store backed by ristretto. Entry cost is the
// serialized value size so MaxCostMB bounds actual memory, not entry count.
type MemoryStore struct {
	cache *ristretto.Cache[string, *Entry]
}

func NewMemoryStore(maxCostMB int64) (*MemoryStore, error) {
	if maxCostMB <= 0 {
		maxCostMB = defaultMaxCostMB
	}
	maxCost := maxCostMB << 20
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		// Counters sized for ~10x the entry count at 1KiB average cost.
		NumCounters: maxCost / 1024 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: creating memory store: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	entry, ok := m.cache.Get(key)
	recordCacheOp(ctx, "memory", "get", ok)
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

// Set stores the entry and waits for the write buffer to drain so a
// following Get observes it. Task results are cached after network calls;
// the wait is noise next to them.
func (m *MemoryStore) Set(ctx context.Context, key string, entry *Entry) error {
	cost := int64(len(core.StableJSONBytes(entry.Value))) + 64
	m.cache.SetWithTTL(key, entry, cost, entry.Lifetime())
	m.cache.Wait()
	recordCacheOp(ctx, "memory", "set", true)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.cache.Del(key)
	recordCacheOp(ctx, "memory", "delete", true)
	return nil
}

func (m *MemoryStore) Close() error {
	m.cache.Close()
	return nil
}
