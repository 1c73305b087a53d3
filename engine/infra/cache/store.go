// Package cache provides the task result stores behind the resilience
// layer's caching wrapper: an in-process ristretto store and a Redis store
// sharing one entry format. Stores persist entries verbatim; freshness is
// interpreted by the caller against its own clock so fake clocks work in
// tests.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/pkg/config"
)

// Freshness is the lifecycle stage of a cached entry at a point in time.
type Freshness int

const (
	// Fresh entries are served without touching the upstream.
	Fresh Freshness = iota
	// Stale entries are still served but trigger a background refresh.
	Stale
	// Expired entries are treated as misses.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Entry is one cached task result. Value holds the output map of a
// successful run; Error is set instead when a failure was cached.
type Entry struct {
	Value    map[string]any `json:"value,omitempty"`
	Error    *core.Error    `json:"error,omitempty"`
	StoredAt time.Time      `json:"storedAt"`
	TTL      time.Duration  `json:"ttl"`
	StaleTTL time.Duration  `json:"staleTTL"`
}

// State classifies the entry against now: fresh within TTL, stale within
// the stale-while-revalidate window after it, expired past both.
func (e *Entry) State(now time.Time) Freshness {
	age := now.Sub(e.StoredAt)
	switch {
	case age <= e.TTL:
		return Fresh
	case age <= e.TTL+e.StaleTTL:
		return Stale
	default:
		return Expired
	}
}

// Lifetime is the physical retention window covering both fresh and stale
// phases.
func (e *Entry) Lifetime() time.Duration {
	return e.TTL + e.StaleTTL
}

// Store persists cache entries by resolved key.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewStore builds the store selected by the cache driver config.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache: config is required")
	}
	switch cfg.Cache.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.Cache.MaxCostMB)
	case "redis":
		client, err := NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Cache.Driver)
	}
}
