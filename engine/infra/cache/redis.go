package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/pkg/config"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

const (
	redisPingTimeout = 10 * time.Second
	redisKeyPrefix   = "dagrun:cache:"
)

// NewRedisClient dials Redis from the application config and validates
// connectivity before handing the client out.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache: redis config is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: pinging redis server: %w", err)
	}
	logger.FromContext(ctx).Info("redis connection established",
		"host", cfg.Host, "port", cfg.Port, "db", cfg.DB, "pool_size", cfg.PoolSize)
	return client, nil
}

// RedisStore persists entries as JSON under a namespaced key with a
// physical TTL covering the stale window.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// wireEntry is the serialized envelope. Value stays raw JSON so reads can
// re-parse it with int64 precision instead of float64 defaults.
type wireEntry struct {
	Value    json.RawMessage `json:"value,omitempty"`
	Error    *core.Error     `json:"error,omitempty"`
	StoredAt time.Time       `json:"storedAt"`
	TTLMs    int64           `json:"ttlMs"`
	StaleMs  int64           `json:"staleMs"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		recordCacheOp(ctx, "redis", "get", false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	entry, err := decodeEntry([]byte(raw))
	if err != nil {
		// A corrupted entry is unrecoverable; drop it and report a miss.
		logger.FromContext(ctx).Warn("dropping undecodable cache entry", "key", key, "error", err)
		s.client.Del(ctx, redisKeyPrefix+key)
		recordCacheOp(ctx, "redis", "get", false)
		return nil, false, nil
	}
	recordCacheOp(ctx, "redis", "get", true)
	return entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	payload, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("cache: encoding entry %s: %w", key, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, entry.Lifetime()).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	recordCacheOp(ctx, "redis", "set", true)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	recordCacheOp(ctx, "redis", "delete", true)
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeEntry(entry *Entry) ([]byte, error) {
	wire := wireEntry{
		Error:    entry.Error,
		StoredAt: entry.StoredAt,
		TTLMs:    entry.TTL.Milliseconds(),
		StaleMs:  entry.StaleTTL.Milliseconds(),
	}
	if entry.Value != nil {
		// Stable bytes keep repeated hits byte-identical.
		wire.Value = core.StableJSONBytes(entry.Value)
	}
	return json.Marshal(wire)
}

func decodeEntry(raw []byte) (*Entry, error) {
	var wire wireEntry
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	entry := &Entry{
		Error:    wire.Error,
		StoredAt: wire.StoredAt,
		TTL:      time.Duration(wire.TTLMs) * time.Millisecond,
		StaleTTL: time.Duration(wire.StaleMs) * time.Millisecond,
	}
	if len(wire.Value) > 0 {
		parsed, err := tplengine.ParseJSONWithPrecision(string(wire.Value))
		if err != nil {
			return nil, err
		}
		value, ok := parsed.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry value is %T, want object", parsed)
		}
		entry.Value = value
	}
	return entry, nil
}
