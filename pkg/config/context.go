package config

import (
	"context"
	"sync"

	"github.com/dagrun/dagrun/pkg/logger"
)

// ContextKey is an alias used for storing values in context
type ContextKey string

// ManagerCtxKey is the context key used to store the *Manager instance
const ManagerCtxKey ContextKey = "config_manager"

// ContextWithManager stores the configuration manager in the context
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, ManagerCtxKey, m)
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// ManagerFromContext retrieves the configuration manager from the context.
// If none is found, it falls back to a lazily-initialized default manager
// holding built-in defaults plus environment overrides, so components always
// have a usable configuration.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx != nil {
		if m, ok := ctx.Value(ManagerCtxKey).(*Manager); ok && m != nil {
			return m
		}
	}
	return getDefaultManager(ctx)
}

// FromContext returns the active configuration for the provided context.
func FromContext(ctx context.Context) *Config {
	m := ManagerFromContext(ctx)
	cfg := m.Get()
	if cfg == nil {
		return Default()
	}
	return cfg
}

func getDefaultManager(ctx context.Context) *Manager {
	defaultManagerOnce.Do(func() {
		m := NewManager(NewService())
		if _, err := m.Load(ctx); err != nil {
			logger.FromContext(ctx).Warn("failed to load default configuration, using built-in defaults", "error", err)
			m.Set(Default())
		}
		defaultManager = m
	})
	return defaultManager
}
