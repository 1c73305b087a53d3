package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager holds the active configuration and swaps it atomically on reload.
type Manager struct {
	service   Service
	current   atomic.Value // stores *Config
	callbacks []func(*Config)
	mu        sync.Mutex
}

func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{service: service}
}

// Load resolves the configuration and makes it current.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.service.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.apply(cfg)
	return cfg, nil
}

// Get returns the current configuration, or nil before the first Load.
func (m *Manager) Get() *Config {
	val := m.current.Load()
	if val == nil {
		return nil
	}
	cfg, ok := val.(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// Set installs cfg directly. Tests use this to pin a configuration.
func (m *Manager) Set(cfg *Config) {
	m.apply(cfg)
}

// Reload re-resolves sources and notifies OnChange subscribers.
func (m *Manager) Reload(ctx context.Context) (*Config, error) {
	return m.Load(ctx)
}

// OnChange registers a callback invoked after every successful (re)load.
func (m *Manager) OnChange(fn func(*Config)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

func (m *Manager) apply(cfg *Config) {
	m.current.Store(cfg)
	m.mu.Lock()
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
}
