package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces every environment override, e.g.
// DAGRUN_HTTP_DEFAULT_TIMEOUT=45s or DAGRUN_CACHE_DRIVER=redis.
const envPrefix = "DAGRUN_"

// Service loads and validates configuration.
type Service interface {
	Load(ctx context.Context) (*Config, error)
	Validate(cfg *Config) error
}

type loader struct {
	validator *validator.Validate
}

// NewService creates a configuration service with validation support.
func NewService() Service {
	return &loader{validator: validator.New()}
}

// Load layers built-in defaults, then DAGRUN_* environment overrides, and
// validates the result.
func (l *loader) Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return transformEnvKey(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against struct tags plus cross-field rules.
func (l *loader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	retry := cfg.Resilience.Retry
	if retry.MaxDelay < retry.InitialDelay {
		return fmt.Errorf("configuration validation failed: resilience.retry.max_delay must be >= initial_delay")
	}
	return nil
}

// transformEnvKey converts an environment suffix to a koanf path.
// HTTP_DEFAULT_TIMEOUT becomes http.default_timeout: the first underscore
// separates the section, the rest keep underscores as field names.
func transformEnvKey(s string) string {
	s = strings.ToLower(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}
	// resilience.retry.* and resilience.circuit_breaker.* nest two levels deep
	if parts[0] == "resilience" && len(parts) > 2 {
		if parts[1] == "retry" {
			return "resilience.retry." + strings.Join(parts[2:], "_")
		}
		if parts[1] == "circuit" && len(parts) > 3 && parts[2] == "breaker" {
			return "resilience.circuit_breaker." + strings.Join(parts[3:], "_")
		}
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}
