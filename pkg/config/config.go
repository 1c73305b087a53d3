package config

import (
	"time"
)

// Config is the application configuration for the engine and CLI.
// Values load from defaults, then DAGRUN_* environment overrides.
type Config struct {
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"  validate:"required"`
	HTTP       HTTPConfig       `koanf:"http"       validate:"required"`
	Resilience ResilienceConfig `koanf:"resilience" validate:"required"`
	Cache      CacheConfig      `koanf:"cache"      validate:"required"`
	Redis      RedisConfig      `koanf:"redis"`
	CLI        CLIConfig        `koanf:"cli"`
}

// RuntimeConfig controls engine-wide behavior.
type RuntimeConfig struct {
	Environment     string `koanf:"environment"       validate:"oneof=development staging production"`
	LogLevel        string `koanf:"log_level"         validate:"oneof=debug info warn error disabled"`
	MaxSubflowDepth int    `koanf:"max_subflow_depth" validate:"min=1,max=64"`
}

// SchedulerConfig bounds the scheduler's concurrency.
type SchedulerConfig struct {
	// MaxParallelTasks caps concurrently running tasks per execution; 0 means unbounded.
	MaxParallelTasks int `koanf:"max_parallel_tasks" validate:"min=0"`
	// MaxConcurrentExecutions caps concurrent workflow executions per host; 0 means unbounded.
	MaxConcurrentExecutions int `koanf:"max_concurrent_executions" validate:"min=0"`
	// ForEachMaxConcurrency is the upper bound any forEach block may request.
	ForEachMaxConcurrency int `koanf:"foreach_max_concurrency" validate:"min=0"`
}

// HTTPConfig controls the outbound HTTP executor.
type HTTPConfig struct {
	DefaultTimeout   time.Duration `koanf:"default_timeout"    validate:"min=1ms"`
	MaxResponseBytes int64         `koanf:"max_response_bytes" validate:"min=1024"`
	UserAgent        string        `koanf:"user_agent"`
}

// RetryConfig holds the retry policy defaults applied when a task step
// enables retries without overriding individual knobs.
type RetryConfig struct {
	InitialDelay  time.Duration `koanf:"initial_delay" validate:"min=1ms"`
	MaxDelay      time.Duration `koanf:"max_delay"     validate:"min=1ms"`
	Multiplier    float64       `koanf:"multiplier"    validate:"gte=1"`
	MaxRetryCount int           `koanf:"max_retry_count" validate:"min=0"`
}

// CircuitBreakerConfig holds breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" validate:"min=1"`
	SamplingDuration time.Duration `koanf:"sampling_duration" validate:"min=1s"`
	BreakDuration    time.Duration `koanf:"break_duration"    validate:"min=1s"`
	HalfOpenRequests int           `koanf:"half_open_requests" validate:"min=1"`
}

// ResilienceConfig groups the fault-tolerance defaults.
type ResilienceConfig struct {
	Retry          RetryConfig          `koanf:"retry"           validate:"required"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker" validate:"required"`
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory redis"`
	// TTL applies when a cache block omits its own.
	TTL time.Duration `koanf:"ttl" validate:"min=1s"`
	// MaxCostMB bounds the memory driver.
	MaxCostMB int64 `koanf:"max_cost_mb" validate:"min=1"`
	// CacheableMethods lists HTTP methods eligible for caching.
	CacheableMethods []string `koanf:"cacheable_methods" validate:"min=1,dive,oneof=GET HEAD POST PUT DELETE PATCH OPTIONS"`
}

// RedisConfig connects the Redis cache driver.
type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"      validate:"min=0,max=65535"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"        validate:"min=0"`
	PoolSize int    `koanf:"pool_size" validate:"min=0"`
}

// CLI output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// CLIConfig controls command output.
type CLIConfig struct {
	Format string `koanf:"format" validate:"oneof=json yaml"`
	Color  bool   `koanf:"color"`
	Quiet  bool   `koanf:"quiet"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Environment:     "development",
			LogLevel:        "info",
			MaxSubflowDepth: 5,
		},
		Scheduler: SchedulerConfig{
			MaxParallelTasks:        0,
			MaxConcurrentExecutions: 0,
			ForEachMaxConcurrency:   64,
		},
		HTTP: HTTPConfig{
			DefaultTimeout:   30 * time.Second,
			MaxResponseBytes: 8 << 20,
			UserAgent:        "dagrun",
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      30 * time.Second,
				Multiplier:    2.0,
				MaxRetryCount: 3,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SamplingDuration: 60 * time.Second,
				BreakDuration:    30 * time.Second,
				HalfOpenRequests: 3,
			},
		},
		Cache: CacheConfig{
			Driver:           "memory",
			TTL:              5 * time.Minute,
			MaxCostMB:        64,
			CacheableMethods: []string{"GET"},
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			DB:       0,
			PoolSize: 10,
		},
		CLI: CLIConfig{
			Format: "json",
			Color:  true,
		},
	}
}
