package task

import (
	"fmt"
	"time"

	"github.com/dagrun/dagrun/engine/core"
)

// -----------------------------------------------------------------------------
// Retry
// -----------------------------------------------------------------------------

// RetryPolicy configures exponential backoff for retryable failures.
// Durations are human strings; bare integers are minutes. Zero values fall
// back to the engine-wide defaults.
type RetryPolicy struct {
	InitialDelay  string  `json:"initialDelay,omitempty"  yaml:"initialDelay,omitempty"  mapstructure:"initialDelay,omitempty"`
	MaxDelay      string  `json:"maxDelay,omitempty"      yaml:"maxDelay,omitempty"      mapstructure:"maxDelay,omitempty"`
	Multiplier    float64 `json:"multiplier,omitempty"    yaml:"multiplier,omitempty"    mapstructure:"multiplier,omitempty"`
	MaxRetryCount int     `json:"maxRetryCount,omitempty" yaml:"maxRetryCount,omitempty" mapstructure:"maxRetryCount,omitempty"`
}

func (p *RetryPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.MaxRetryCount < 0 {
		return fmt.Errorf("retry maxRetryCount must be >= 0, got %d", p.MaxRetryCount)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"initialDelay", p.InitialDelay},
		{"maxDelay", p.MaxDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := core.ParseHumanDuration(d.value); err != nil {
			return fmt.Errorf("retry %s: %w", d.name, err)
		}
	}
	return nil
}

// InitialDelayOr returns the configured initial delay or def.
func (p *RetryPolicy) InitialDelayOr(def time.Duration) time.Duration {
	return durationOr(p.delayString(func(p *RetryPolicy) string { return p.InitialDelay }), def)
}

// MaxDelayOr returns the configured delay ceiling or def.
func (p *RetryPolicy) MaxDelayOr(def time.Duration) time.Duration {
	return durationOr(p.delayString(func(p *RetryPolicy) string { return p.MaxDelay }), def)
}

// MultiplierOr returns the configured backoff multiplier or def.
func (p *RetryPolicy) MultiplierOr(def float64) float64 {
	if p == nil || p.Multiplier == 0 {
		return def
	}
	return p.Multiplier
}

// MaxRetryCountOr returns the configured attempt ceiling or def.
func (p *RetryPolicy) MaxRetryCountOr(def int) int {
	if p == nil || p.MaxRetryCount == 0 {
		return def
	}
	return p.MaxRetryCount
}

func (p *RetryPolicy) delayString(get func(*RetryPolicy) string) string {
	if p == nil {
		return ""
	}
	return get(p)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := core.ParseHumanDuration(s)
	if err != nil {
		return def
	}
	return d
}

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

// CachePolicy enables result caching for a step. Presence of the block
// enables the cache; Key overrides the derived composite key.
type CachePolicy struct {
	Key              string `json:"key,omitempty"              yaml:"key,omitempty"              mapstructure:"key,omitempty"`
	TTL              string `json:"ttl,omitempty"              yaml:"ttl,omitempty"              mapstructure:"ttl,omitempty"`
	StaleTTL         string `json:"staleTTL,omitempty"         yaml:"staleTTL,omitempty"         mapstructure:"staleTTL,omitempty"`
	BypassWhen       string `json:"bypassWhen,omitempty"       yaml:"bypassWhen,omitempty"       mapstructure:"bypassWhen,omitempty"`
	CacheOnlySuccess *bool  `json:"cacheOnlySuccess,omitempty" yaml:"cacheOnlySuccess,omitempty" mapstructure:"cacheOnlySuccess,omitempty"`
}

// OnlySuccess reports whether only successful results are stored. Default true.
func (p *CachePolicy) OnlySuccess() bool {
	if p == nil || p.CacheOnlySuccess == nil {
		return true
	}
	return *p.CacheOnlySuccess
}

// TTLOr parses the entry TTL. Empty falls back to def; malformed values
// fall back to the five minute default rather than failing the step.
func (p *CachePolicy) TTLOr(def time.Duration) time.Duration {
	if p == nil || p.TTL == "" {
		return def
	}
	return core.ParseTTL(p.TTL)
}

// StaleTTLOr parses the stale-while-revalidate window. Zero disables it.
func (p *CachePolicy) StaleTTLOr(def time.Duration) time.Duration {
	if p == nil || p.StaleTTL == "" {
		return def
	}
	d, err := core.ParseHumanDuration(p.StaleTTL)
	if err != nil {
		return def
	}
	return d
}

// -----------------------------------------------------------------------------
// Circuit breaker
// -----------------------------------------------------------------------------

// BreakerScope selects how breaker state is shared across runs.
type BreakerScope string

const (
	// ScopeExecution keeps breaker state private to one workflow execution.
	ScopeExecution BreakerScope = "execution"
	// ScopeGlobal shares breaker state across executions of the same host.
	ScopeGlobal BreakerScope = "global"
)

// CircuitBreakerPolicy configures the per task-ref breaker. Zero values fall
// back to the engine-wide defaults.
type CircuitBreakerPolicy struct {
	FailureThreshold int          `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty" mapstructure:"failureThreshold,omitempty"`
	SamplingDuration string       `json:"samplingDuration,omitempty" yaml:"samplingDuration,omitempty" mapstructure:"samplingDuration,omitempty"`
	BreakDuration    string       `json:"breakDuration,omitempty"    yaml:"breakDuration,omitempty"    mapstructure:"breakDuration,omitempty"`
	HalfOpenRequests int          `json:"halfOpenRequests,omitempty" yaml:"halfOpenRequests,omitempty" mapstructure:"halfOpenRequests,omitempty"`
	Scope            BreakerScope `json:"scope,omitempty"            yaml:"scope,omitempty"            mapstructure:"scope,omitempty"`
}

func (p *CircuitBreakerPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.FailureThreshold < 0 {
		return fmt.Errorf("circuitBreaker failureThreshold must be >= 0, got %d", p.FailureThreshold)
	}
	if p.Scope != "" && p.Scope != ScopeExecution && p.Scope != ScopeGlobal {
		return fmt.Errorf("circuitBreaker scope must be execution or global, got %q", p.Scope)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"samplingDuration", p.SamplingDuration},
		{"breakDuration", p.BreakDuration},
	} {
		if d.value == "" {
			continue
		}
		if _, err := core.ParseHumanDuration(d.value); err != nil {
			return fmt.Errorf("circuitBreaker %s: %w", d.name, err)
		}
	}
	return nil
}

// GetScope returns the configured scope, defaulting to execution.
func (p *CircuitBreakerPolicy) GetScope() BreakerScope {
	if p == nil || p.Scope == "" {
		return ScopeExecution
	}
	return p.Scope
}

// -----------------------------------------------------------------------------
// Fallback
// -----------------------------------------------------------------------------

// FallbackPolicy names a task to run when the primary terminally fails or
// the breaker fast-rejects. The fallback resolves its own input mapping.
type FallbackPolicy struct {
	TaskRef string         `json:"taskRef"         yaml:"taskRef"         mapstructure:"taskRef"`
	Input   map[string]any `json:"input,omitempty" yaml:"input,omitempty" mapstructure:"input,omitempty"`
}

func (p *FallbackPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.TaskRef == "" {
		return fmt.Errorf("fallback taskRef is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// ForEach
// -----------------------------------------------------------------------------

// ForEachPolicy fans a step out over the elements of a resolved array.
type ForEachPolicy struct {
	Items          string `json:"items"                    yaml:"items"                    mapstructure:"items"`
	ItemVar        string `json:"itemVar,omitempty"        yaml:"itemVar,omitempty"        mapstructure:"itemVar,omitempty"`
	IndexVar       string `json:"indexVar,omitempty"       yaml:"indexVar,omitempty"       mapstructure:"indexVar,omitempty"`
	Parallel       bool   `json:"parallel,omitempty"       yaml:"parallel,omitempty"       mapstructure:"parallel,omitempty"`
	MaxConcurrency int    `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty" mapstructure:"maxConcurrency,omitempty"`
}

func (p *ForEachPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.Items == "" {
		return fmt.Errorf("forEach items is required")
	}
	if p.MaxConcurrency < 0 {
		return fmt.Errorf("forEach maxConcurrency must be >= 0, got %d", p.MaxConcurrency)
	}
	return nil
}

// GetItemVar returns the iteration variable name, defaulting to item.
func (p *ForEachPolicy) GetItemVar() string {
	if p == nil || p.ItemVar == "" {
		return "item"
	}
	return p.ItemVar
}

// GetIndexVar returns the index variable name, defaulting to index.
func (p *ForEachPolicy) GetIndexVar() string {
	if p == nil || p.IndexVar == "" {
		return "index"
	}
	return p.IndexVar
}

// -----------------------------------------------------------------------------
// Switch
// -----------------------------------------------------------------------------

// SwitchCase routes to a taskRef when Match equals the resolved value
// (case-insensitive).
type SwitchCase struct {
	Match   string `json:"match"   yaml:"match"   mapstructure:"match"`
	TaskRef string `json:"taskRef" yaml:"taskRef" mapstructure:"taskRef"`
}

// SwitchTarget is the default route taken when no case matches.
type SwitchTarget struct {
	TaskRef string `json:"taskRef" yaml:"taskRef" mapstructure:"taskRef"`
}

// SwitchPolicy selects the taskRef to execute from a resolved value.
type SwitchPolicy struct {
	Value   string        `json:"value"             yaml:"value"             mapstructure:"value"`
	Cases   []SwitchCase  `json:"cases"             yaml:"cases"             mapstructure:"cases"`
	Default *SwitchTarget `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default,omitempty"`
}

func (p *SwitchPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.Value == "" {
		return fmt.Errorf("switch value is required")
	}
	if len(p.Cases) == 0 {
		return fmt.Errorf("switch requires at least one case")
	}
	for i, c := range p.Cases {
		if c.TaskRef == "" {
			return fmt.Errorf("switch case %d: taskRef is required", i)
		}
	}
	if p.Default != nil && p.Default.TaskRef == "" {
		return fmt.Errorf("switch default taskRef is required when present")
	}
	return nil
}
