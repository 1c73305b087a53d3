package monitoring

import (
	"context"

	"github.com/dagrun/dagrun/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName identifies the engine's instrumentation scope.
const meterName = "dagrun"

// Config holds configuration for the monitoring layer.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns the default monitoring configuration.
func DefaultConfig() *Config {
	return &Config{Enabled: true}
}

// Service hands out the meter used for custom instrumentation. When disabled
// it degrades to a no-op meter so call sites never branch.
type Service struct {
	meter       metric.Meter
	config      *Config
	initialized bool
}

// NewService wires the service against the globally registered meter
// provider. Callers that install an SDK provider before this point get real
// metrics; everyone else gets the API default.
func NewService(ctx context.Context, cfg *Config) *Service {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		log.Debug("monitoring disabled, using no-op meter")
		return &Service{
			meter:  noop.NewMeterProvider().Meter(meterName),
			config: cfg,
		}
	}
	service := &Service{
		meter:       otel.GetMeterProvider().Meter(meterName),
		config:      cfg,
		initialized: true,
	}
	initSystemMetrics(ctx, service.meter)
	return service
}

// Meter returns the OpenTelemetry meter for custom instrumentation.
func (s *Service) Meter() metric.Meter {
	return s.meter
}

// Initialized reports whether the service is backed by the global provider.
func (s *Service) Initialized() bool {
	return s.initialized
}

// Meter returns the engine-wide meter from the global provider. Packages
// that register their own instruments lazily use this instead of carrying a
// Service handle.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(meterName)
}
