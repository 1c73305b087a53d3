package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/infra/monitoring"
	monitoringmetrics "github.com/dagrun/dagrun/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const catalogMetricSubsystem = "catalog"

// catalogLoadBuckets cover definition load passes from a handful of local
// files up to slow remote sources.
var catalogLoadBuckets = []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30}

var (
	catalogMetricsOnce sync.Once
	catalogMetricsErr  error
	definitionsCounter metric.Int64Counter
	loadErrorsCounter  metric.Int64Counter
	loadDuration       metric.Float64Histogram
)

func ensureCatalogMetrics() {
	catalogMetricsOnce.Do(func() {
		catalogMetricsErr = initCatalogMetrics(monitoring.Meter())
	})
}

func initCatalogMetrics(meter metric.Meter) error {
	var err error
	definitionsCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(catalogMetricSubsystem, "definitions_registered_total"),
		metric.WithDescription("Definitions registered by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	loadErrorsCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(catalogMetricSubsystem, "load_errors_total"),
		metric.WithDescription("Definition load failures by reason"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	loadDuration, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(catalogMetricSubsystem, "load_duration_seconds"),
		metric.WithDescription("Time to complete a definition load pass"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(catalogLoadBuckets...),
	)
	return err
}

func recordCatalogRegistered(ctx context.Context, kind core.ComponentType) {
	ensureCatalogMetrics()
	if catalogMetricsErr != nil || definitionsCounter == nil {
		return
	}
	definitionsCounter.Add(catalogMetricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
	))
}

func recordCatalogError(ctx context.Context, reason string) {
	ensureCatalogMetrics()
	if catalogMetricsErr != nil || loadErrorsCounter == nil {
		return
	}
	loadErrorsCounter.Add(catalogMetricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func recordCatalogLoad(ctx context.Context, duration time.Duration) {
	ensureCatalogMetrics()
	if catalogMetricsErr != nil || loadDuration == nil {
		return
	}
	loadDuration.Record(catalogMetricsContext(ctx), duration.Seconds())
}

func catalogMetricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
