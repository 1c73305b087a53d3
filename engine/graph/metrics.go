package graph

import (
	"context"
	"sync"
	"time"

	"github.com/dagrun/dagrun/engine/infra/monitoring"
	monitoringmetrics "github.com/dagrun/dagrun/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const graphMetricSubsystem = "graph"

var (
	graphMetricsOnce    sync.Once
	graphMetricsErr     error
	graphBuildCounter   metric.Int64Counter
	graphBuildHistogram metric.Float64Histogram
)

var graphBuildBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}

func ensureGraphMetrics() {
	graphMetricsOnce.Do(func() {
		graphMetricsErr = initGraphMetrics(monitoring.Meter())
	})
}

func initGraphMetrics(meter metric.Meter) error {
	var err error
	graphBuildCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(graphMetricSubsystem, "builds_total"),
		metric.WithDescription("Total graph compilation attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	graphBuildHistogram, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(graphMetricSubsystem, "build_duration_seconds"),
		metric.WithDescription("Graph compilation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(graphBuildBuckets...),
	)
	if err != nil {
		return err
	}
	return nil
}

func recordGraphBuild(ctx context.Context, duration time.Duration, ok bool) {
	ensureGraphMetrics()
	if graphMetricsErr != nil {
		return
	}
	ctx = metricsContext(ctx)
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	if graphBuildCounter != nil {
		graphBuildCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if duration > 0 && graphBuildHistogram != nil {
		graphBuildHistogram.Record(ctx, duration.Seconds())
	}
}

func metricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
