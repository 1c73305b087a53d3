package cache

import (
	"context"
	"sync"

	"github.com/dagrun/dagrun/engine/infra/monitoring"
	monitoringmetrics "github.com/dagrun/dagrun/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const cacheMetricSubsystem = "cache"

var (
	cacheMetricsOnce sync.Once
	cacheMetricsErr  error
	cacheOpCounter   metric.Int64Counter
)

func ensureCacheMetrics() {
	cacheMetricsOnce.Do(func() {
		cacheMetricsErr = initCacheMetrics(monitoring.Meter())
	})
}

func initCacheMetrics(meter metric.Meter) error {
	var err error
	cacheOpCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(cacheMetricSubsystem, "operations_total"),
		metric.WithDescription("Cache store operations by driver, op and outcome"),
		metric.WithUnit("1"),
	)
	return err
}

// recordCacheOp counts one store operation. For gets, hit=false marks a
// miss; for writes it marks a failure.
func recordCacheOp(ctx context.Context, driver, op string, hit bool) {
	ensureCacheMetrics()
	if cacheMetricsErr != nil || cacheOpCounter == nil {
		return
	}
	outcome := "hit"
	if !hit {
		outcome = "miss"
	}
	if op != "get" {
		outcome = "ok"
		if !hit {
			outcome = "error"
		}
	}
	cacheOpCounter.Add(metricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("driver", driver),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func metricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
