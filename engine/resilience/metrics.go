package resilience

import (
	"context"
	"sync"

	"github.com/dagrun/dagrun/engine/infra/monitoring"
	monitoringmetrics "github.com/dagrun/dagrun/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const resilienceMetricSubsystem = "resilience"

var (
	resilienceMetricsOnce sync.Once
	resilienceMetricsErr  error
	retriesCounter        metric.Int64Counter
	breakerTransitions    metric.Int64Counter
	breakerRejections     metric.Int64Counter
	fallbackCounter       metric.Int64Counter
	stackCacheCounter     metric.Int64Counter
	stackRefreshCounter   metric.Int64Counter
)

func ensureResilienceMetrics() {
	resilienceMetricsOnce.Do(func() {
		resilienceMetricsErr = initResilienceMetrics(monitoring.Meter())
	})
}

func initResilienceMetrics(meter metric.Meter) error {
	var err error
	retriesCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(resilienceMetricSubsystem, "retries_total"),
		metric.WithDescription("Retry attempts beyond the first try"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	breakerTransitions, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(resilienceMetricSubsystem, "breaker_transitions_total"),
		metric.WithDescription("Circuit breaker state transitions by target state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	breakerRejections, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(resilienceMetricSubsystem, "breaker_rejections_total"),
		metric.WithDescription("Calls rejected by an open circuit"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	fallbackCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(resilienceMetricSubsystem, "fallbacks_total"),
		metric.WithDescription("Fallback task executions by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	stackCacheCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(resilienceMetricSubsystem, "cache_lookups_total"),
		metric.WithDescription("Result cache lookups by freshness outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	stackRefreshCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(resilienceMetricSubsystem, "stale_refreshes_total"),
		metric.WithDescription("Background refreshes launched for stale cache entries"),
		metric.WithUnit("1"),
	)
	return err
}

func recordRetries(ctx context.Context, retries int) {
	ensureResilienceMetrics()
	if resilienceMetricsErr != nil || retriesCounter == nil {
		return
	}
	retriesCounter.Add(resilienceMetricsContext(ctx), int64(retries))
}

func recordBreakerTransition(ctx context.Context, to BreakerState) {
	ensureResilienceMetrics()
	if resilienceMetricsErr != nil || breakerTransitions == nil {
		return
	}
	breakerTransitions.Add(resilienceMetricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("to", to.String()),
	))
}

func recordBreakerRejection(ctx context.Context) {
	ensureResilienceMetrics()
	if resilienceMetricsErr != nil || breakerRejections == nil {
		return
	}
	breakerRejections.Add(resilienceMetricsContext(ctx), 1)
}

func recordFallback(ctx context.Context, ok bool) {
	ensureResilienceMetrics()
	if resilienceMetricsErr != nil || fallbackCounter == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	fallbackCounter.Add(resilienceMetricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func recordStackCache(ctx context.Context, outcome string) {
	ensureResilienceMetrics()
	if resilienceMetricsErr != nil || stackCacheCounter == nil {
		return
	}
	stackCacheCounter.Add(resilienceMetricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func recordStackRefresh(ctx context.Context) {
	ensureResilienceMetrics()
	if resilienceMetricsErr != nil || stackRefreshCounter == nil {
		return
	}
	stackRefreshCounter.Add(resilienceMetricsContext(ctx), 1)
}

func resilienceMetricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
