package executor

import (
	"context"
	"sync"
	"time"

	"github.com/dagrun/dagrun/engine/infra/monitoring"
	monitoringmetrics "github.com/dagrun/dagrun/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dagrun/dagrun/engine/task"
)

const executorMetricSubsystem = "executor"

var (
	executorMetricsOnce sync.Once
	executorMetricsErr  error
	executionCounter    metric.Int64Counter
	executionHistogram  metric.Float64Histogram
)

var executionBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}

func ensureExecutorMetrics() {
	executorMetricsOnce.Do(func() {
		executorMetricsErr = initExecutorMetrics(monitoring.Meter())
	})
}

func initExecutorMetrics(meter metric.Meter) error {
	var err error
	executionCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(executorMetricSubsystem, "executions_total"),
		metric.WithDescription("Total task execution attempts by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	executionHistogram, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(executorMetricSubsystem, "execution_duration_seconds"),
		metric.WithDescription("Task execution attempt duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(executionBuckets...),
	)
	if err != nil {
		return err
	}
	return nil
}

func recordExecution(ctx context.Context, kind task.Type, duration time.Duration, ok bool) {
	ensureExecutorMetrics()
	if executorMetricsErr != nil {
		return
	}
	ctx = metricsContext(ctx)
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	)
	if executionCounter != nil {
		executionCounter.Add(ctx, 1, attrs)
	}
	if duration > 0 && executionHistogram != nil {
		executionHistogram.Record(ctx, duration.Seconds(), attrs)
	}
}

func metricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
