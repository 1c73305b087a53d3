package orchestrator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/infra/monitoring"
	monitoringmetrics "github.com/dagrun/dagrun/engine/infra/monitoring/metrics"
)

const orchestratorMetricSubsystem = "orchestrator"

var (
	orchestratorMetricsOnce sync.Once
	orchestratorMetricsErr  error
	workflowCounter         metric.Int64Counter
	workflowHistogram       metric.Float64Histogram
	taskCounter             metric.Int64Counter
	forEachItemCounter      metric.Int64Counter
)

var workflowBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}

func ensureOrchestratorMetrics() {
	orchestratorMetricsOnce.Do(func() {
		orchestratorMetricsErr = initOrchestratorMetrics(monitoring.Meter())
	})
}

func initOrchestratorMetrics(meter metric.Meter) error {
	var err error
	workflowCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(orchestratorMetricSubsystem, "workflows_total"),
		metric.WithDescription("Total workflow executions by status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	workflowHistogram, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(orchestratorMetricSubsystem, "workflow_duration_seconds"),
		metric.WithDescription("End-to-end workflow execution duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(workflowBuckets...),
	)
	if err != nil {
		return err
	}
	taskCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(orchestratorMetricSubsystem, "tasks_total"),
		metric.WithDescription("Total scheduled step completions by status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	forEachItemCounter, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(orchestratorMetricSubsystem, "foreach_items_total"),
		metric.WithDescription("Total forEach iterations driven"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	return nil
}

func recordWorkflowExecution(ctx context.Context, status core.StatusType, durationMs int64) {
	ensureOrchestratorMetrics()
	if orchestratorMetricsErr != nil {
		return
	}
	ctx = metricsContext(ctx)
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	if workflowCounter != nil {
		workflowCounter.Add(ctx, 1, attrs)
	}
	if durationMs > 0 && workflowHistogram != nil {
		workflowHistogram.Record(ctx, float64(durationMs)/1000, attrs)
	}
}

func recordTaskExecution(ctx context.Context, status core.StatusType) {
	ensureOrchestratorMetrics()
	if orchestratorMetricsErr != nil || taskCounter == nil {
		return
	}
	taskCounter.Add(metricsContext(ctx), 1, metric.WithAttributes(
		attribute.String("status", string(status)),
	))
}

func recordForEachItems(ctx context.Context, count int) {
	ensureOrchestratorMetrics()
	if orchestratorMetricsErr != nil || forEachItemCounter == nil {
		return
	}
	forEachItemCounter.Add(metricsContext(ctx), int64(count))
}

func metricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
