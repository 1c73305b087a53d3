package metrics

// WorkflowDurationBuckets defines default latency buckets for workflow and task duration metrics.
var WorkflowDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPDurationBuckets defines latency buckets for outbound HTTP call duration metrics.
var HTTPDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPSizeBucketBoundaries exposes response body size boundaries for OpenTelemetry histograms.
var HTTPSizeBucketBoundaries = []float64{100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000}
