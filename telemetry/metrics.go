package telemetry

// Histogram bucket definitions
var (
	// BatchBuckets for whole-batch latency, dominated by sequential bus round trips
	BatchBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	// BatchSizeBuckets for records per inbound batch
	BatchSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// Dispatch Metrics
var (
	// RecordsTotal counts records by final outcome (delivered, dead_lettered, skipped)
	RecordsTotal CounterVec = noopCounterVec{}

	// SkippedTotal counts skipped records by reason
	SkippedTotal CounterVec = noopCounterVec{}

	// PublishAttemptsTotal counts bus publish attempts by result (success, failure)
	PublishAttemptsTotal CounterVec = noopCounterVec{}

	// DeadLettersTotal counts records routed to the dead-letter queue
	DeadLettersTotal Counter = NoopStat{}

	// DeadLetterFailuresTotal counts records lost because the dead-letter enqueue failed
	DeadLetterFailuresTotal Counter = NoopStat{}

	// BatchesTotal counts batches by result (processed, rejected)
	BatchesTotal CounterVec = noopCounterVec{}

	// BatchDurationSeconds measures time to process one batch
	BatchDurationSeconds Histogram = NoopStat{}

	// BatchSize measures records per batch
	BatchSize Histogram = NoopStat{}
)

// Replay Metrics
var (
	// ReplayedTotal counts replayed dead letters by result (delivered, requeued, failed, invalid)
	ReplayedTotal CounterVec = noopCounterVec{}

	// DeadLetterBacklog tracks messages waiting in a replayable dead-letter queue
	DeadLetterBacklog Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	RecordsTotal = NewCounterVec(
		"records_total",
		"Records processed by outcome",
		[]string{"outcome"},
	)
	SkippedTotal = NewCounterVec(
		"skipped_total",
		"Records skipped by reason",
		[]string{"reason"},
	)
	PublishAttemptsTotal = NewCounterVec(
		"publish_attempts_total",
		"Event bus publish attempts by result",
		[]string{"result"},
	)
	DeadLettersTotal = NewCounter(
		"dead_letters_total",
		"Records routed to the dead-letter queue",
	)
	DeadLetterFailuresTotal = NewCounter(
		"dead_letter_failures_total",
		"Records whose dead-letter enqueue failed",
	)
	BatchesTotal = NewCounterVec(
		"batches_total",
		"Batches by result",
		[]string{"result"},
	)
	BatchDurationSeconds = NewHistogramWithBuckets(
		"batch_duration_seconds",
		"Batch processing duration in seconds",
		BatchBuckets,
	)
	BatchSize = NewHistogramWithBuckets(
		"batch_size",
		"Records per batch",
		BatchSizeBuckets,
	)
	ReplayedTotal = NewCounterVec(
		"replayed_total",
		"Replayed dead letters by result",
		[]string{"result"},
	)
	DeadLetterBacklog = NewGauge(
		"dead_letter_backlog",
		"Messages waiting in the dead-letter queue",
	)
}
