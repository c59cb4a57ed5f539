// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: upload intake, line processing, queue depth, locking and
// recovery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelStatus  = "status"
	LabelOutcome = "outcome"
	LabelReason  = "reason"
)

// Status constants for upload intake.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// Outcome constants for line processing.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Reason constants for dead-letter moves.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonUnreadable       = "unreadable"
)

// Metrics provides Prometheus metrics for the upload processing pipeline.
type Metrics struct {
	// Intake counters
	uploadsTotal *prometheus.CounterVec
	uploadBytes  prometheus.Histogram

	// Line processing
	linesTotal         *prometheus.CounterVec
	lineDuration       prometheus.Histogram
	processingDuration prometheus.Histogram

	// Retry and dead-letter accounting
	retriesTotal    prometheus.Counter
	deadLetterTotal *prometheus.CounterVec

	// Checkpointing
	checkpointWrites prometheus.Counter

	// Queue state gauges, sampled from the broker
	queueDepthGauge   prometheus.Gauge
	queuePendingGauge prometheus.Gauge
	dlqDepthGauge     prometheus.Gauge

	// Worker state
	workersActiveGauge prometheus.Gauge

	// Lock contention
	lockContentionTotal prometheus.Counter

	// Recovery sweeper
	recoveryRequeuedTotal prometheus.Counter

	// Flag to track if metrics are registered
	registered bool
}

// NewMetrics creates and registers pipeline metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "intake",
				Name:      "uploads_total",
				Help:      "Total number of upload requests by outcome",
			},
			[]string{LabelStatus},
		),

		uploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "cnabflow",
				Subsystem: "intake",
				Name:      "upload_bytes",
				Help:      "Size of accepted upload files in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		linesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "pipeline",
				Name:      "lines_total",
				Help:      "Total number of lines handled by outcome",
			},
			[]string{LabelOutcome},
		),

		lineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "cnabflow",
				Subsystem: "pipeline",
				Name:      "line_duration_seconds",
				Help:      "Time spent processing a single line",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),

		processingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "cnabflow",
				Subsystem: "pipeline",
				Name:      "upload_duration_seconds",
				Help:      "Wall time spent processing an entire upload",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),

		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "pipeline",
				Name:      "retries_total",
				Help:      "Total number of upload processing retries",
			},
		),

		deadLetterTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "pipeline",
				Name:      "dead_letter_total",
				Help:      "Total number of messages moved to the dead-letter stream",
			},
			[]string{LabelReason},
		),

		checkpointWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "pipeline",
				Name:      "checkpoint_writes_total",
				Help:      "Total number of checkpoint writes",
			},
		),

		queueDepthGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cnabflow",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of entries in the upload stream",
			},
		),

		queuePendingGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cnabflow",
				Subsystem: "queue",
				Name:      "pending",
				Help:      "Number of delivered but unacknowledged messages",
			},
		),

		dlqDepthGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cnabflow",
				Subsystem: "queue",
				Name:      "dlq_depth",
				Help:      "Number of entries in the dead-letter stream",
			},
		),

		workersActiveGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cnabflow",
				Subsystem: "workers",
				Name:      "active",
				Help:      "Number of workers currently processing an upload",
			},
		),

		lockContentionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "locks",
				Name:      "contention_total",
				Help:      "Number of times an upload lock was already held",
			},
		),

		recoveryRequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cnabflow",
				Subsystem: "recovery",
				Name:      "requeued_total",
				Help:      "Number of stuck uploads re-enqueued by the recovery sweeper",
			},
		),
	}

	// Register with registry if provided
	if registry != nil {
		registry.MustRegister(
			m.uploadsTotal,
			m.uploadBytes,
			m.linesTotal,
			m.lineDuration,
			m.processingDuration,
			m.retriesTotal,
			m.deadLetterTotal,
			m.checkpointWrites,
			m.queueDepthGauge,
			m.queuePendingGauge,
			m.dlqDepthGauge,
			m.workersActiveGauge,
			m.lockContentionTotal,
			m.recoveryRequeuedTotal,
		)
		m.registered = true
	}

	return m
}

// ============================================================================
// Intake Metrics
// ============================================================================

// ObserveUpload records an upload request outcome. For accepted uploads
// sizeBytes is also recorded; pass 0 otherwise.
func (m *Metrics) ObserveUpload(status string, sizeBytes int64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(status).Inc()
	if status == StatusAccepted && sizeBytes > 0 {
		m.uploadBytes.Observe(float64(sizeBytes))
	}
}

// ============================================================================
// Line Processing Metrics
// ============================================================================

// ObserveLines adds n to the counter for the given line outcome.
func (m *Metrics) ObserveLines(outcome string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.linesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveLineDuration records time spent processing one line.
func (m *Metrics) ObserveLineDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.lineDuration.Observe(duration.Seconds())
}

// ObserveProcessingDuration records wall time for a full upload run.
func (m *Metrics) ObserveProcessingDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.processingDuration.Observe(duration.Seconds())
}

// ObserveRetry records a processing attempt that will be retried.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// ObserveDeadLetter records a message moved to the dead-letter stream.
func (m *Metrics) ObserveDeadLetter(reason string) {
	if m == nil {
		return
	}
	m.deadLetterTotal.WithLabelValues(reason).Inc()
}

// ObserveCheckpoint records a checkpoint write.
func (m *Metrics) ObserveCheckpoint() {
	if m == nil {
		return
	}
	m.checkpointWrites.Inc()
}

// ============================================================================
// Queue and Worker Metrics
// ============================================================================

// SetQueueDepths updates the sampled queue gauges.
func (m *Metrics) SetQueueDepths(depth, pending, dlqDepth float64) {
	if m == nil {
		return
	}
	m.queueDepthGauge.Set(depth)
	m.queuePendingGauge.Set(pending)
	m.dlqDepthGauge.Set(dlqDepth)
}

// WorkerStarted marks a worker as busy.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersActiveGauge.Inc()
}

// WorkerFinished marks a worker as idle again.
func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.workersActiveGauge.Dec()
}

// ObserveLockContention records a lock acquisition that found the lock held.
func (m *Metrics) ObserveLockContention() {
	if m == nil {
		return
	}
	m.lockContentionTotal.Inc()
}

// ObserveRecoveryRequeue records uploads re-enqueued by the recovery sweeper.
func (m *Metrics) ObserveRecoveryRequeue(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recoveryRequeuedTotal.Add(float64(n))
}
