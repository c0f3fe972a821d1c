package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Background task lifecycle and per-key concurrency pressure
//   - Context-window recovery phase outcomes and retry counts
//   - Tool-output pruning pass savings
//   - Errors categorized by component and error type
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TaskLaunched("nightly-refactor")
//	defer metrics.RecoveryDuration("truncate").Observe(time.Since(start).Seconds())
type Metrics struct {
	// TasksLaunched counts background tasks launched by concurrency key.
	TasksLaunched *prometheus.CounterVec

	// TasksCompleted counts background tasks reaching a terminal state.
	// Labels: concurrency_key, status (completed|failed|canceled)
	TasksCompleted *prometheus.CounterVec

	// TasksActive is a gauge of currently running background tasks.
	// Labels: concurrency_key
	TasksActive *prometheus.GaugeVec

	// QueueDepth tracks the current FIFO queue depth per concurrency key.
	QueueDepth *prometheus.GaugeVec

	// QueueWait measures time a task spent queued before acquiring a permit.
	QueueWait *prometheus.HistogramVec

	// RecoveryAttempts counts recovery attempts by phase and outcome.
	// Labels: phase (empty_content|truncate|summarize), outcome (recovered|retry|exhausted|error)
	RecoveryAttempts *prometheus.CounterVec

	// RecoveryDuration measures wall-clock time of a recovery phase in seconds.
	// Labels: phase
	RecoveryDuration *prometheus.HistogramVec

	// PruningTokensSaved tracks estimated tokens reclaimed by pruning strategy.
	// Labels: strategy (dedup|supersede|purge)
	PruningTokensSaved *prometheus.CounterVec

	// PruningPassDuration measures a pruning engine pass in seconds.
	PruningPassDuration prometheus.Histogram

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (scheduler|recovery|pruning|messagestore), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TasksLaunched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_background_tasks_launched_total",
				Help: "Total number of background tasks launched by concurrency key",
			},
			[]string{"concurrency_key"},
		),

		TasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_background_tasks_completed_total",
				Help: "Total number of background tasks reaching a terminal state",
			},
			[]string{"concurrency_key", "status"},
		),

		TasksActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayd_background_tasks_active",
				Help: "Current number of running background tasks by concurrency key",
			},
			[]string{"concurrency_key"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayd_background_queue_depth",
				Help: "Current FIFO queue depth by concurrency key",
			},
			[]string{"concurrency_key"},
		),

		QueueWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayd_background_queue_wait_seconds",
				Help:    "Time a queued task waited before acquiring a permit",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"concurrency_key"},
		),

		RecoveryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_recovery_attempts_total",
				Help: "Total number of context-window recovery attempts by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),

		RecoveryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayd_recovery_phase_duration_seconds",
				Help:    "Duration of a recovery phase in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"phase"},
		),

		PruningTokensSaved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_pruning_tokens_saved_total",
				Help: "Estimated tokens reclaimed by the pruning engine by strategy",
			},
			[]string{"strategy"},
		),

		PruningPassDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relayd_pruning_pass_duration_seconds",
				Help:    "Duration of a single pruning engine pass in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// TaskLaunched increments the launched-tasks counter for a concurrency key
// and the active-tasks gauge.
func (m *Metrics) TaskLaunched(concurrencyKey string) {
	m.TasksLaunched.WithLabelValues(concurrencyKey).Inc()
	m.TasksActive.WithLabelValues(concurrencyKey).Inc()
}

// TaskCompleted records a background task reaching a terminal state.
func (m *Metrics) TaskCompleted(concurrencyKey, status string) {
	m.TasksCompleted.WithLabelValues(concurrencyKey, status).Inc()
	m.TasksActive.WithLabelValues(concurrencyKey).Dec()
}

// SetQueueDepth sets the current queue depth for a concurrency key.
func (m *Metrics) SetQueueDepth(concurrencyKey string, depth int) {
	m.QueueDepth.WithLabelValues(concurrencyKey).Set(float64(depth))
}

// RecordQueueWait records how long a task waited in queue before running.
func (m *Metrics) RecordQueueWait(concurrencyKey string, waitSeconds float64) {
	m.QueueWait.WithLabelValues(concurrencyKey).Observe(waitSeconds)
}

// RecordRecoveryAttempt records a recovery attempt outcome for a phase.
func (m *Metrics) RecordRecoveryAttempt(phase, outcome string, durationSeconds float64) {
	m.RecoveryAttempts.WithLabelValues(phase, outcome).Inc()
	m.RecoveryDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordPruningSavings records estimated tokens reclaimed by a pruning strategy.
func (m *Metrics) RecordPruningSavings(strategy string, tokens int64) {
	if tokens <= 0 {
		return
	}
	m.PruningTokensSaved.WithLabelValues(strategy).Add(float64(tokens))
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
