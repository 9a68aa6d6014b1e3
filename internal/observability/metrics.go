package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper radar service.
// Metrics are organized by subsystem: scans, candidates, sources, the task queue,
// recovery and notifications. All collectors are registered via promauto with the
// default Prometheus registry. Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// ScansTotal counts discovery scans, labeled by trigger (timer, manual).
	ScansTotal *prometheus.CounterVec

	// ScansRejected counts manual triggers rejected because a scan was running.
	ScansRejected prometheus.Counter

	// ScanDuration observes scan duration in seconds.
	ScanDuration prometheus.Histogram

	// ScanBackpressure counts scans that admitted nothing because the queue was at capacity.
	ScanBackpressure prometheus.Counter

	// CandidatesFound counts candidates returned by sources, labeled by source.
	CandidatesFound *prometheus.CounterVec

	// CandidatesScored counts scored candidates, labeled by the rule that matched.
	CandidatesScored *prometheus.CounterVec

	// CandidatesRejected counts candidates dropped before admission, labeled by
	// the dedup check or the reason (score, no_pdf).
	CandidatesRejected *prometheus.CounterVec

	// CandidatesAdmitted counts candidates admitted as tasks.
	CandidatesAdmitted prometheus.Counter

	// SourceRequestsTotal counts source adapter calls, labeled by source.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed source adapter calls, labeled by source and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes source adapter call duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts throttled source calls, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// TasksAdmitted counts tasks accepted by the queue, labeled by origin (upload, discovery).
	TasksAdmitted *prometheus.CounterVec

	// TasksCompleted counts tasks that reached completed.
	TasksCompleted prometheus.Counter

	// TasksFailed counts tasks that reached failed, labeled by reason.
	TasksFailed *prometheus.CounterVec

	// TaskDuration observes time from dispatch to terminal state in seconds.
	TaskDuration prometheus.Histogram

	// QueueDepth is the number of non-terminal tasks.
	QueueDepth prometheus.Gauge

	// TasksRunning is the number of tasks holding a worker slot.
	TasksRunning prometheus.Gauge

	// TasksCleaned counts terminal tasks removed by the janitor.
	TasksCleaned prometheus.Counter

	// RecoveryResumed counts interrupted tasks resumed at startup.
	RecoveryResumed prometheus.Counter

	// RecoveryFailed counts interrupted tasks failed at startup, labeled by reason.
	RecoveryFailed *prometheus.CounterVec

	// NotificationsSent counts delivered notifications, labeled by notifier.
	NotificationsSent *prometheus.CounterVec

	// NotificationsFailed counts failed notifications, labeled by notifier.
	NotificationsFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Scans
		ScansTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of discovery scans executed",
		}, []string{"trigger"}),
		ScansRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_rejected_total",
			Help:      "Total number of manual scan triggers rejected while a scan was running",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of discovery scans in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		ScanBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_backpressure_total",
			Help:      "Total number of scans that skipped admission because the queue was at capacity",
		}),

		// Candidates
		CandidatesFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_found_total",
			Help:      "Total number of candidates returned by discovery sources",
		}, []string{"source"}),
		CandidatesScored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scored_total",
			Help:      "Total number of candidates scored, by matching rule",
		}, []string{"rule"}),
		CandidatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_rejected_total",
			Help:      "Total number of candidates rejected before admission, by check",
		}, []string{"check"}),
		CandidatesAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_admitted_total",
			Help:      "Total number of candidates admitted as tasks",
		}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of discovery source calls",
		}, []string{"source"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed discovery source calls",
		}, []string{"source", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of discovery source calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of throttled discovery source calls",
		}, []string{"source"}),

		// Queue
		TasksAdmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_admitted_total",
			Help:      "Total number of tasks admitted to the queue",
		}, []string{"origin"}),
		TasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed",
		}),
		TasksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks failed",
		}, []string{"reason"}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from dispatch to terminal state in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of non-terminal tasks",
		}),
		TasksRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of tasks holding a worker slot",
		}),
		TasksCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_cleaned_total",
			Help:      "Total number of expired terminal tasks removed",
		}),

		// Recovery
		RecoveryResumed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_resumed_total",
			Help:      "Total number of interrupted tasks resumed at startup",
		}),
		RecoveryFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_failed_total",
			Help:      "Total number of interrupted tasks failed at startup",
		}, []string{"reason"}),

		// Notifications
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications delivered",
		}, []string{"notifier"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of notification deliveries that failed",
		}, []string{"notifier"}),
	}
}

// RecordScan records a finished scan.
func (m *Metrics) RecordScan(trigger string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(trigger).Inc()
	m.ScanDuration.Observe(durationSeconds)
}

// RecordScanRejected records a manual trigger rejected while scanning.
func (m *Metrics) RecordScanRejected() {
	if m == nil {
		return
	}
	m.ScansRejected.Inc()
}

// RecordBackpressure records a scan that skipped admission.
func (m *Metrics) RecordBackpressure() {
	if m == nil {
		return
	}
	m.ScanBackpressure.Inc()
}

// RecordCandidatesFound records the candidates a source returned.
func (m *Metrics) RecordCandidatesFound(source string, count int) {
	if m == nil {
		return
	}
	m.CandidatesFound.WithLabelValues(source).Add(float64(count))
}

// RecordCandidateScored records the rule that scored a candidate.
func (m *Metrics) RecordCandidateScored(rule string) {
	if m == nil {
		return
	}
	m.CandidatesScored.WithLabelValues(rule).Inc()
}

// RecordCandidateRejected records a candidate dropped before admission.
func (m *Metrics) RecordCandidateRejected(check string) {
	if m == nil {
		return
	}
	m.CandidatesRejected.WithLabelValues(check).Inc()
}

// RecordCandidateAdmitted records a candidate admission.
func (m *Metrics) RecordCandidateAdmitted() {
	if m == nil {
		return
	}
	m.CandidatesAdmitted.Inc()
}

// RecordSourceRequest records a successful source call.
func (m *Metrics) RecordSourceRequest(source string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source).Inc()
	m.SourceRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed source call.
func (m *Metrics) RecordSourceRequestFailed(source, errorType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source).Inc()
	m.SourceRequestsFailed.WithLabelValues(source, errorType).Inc()
	m.SourceRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRateLimited records a throttled source call.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordTaskAdmitted records a task accepted by the queue.
func (m *Metrics) RecordTaskAdmitted(origin string) {
	if m == nil {
		return
	}
	m.TasksAdmitted.WithLabelValues(origin).Inc()
}

// RecordTaskCompleted records a completed task.
func (m *Metrics) RecordTaskCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TasksCompleted.Inc()
	m.TaskDuration.Observe(durationSeconds)
}

// RecordTaskFailed records a failed task.
func (m *Metrics) RecordTaskFailed(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TasksFailed.WithLabelValues(reason).Inc()
	if durationSeconds > 0 {
		m.TaskDuration.Observe(durationSeconds)
	}
}

// SetQueueState publishes the current queue depth and running count.
func (m *Metrics) SetQueueState(depth, running int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.TasksRunning.Set(float64(running))
}

// RecordTasksCleaned records expired tasks removed by the janitor.
func (m *Metrics) RecordTasksCleaned(count int) {
	if m == nil {
		return
	}
	m.TasksCleaned.Add(float64(count))
}

// RecordRecoveryResumed records a resumed task.
func (m *Metrics) RecordRecoveryResumed() {
	if m == nil {
		return
	}
	m.RecoveryResumed.Inc()
}

// RecordRecoveryFailed records a task failed by the recovery sweep.
func (m *Metrics) RecordRecoveryFailed(reason string) {
	if m == nil {
		return
	}
	m.RecoveryFailed.WithLabelValues(reason).Inc()
}

// RecordNotification records a notification delivery outcome.
func (m *Metrics) RecordNotification(notifier string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotificationsFailed.WithLabelValues(notifier).Inc()
		return
	}
	m.NotificationsSent.WithLabelValues(notifier).Inc()
}
