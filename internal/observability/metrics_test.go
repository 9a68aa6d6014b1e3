package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_radar_new")

	assert.NotNil(t, m.ScansTotal)
	assert.NotNil(t, m.ScanDuration)
	assert.NotNil(t, m.CandidatesFound)
	assert.NotNil(t, m.CandidatesRejected)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.TasksAdmitted)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.RecoveryFailed)
	assert.NotNil(t, m.NotificationsFailed)
}

func TestRecordScan(t *testing.T) {
	m := NewMetrics("test_radar_scan")

	m.RecordScan("manual", 1.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScansTotal.WithLabelValues("manual")))

	count, err := getHistogramSampleCount(m.ScanDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordCandidates(t *testing.T) {
	m := NewMetrics("test_radar_candidates")

	m.RecordCandidatesFound("arxiv", 12)
	m.RecordCandidateScored("community_high")
	m.RecordCandidateRejected("kb_external_id")
	m.RecordCandidateAdmitted()
	m.RecordBackpressure()

	assert.Equal(t, float64(12), testutil.ToFloat64(m.CandidatesFound.WithLabelValues("arxiv")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CandidatesScored.WithLabelValues("community_high")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CandidatesRejected.WithLabelValues("kb_external_id")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CandidatesAdmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScanBackpressure))
}

func TestRecordSourceRequests(t *testing.T) {
	m := NewMetrics("test_radar_sources")

	m.RecordSourceRequest("huggingface", 0.2)
	m.RecordSourceRequestFailed("huggingface", "timeout", 30)
	m.RecordSourceRateLimited("huggingface")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("huggingface")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("huggingface", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("huggingface")))
}

func TestRecordTasks(t *testing.T) {
	m := NewMetrics("test_radar_tasks")

	m.RecordTaskAdmitted("upload")
	m.RecordTaskCompleted(42)
	m.RecordTaskFailed("cancelled", 0)
	m.SetQueueState(7, 3)
	m.RecordTasksCleaned(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksAdmitted.WithLabelValues("upload")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksFailed.WithLabelValues("cancelled")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TasksRunning))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.TasksCleaned))

	count, err := getHistogramSampleCount(m.TaskDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordRecoveryAndNotifications(t *testing.T) {
	m := NewMetrics("test_radar_recovery")

	m.RecordRecoveryResumed()
	m.RecordRecoveryFailed("input_missing")
	m.RecordNotification("kafka", nil)
	m.RecordNotification("webhook", errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecoveryResumed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecoveryFailed.WithLabelValues("input_missing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsSent.WithLabelValues("kafka")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("webhook")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordScan("timer", 1)
		m.RecordCandidateAdmitted()
		m.RecordTaskFailed("x", 1)
		m.SetQueueState(1, 1)
		m.RecordNotification("kafka", nil)
	})
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var metric = &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}

	return metric.Histogram.GetSampleCount(), nil
}
