package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const jobSubsystem = "outbox"

var (
	jobsProcessed = &Metric{
		ID:          "jobsProcessed",
		Name:        "jobs_processed_total",
		Description: "Jobs handled by the scheduler, partitioned by type and result.",
		Type:        "counter_vec",
		Args:        []string{"type", "result"},
	}
	jobDuration = &Metric{
		ID:          "jobDuration",
		Name:        "job_duration_ms",
		Description: "Handler latency in milliseconds.",
		Type:        "histogram_vec",
		Args:        []string{"type"},
	}
	jobsClaimed = &Metric{
		ID:          "jobsClaimed",
		Name:        "jobs_claimed_total",
		Description: "Jobs leased by this worker.",
		Type:        "counter",
	}
	leasesReclaimed = &Metric{
		ID:          "leasesReclaimed",
		Name:        "leases_reclaimed_total",
		Description: "Expired leases returned to pending or failed by the sweep.",
		Type:        "counter",
	}
)

// Job results used as the "result" label.
const (
	JobResultDone        = "done"
	JobResultRetry       = "retry"
	JobResultFailed      = "failed"
	JobResultLeaseLost   = "lease_lost"
	JobResultUnknownType = "unknown_type"
)

// JobMetrics records scheduler activity. A nil *JobMetrics is a no-op.
type JobMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	claimed   prometheus.Counter
	reclaimed prometheus.Counter
}

func NewJobMetrics(reg prometheus.Registerer) (*JobMetrics, error) {
	cs, err := register(reg, jobSubsystem, jobsProcessed, jobDuration, jobsClaimed, leasesReclaimed)
	if err != nil {
		return nil, err
	}
	return &JobMetrics{
		processed: cs[jobsProcessed.ID].(*prometheus.CounterVec),
		duration:  cs[jobDuration.ID].(*prometheus.HistogramVec),
		claimed:   cs[jobsClaimed.ID].(prometheus.Counter),
		reclaimed: cs[leasesReclaimed.ID].(prometheus.Counter),
	}, nil
}

func (m *JobMetrics) ObserveJob(jobType, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(jobType, result).Inc()
	m.duration.WithLabelValues(jobType).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *JobMetrics) Claimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.claimed.Add(float64(n))
}

func (m *JobMetrics) Reclaimed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(float64(n))
}
