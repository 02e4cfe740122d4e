// Package metrics exposes queue throughput and latency as Prometheus
// instruments. The teacher's go.mod already declares
// prometheus/client_golang as a direct dependency but never exercises
// it in the retrieved sources; this package is the first thing that
// does, following the standard NewCounterVec/NewHistogramVec
// registration pattern used across the ecosystem.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every queue metric this subsystem emits.
type Collector struct {
	JobsEnqueued   *prometheus.CounterVec
	JobsClaimed    *prometheus.CounterVec
	JobsCompleted  *prometheus.CounterVec
	JobsFailed     *prometheus.CounterVec
	JobsDeadLetter *prometheus.CounterVec
	JobsCancelled  *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
}

// NewCollector builds a Collector and registers it against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Total jobs enqueued, by job_type.",
		}, []string{"job_type"}),
		JobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "claimed_total",
			Help:      "Total jobs claimed by a worker, by job_type.",
		}, []string{"job_type"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total jobs completed successfully, by job_type.",
		}, []string{"job_type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total terminal job failures, by job_type.",
		}, []string{"job_type"}),
		JobsDeadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "dead_lettered_total",
			Help:      "Total jobs archived to the dead-letter table, by job_type.",
		}, []string{"job_type"}),
		JobsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "cancelled_total",
			Help:      "Total jobs that reached CANCELLED, by job_type.",
		}, []string{"job_type"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job processing duration from claim to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job_type", "outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "talentqueue",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Current job count by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(c.JobsEnqueued, c.JobsClaimed, c.JobsCompleted, c.JobsFailed, c.JobsDeadLetter, c.JobsCancelled, c.JobDuration, c.QueueDepth)
	return c
}

// ObserveDuration records a job's processing time, bucketed by job_type
// and outcome ("completed", "failed" or "cancelled").
func (c *Collector) ObserveDuration(jobType, outcome string, d time.Duration) {
	c.JobDuration.WithLabelValues(jobType, outcome).Observe(d.Seconds())
}
