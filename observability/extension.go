// Package observability provides a Prometheus metrics extension.
// Register it with the engine to track enqueue rates, claim counts,
// completions, retries, dead letters, and lost leases.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unfoldingWord/door43-job-handler/ext"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobClaimed      = (*MetricsExtension)(nil)
	_ ext.JobSucceeded    = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered = (*MetricsExtension)(nil)
	_ ext.LeaseLost       = (*MetricsExtension)(nil)
)

// MetricsExtension records job lifecycle metrics with Prometheus.
type MetricsExtension struct {
	JobsEnqueued     *prometheus.CounterVec
	JobsClaimed      *prometheus.CounterVec
	JobsSucceeded    *prometheus.CounterVec
	JobsRetried      *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	LeasesLost       *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
}

// NewMetricsExtension creates a MetricsExtension registered on the
// default Prometheus registry.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsExtensionWithRegisterer creates a MetricsExtension on the
// given registerer. Use a fresh prometheus.NewRegistry() in tests.
func NewMetricsExtensionWithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	factory := promauto.With(reg)
	labels := []string{"kind", "queue"}

	return &MetricsExtension{
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhandler_jobs_enqueued_total",
			Help: "Total number of jobs enqueued.",
		}, labels),
		JobsClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhandler_jobs_claimed_total",
			Help: "Total number of jobs claimed by workers.",
		}, labels),
		JobsSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhandler_jobs_succeeded_total",
			Help: "Total number of jobs completed and acknowledged.",
		}, labels),
		JobsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhandler_jobs_retried_total",
			Help: "Total number of jobs requeued for retry after a failure.",
		}, labels),
		JobsDeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhandler_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue.",
		}, labels),
		LeasesLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhandler_leases_lost_total",
			Help: "Total number of jobs abandoned after losing the lease mid-execution.",
		}, labels),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobhandler_job_duration_seconds",
			Help:    "Duration of successful job executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, labels),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.JobsEnqueued.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(_ context.Context, j *job.Job) error {
	m.JobsClaimed.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(_ context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobsSucceeded.WithLabelValues(j.Kind, j.Queue).Inc()
	m.JobDuration.WithLabelValues(j.Kind, j.Queue).Observe(elapsed.Seconds())
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobsRetried.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(_ context.Context, j *job.Job, _ error) error {
	m.JobsDeadLettered.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}

// OnLeaseLost implements ext.LeaseLost.
func (m *MetricsExtension) OnLeaseLost(_ context.Context, j *job.Job) error {
	m.LeasesLost.WithLabelValues(j.Kind, j.Queue).Inc()
	return nil
}
