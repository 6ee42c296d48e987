// Package ext defines the extension system for the worker.
// Extensions are notified of job lifecycle events (enqueued, claimed,
// succeeded, retrying, dead-lettered, lease lost) and can react to them —
// metrics, logging, tracing, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/unfoldingWord/door43-job-handler/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when a worker claims a job and begins executing it.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job finishes and is acknowledged.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is requeued for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDeadLettered is called when a job is moved to the dead letter queue.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, reason error) error
}

// LeaseLost is called when a worker loses its lease mid-execution and
// abandons the job without acknowledging.
type LeaseLost interface {
	OnLeaseLost(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
