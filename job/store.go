package job

import (
	"context"
	"time"

	"github.com/unfoldingWord/door43-job-handler/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store is the queue-client contract implemented by every broker backend.
//
// All operations must be safe to call concurrently from multiple worker
// processes without external locking; atomicity is guaranteed by the
// broker's native transaction or scripting primitive. Lease-checked
// operations (RenewLease, Acknowledge, Requeue, DeadLetter) return
// jobhandler.ErrLeaseLost when the caller no longer owns the job.
type Store interface {
	// EnqueueJob persists a new job in queued state. The job becomes
	// claimable once its RunAt time arrives.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimNext atomically claims the next due queued job from the given
	// queues (earlier queues have priority), transitions it to
	// in_progress owned by workerID with a lease of the given duration,
	// and returns it. Returns (nil, nil) when no job is due — an empty
	// queue is not an error.
	ClaimNext(ctx context.Context, queues []string, workerID id.WorkerID, lease time.Duration) (*Job, error)

	// RenewLease extends the lease deadline by the given extension from
	// now, provided workerID still owns the job. Returns ErrLeaseLost if
	// the lease expired and the job was reclaimed or resolved elsewhere.
	RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, extension time.Duration) error

	// Acknowledge marks the job succeeded and removes it from active
	// rotation. Acknowledging an already-succeeded job is a no-op, not
	// an error. Returns ErrLeaseLost if another worker owns the job.
	Acknowledge(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Requeue returns the job to queued state with a future eligibility
	// time of now+delay, increments its attempt counter, and records the
	// failure message. Returns ErrLeaseLost if the caller no longer owns
	// the job.
	Requeue(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error

	// DeadLetter transitions the job to dead_lettered, recording the
	// reason, and removes it from active rotation. Dead-lettered jobs
	// are never retried automatically.
	DeadLetter(ctx context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error

	// RequeueExpired returns in-progress jobs whose lease deadline has
	// passed to queued state so other workers can reclaim them. Attempt
	// counters are preserved. Returns the reclaimed jobs.
	RequeueExpired(ctx context.Context) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
