package job

import (
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting (or waiting again, after a
	// requeue) to be claimed by a worker.
	StateQueued State = "queued"
	// StateInProgress means a worker holds the lease and is executing
	// the job. An in-progress job always has a non-expired lease; once
	// the lease expires the job reverts to queued and may be reclaimed.
	StateInProgress State = "in_progress"
	// StateSucceeded means the job finished and was acknowledged.
	StateSucceeded State = "succeeded"
	// StateFailed means the last attempt failed; set transiently before
	// the job is requeued or dead-lettered.
	StateFailed State = "failed"
	// StateDeadLettered means the job was moved to the dead letter queue
	// and will never be retried automatically.
	StateDeadLettered State = "dead_lettered"
)

// Job represents a unit of work claimed and processed under a lease.
// Delivery is at-least-once: handlers must tolerate re-execution.
type Job struct {
	jobhandler.Entity

	ID          id.JobID  `json:"id"`
	Kind        string    `json:"kind"`
	Queue       string    `json:"queue"`
	Payload     []byte    `json:"payload"`
	State       State     `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	RunAt       time.Time `json:"run_at"`

	// Lease fields. WorkerID and LeaseExpiresAt together form the
	// ownership token; they are set atomically on claim and checked on
	// every renew/acknowledge/requeue/dead-letter.
	WorkerID       id.WorkerID `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// LeaseExpired reports whether the job's lease has lapsed at the given
// instant. Jobs without a lease are treated as expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.After(now)
}
