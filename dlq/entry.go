package dlq

import (
	"time"

	"github.com/unfoldingWord/door43-job-handler/id"
)

// Entry represents a job that was dead-lettered: either its retry budget
// ran out or a handler flagged the failure as fatal.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	Kind        string     `json:"kind"`
	Queue       string     `json:"queue"`
	Payload     []byte     `json:"payload"`
	Reason      string     `json:"reason"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
