package dlq

import (
	"context"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// Replay re-enqueues a DLQ entry as a new queued job and marks the entry
// as replayed. The new job gets a fresh ID, zero attempts, and is
// immediately claimable.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      jobhandler.NewEntity(),
		ID:          id.NewJobID(),
		Kind:        entry.Kind,
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StateQueued,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Surface the marking failure but
		// return the job so the caller can track it.
		return j, err
	}

	return j, nil
}
