package dlq

import (
	"context"
	"time"

	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service. The job store is used by Replay to
// re-enqueue entries as fresh jobs.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a dead-lettered job and persists it.
// The reason string is captured from the original failure.
func (s *Service) Push(ctx context.Context, j *job.Job, reason string) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		Kind:        j.Kind,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Reason:      reason,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Store returns the underlying DLQ store for direct access to List, Get,
// Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
