// Package memory provides a fully in-memory broker backend.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is an in-memory implementation of the job and DLQ stores.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
	dlqs map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
		dlqs: make(map[string]*dlq.Entry),
	}
}

// copyJob deep-copies a job so callers and the store never share the
// payload backing array or the lease timestamp pointers.
func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	cp.LeaseExpiresAt = copyTime(j.LeaseExpiresAt)
	cp.StartedAt = copyTime(j.StartedAt)
	cp.CompletedAt = copyTime(j.CompletedAt)
	return &cp
}

// copyEntry deep-copies a DLQ entry, same rationale as copyJob.
func copyEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	cp.ReplayedAt = copyTime(e.ReplayedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in queued state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobhandler.ErrJobAlreadyExists
	}
	cp := copyJob(j)
	if cp.State == "" {
		cp.State = job.StateQueued
	}
	m.jobs[key] = cp
	return nil
}

// ClaimNext atomically claims the next due queued job. Earlier queues in
// the slice take priority; within a queue the oldest RunAt wins.
func (m *Store) ClaimNext(_ context.Context, queues []string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	for _, q := range queues {
		var candidates []*job.Job
		for _, j := range m.jobs {
			if j.State != job.StateQueued || j.Queue != q {
				continue
			}
			if !j.RunAt.IsZero() && j.RunAt.After(now) {
				continue
			}
			candidates = append(candidates, j)
		}
		if len(candidates) == 0 {
			continue
		}

		sort.Slice(candidates, func(i, k int) bool {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		})

		j := candidates[0]
		j.State = job.StateInProgress
		j.WorkerID = workerID
		expires := now.Add(lease)
		j.LeaseExpiresAt = &expires
		started := now
		j.StartedAt = &started
		j.UpdatedAt = now

		// Return a copy so callers can mutate without racing with the store.
		return copyJob(j), nil
	}

	// No due job in any queue.
	return nil, nil
}

// RenewLease extends the lease deadline, provided the caller still owns
// the job and the lease has not already lapsed.
func (m *Store) RenewLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, extension time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobhandler.ErrJobNotFound
	}

	now := time.Now().UTC()
	if !m.ownsLease(j, workerID, now) {
		return jobhandler.ErrLeaseLost
	}

	expires := now.Add(extension)
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	return nil
}

// Acknowledge marks the job succeeded. A job that already succeeded is
// acknowledged again without error, so retried deliveries stay idempotent.
func (m *Store) Acknowledge(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobhandler.ErrJobNotFound
	}
	if j.State == job.StateSucceeded {
		return nil
	}

	now := time.Now().UTC()
	if !m.ownsLease(j, workerID, now) {
		return jobhandler.ErrLeaseLost
	}

	j.State = job.StateSucceeded
	completed := now
	j.CompletedAt = &completed
	j.WorkerID = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

// Requeue returns the job to queued state for a later retry.
func (m *Store) Requeue(_ context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobhandler.ErrJobNotFound
	}

	now := time.Now().UTC()
	if !m.ownsLease(j, workerID, now) {
		return jobhandler.ErrLeaseLost
	}

	j.State = job.StateQueued
	j.Attempts++
	j.LastError = lastErr
	j.RunAt = now.Add(delay)
	j.WorkerID = id.Nil
	j.LeaseExpiresAt = nil
	j.StartedAt = nil
	j.UpdatedAt = now
	return nil
}

// DeadLetter transitions the job to dead_lettered, recording the reason.
func (m *Store) DeadLetter(_ context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobhandler.ErrJobNotFound
	}

	now := time.Now().UTC()
	if !m.ownsLease(j, workerID, now) {
		return jobhandler.ErrLeaseLost
	}

	j.State = job.StateDeadLettered
	j.LastError = reason
	completed := now
	j.CompletedAt = &completed
	j.WorkerID = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

// RequeueExpired returns in-progress jobs with lapsed leases to queued
// state so another worker can reclaim them. Attempt counters are kept.
func (m *Store) RequeueExpired(_ context.Context) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var reclaimed []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateInProgress || !j.LeaseExpired(now) {
			continue
		}
		j.State = job.StateQueued
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
		j.StartedAt = nil
		j.RunAt = now
		j.UpdatedAt = now

		reclaimed = append(reclaimed, copyJob(j))
	}
	return reclaimed, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobhandler.ErrJobNotFound
	}
	return copyJob(j), nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, copyJob(j))
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ownsLease reports whether workerID currently holds a live lease on j.
// Callers must hold the write lock.
func (m *Store) ownsLease(j *job.Job, workerID id.WorkerID, now time.Time) bool {
	if j.State != job.StateInProgress {
		return false
	}
	if j.WorkerID.String() != workerID.String() {
		return false
	}
	return !j.LeaseExpired(now)
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a dead-lettered job entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = copyEntry(entry)
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		result = append(result, copyEntry(e))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, jobhandler.ErrDLQNotFound
	}
	return copyEntry(e), nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return jobhandler.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}
