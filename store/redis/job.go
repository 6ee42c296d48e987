package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's Sorted
// Set, scored by its eligibility time.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return jobhandler.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, s.jobIDsKey(), jID)
	pipe.ZAdd(ctx, s.queueKey(j.Queue), goredis.Z{
		Score:  float64(j.RunAt.UnixMilli()),
		Member: jID,
	})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("jobhandler/redis: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the next due job. Queues are tried in
// order, so earlier queues take priority.
func (s *Store) ClaimNext(ctx context.Context, queues []string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	deadline := now.Add(lease)

	for _, q := range queues {
		res, err := claimScript.Run(ctx, s.client,
			[]string{s.queueKey(q), s.inflightKey()},
			now.UnixMilli(),
			deadline.UnixMilli(),
			workerID.String(),
			s.prefix,
			deadline.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
		).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue // nothing due in this queue
			}
			return nil, fmt.Errorf("jobhandler/redis: claim next: %w", err)
		}

		jID, ok := res.(string)
		if !ok || jID == "" {
			continue
		}
		return s.getJobByKey(ctx, s.jobKey(jID))
	}

	// No due job in any queue.
	return nil, nil
}

// RenewLease extends the lease deadline if the caller still owns the job.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, extension time.Duration) error {
	now := time.Now().UTC()
	deadline := now.Add(extension)

	res, err := renewScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID.String()), s.inflightKey()},
		workerID.String(),
		jobID.String(),
		now.UnixMilli(),
		deadline.UnixMilli(),
		deadline.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: renew lease: %w", err)
	}
	return scriptOutcome(res)
}

// Acknowledge marks the job succeeded and removes it from the inflight set.
func (s *Store) Acknowledge(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	now := time.Now().UTC()

	res, err := ackScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID.String()), s.inflightKey()},
		workerID.String(),
		jobID.String(),
		now.UnixMilli(),
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: acknowledge: %w", err)
	}
	return scriptOutcome(res)
}

// Requeue returns the job to its queue for a later retry.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration, lastErr string) error {
	now := time.Now().UTC()
	runAt := now.Add(delay)

	res, err := requeueScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID.String()), s.inflightKey()},
		workerID.String(),
		jobID.String(),
		now.UnixMilli(),
		runAt.UnixMilli(),
		runAt.Format(time.RFC3339Nano),
		lastErr,
		s.prefix,
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: requeue: %w", err)
	}
	return scriptOutcome(res)
}

// DeadLetter transitions the job to dead_lettered, recording the reason.
func (s *Store) DeadLetter(ctx context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error {
	now := time.Now().UTC()

	res, err := deadLetterScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID.String()), s.inflightKey()},
		workerID.String(),
		jobID.String(),
		now.UnixMilli(),
		reason,
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: dead letter: %w", err)
	}
	return scriptOutcome(res)
}

// requeueExpiredBatch bounds how many lapsed leases one reaper pass
// reclaims, so a large backlog cannot stall the script.
const requeueExpiredBatch = 100

// RequeueExpired returns in-progress jobs with lapsed leases to their
// queues so other workers can reclaim them.
func (s *Store) RequeueExpired(ctx context.Context) ([]*job.Job, error) {
	now := time.Now().UTC()

	res, err := requeueExpiredScript.Run(ctx, s.client,
		[]string{s.inflightKey()},
		now.UnixMilli(),
		s.prefix,
		now.Format(time.RFC3339Nano),
		requeueExpiredBatch,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: requeue expired: %w", err)
	}

	ids, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}

	reclaimed := make([]*job.Job, 0, len(ids))
	for _, v := range ids {
		jID, ok := v.(string)
		if !ok {
			continue
		}
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			continue // deleted between reclaim and fetch
		}
		reclaimed = append(reclaimed, j)
	}
	return reclaimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.jobKey(jobID.String()))
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("jobhandler/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// scriptOutcome maps the shared script return convention to errors.
func scriptOutcome(res interface{}) error {
	switch res {
	case "ok":
		return nil
	case "lost":
		return jobhandler.ErrLeaseLost
	case "not_found":
		return jobhandler.ErrJobNotFound
	default:
		return fmt.Errorf("jobhandler/redis: unexpected script result %v", res)
	}
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"kind":         j.Kind,
		"queue":        j.Queue,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.LeaseExpiresAt != nil {
		m["lease_expires_at"] = j.LeaseExpiresAt.Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobhandler.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])            //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])     //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: jobhandler.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Kind:        m["kind"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		RunAt:       runAt,
		Timeout:     time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["lease_expires_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.LeaseExpiresAt = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}
