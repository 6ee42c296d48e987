package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/id"
)

// PushDLQ adds a dead-lettered job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	key := s.dlqKey(eID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, dlqToMap(entry))
	pipe.SAdd(ctx, s.dlqIDsKey(), eID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("jobhandler/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest
// failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.dlqIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, s.dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}

	sortEntriesByFailedAt(entries)

	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	} else if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	key := s.dlqKey(entryID.String())
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobhandler.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := s.dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return jobhandler.ErrDLQNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobhandler/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, s.dlqIDsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("jobhandler/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := s.dlqKey(eID)
		failedAtStr, getErr := s.client.HGet(ctx, key, "failed_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("jobhandler/redis: purge dlq get: %w", getErr)
		}

		failedAt, _ := time.Parse(time.RFC3339Nano, failedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if failedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.dlqIDsKey(), eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("jobhandler/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, s.dlqIDsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("jobhandler/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func sortEntriesByFailedAt(entries []*dlq.Entry) {
	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FailedAt.Before(entries[k].FailedAt)
	})
}

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"kind":         e.Kind,
		"queue":        e.Queue,
		"payload":      string(e.Payload),
		"reason":       e.Reason,
		"attempts":     strconv.Itoa(e.Attempts),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobhandler/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:          eID,
		JobID:       jobID,
		Kind:        m["kind"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Reason:      m["reason"],
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    failedAt,
		CreatedAt:   createdAt,
	}

	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
