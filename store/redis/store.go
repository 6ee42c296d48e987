// Package redis implements the broker backend on Redis, mirroring the
// data model used by the original python-rq deployment: jobs are stored
// as Hashes, each queue is a Sorted Set scored by eligibility time, and
// in-progress jobs sit in an inflight Sorted Set scored by their lease
// deadline. Lease-checked transitions run as Lua scripts so claim,
// renew, acknowledge, requeue, and dead-letter stay atomic across
// competing worker processes.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// Compile-time interface checks.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix overrides the default key prefix. Useful for running
// dev and production queues on one Redis instance.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements the job and DLQ stores backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	prefix string
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), prefix: defaultKeyPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }
