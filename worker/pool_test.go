package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/backoff"
	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/ext"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
	"github.com/unfoldingWord/door43-job-handler/middleware"
	"github.com/unfoldingWord/door43-job-handler/retry"
	"github.com/unfoldingWord/door43-job-handler/store/memory"
	"github.com/unfoldingWord/door43-job-handler/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	dlqSvc := dlq.NewService(s, s)
	policy := retry.New(3, backoff.NewConstant(10*time.Millisecond))

	workerID := id.NewWorkerID()
	executor := worker.NewExecutor(
		worker.ExecutorConfig{
			WorkerID:        workerID,
			LeaseDuration:   time.Minute,
			RenewalInterval: 20 * time.Second,
		},
		reg, extensions, s, dlqSvc, policy, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithLeaseTTL(time.Minute),
		worker.WithWorkerID(workerID),
	)

	return pool, s, reg
}

func enqueueTestJob(t *testing.T, s *memory.Store, kind string, payload []byte, maxAttempts int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      jobhandler.NewEntity(),
		ID:          id.NewJobID(),
		Kind:        kind,
		Queue:       "default",
		Payload:     payload,
		State:       job.StateQueued,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	err := job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, p struct{ Name string }) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	payload, _ := json.Marshal(struct{ Name string }{Name: "Alice"})
	j := enqueueTestJob(t, s, "greet", payload, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be processed", processed.Load)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateSucceeded {
		t.Errorf("job state = %q, want %q", got.State, job.StateSucceeded)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestPool_UnknownKindIsDeadLettered(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond)

	j := enqueueTestJob(t, s, "no-such-kind", []byte(`{}`), 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be dead-lettered", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDeadLettered
	})
	stopPool(t, pool)

	got, _ := s.GetJob(context.Background(), j.ID)
	// The handler never ran, so the attempt counter never moved.
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}

	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list dlq error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}
	if entries[0].JobID.String() != j.ID.String() {
		t.Errorf("dlq entry for wrong job: %s", entries[0].JobID)
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int64
	err := job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		if calls.Add(1) < 3 {
			return errors.New("transient failure")
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	j := enqueueTestJob(t, s, "flaky", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to eventually succeed", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateSucceeded
	})
	stopPool(t, pool)

	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (two failed attempts before success)", got.Attempts)
	}
}

func TestPool_ExhaustedRetriesGoToDLQ(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int64
	err := job.RegisterDefinition(reg, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) error {
		calls.Add(1)
		return errors.New("always fails")
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	j := enqueueTestJob(t, s, "doomed", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be dead-lettered", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDeadLettered
	})
	stopPool(t, pool)

	// MaxAttempts = 3: two requeues, the third failure dead-letters.
	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}

	count, err := s.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("count dlq error: %v", err)
	}
	if count != 1 {
		t.Errorf("dlq count = %d, want 1", count)
	}
}

func TestPool_FatalErrorSkipsRetries(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int64
	err := job.RegisterDefinition(reg, job.NewDefinition("corrupt", func(_ context.Context, _ struct{}) error {
		calls.Add(1)
		return jobhandler.Fatal(errors.New("payload makes no sense"))
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	j := enqueueTestJob(t, s, "corrupt", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be dead-lettered", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDeadLettered
	})
	stopPool(t, pool)

	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1 (no retries for fatal errors)", got)
	}
}

func TestPool_PanickingHandlerIsRetried(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int64
	err := job.RegisterDefinition(reg, job.NewDefinition("panicky", func(_ context.Context, _ struct{}) error {
		if calls.Add(1) == 1 {
			panic("first attempt explodes")
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	j := enqueueTestJob(t, s, "panicky", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to recover and succeed", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateSucceeded
	})
	stopPool(t, pool)

	if got := calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

func TestPool_ReaperReclaimsExpiredLeases(t *testing.T) {
	logger := slog.Default()
	s := memory.New()

	// Simulate a crashed worker: claim with an already-lapsed lease.
	j := enqueueTestJob(t, s, "orphaned", nil, 3)
	if _, err := s.ClaimNext(context.Background(), []string{"default"}, id.NewWorkerID(), -time.Second); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	var processed atomic.Bool
	reg := job.NewRegistry()
	err := job.RegisterDefinition(reg, job.NewDefinition("orphaned", func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	extensions := ext.NewRegistry(logger)
	workerID := id.NewWorkerID()
	executor := worker.NewExecutor(
		worker.ExecutorConfig{
			WorkerID:        workerID,
			LeaseDuration:   time.Minute,
			RenewalInterval: 20 * time.Second,
		},
		reg, extensions, s, dlq.NewService(s, s), retry.New(3, nil), logger,
	)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithWorkerID(workerID),
		worker.WithReaperInterval(20*time.Millisecond),
	)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "reaper to reclaim and pool to process", processed.Load)
	stopPool(t, pool)

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateSucceeded {
		t.Errorf("job state = %q, want %q", got.State, job.StateSucceeded)
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	workerID := id.NewWorkerID()
	executor := worker.NewExecutor(
		worker.ExecutorConfig{
			WorkerID:        workerID,
			LeaseDuration:   time.Minute,
			RenewalInterval: 20 * time.Second,
		},
		reg, extensions, s, dlq.NewService(s, s),
		retry.New(3, backoff.NewConstant(10*time.Millisecond)), logger,
	)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithWorkerID(workerID),
	)

	var processed atomic.Bool
	err := job.RegisterDefinition(reg, job.NewDefinition("tracked", func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	enqueueTestJob(t, s, "tracked", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be processed", processed.Load)
	stopPool(t, pool)

	if !tracker.claimed.Load() {
		t.Error("expected OnJobClaimed to fire")
	}
	waitFor(t, "OnJobSucceeded to fire", tracker.succeeded.Load)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingExt records which hooks fired.
type trackingExt struct {
	claimed   atomic.Bool
	succeeded atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	e.claimed.Store(true)
	return nil
}

func (e *trackingExt) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.succeeded.Store(true)
	return nil
}
