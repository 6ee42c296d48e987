// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware while keeping the job's
// lease alive, and a Pool that manages concurrent claim goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/ext"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
	"github.com/unfoldingWord/door43-job-handler/lease"
	"github.com/unfoldingWord/door43-job-handler/middleware"
	"github.com/unfoldingWord/door43-job-handler/retry"
)

// ExecutorConfig carries the identity and lease timing the Executor uses
// for every job it runs.
type ExecutorConfig struct {
	// WorkerID identifies this worker process in lease ownership checks.
	WorkerID id.WorkerID

	// LeaseDuration is how long each claim or renewal holds the job.
	LeaseDuration time.Duration

	// RenewalInterval is how often the lease is renewed while the
	// handler runs. Must be comfortably shorter than LeaseDuration.
	RenewalInterval time.Duration
}

// Executor runs a single claimed job through middleware and the
// registered handler, keeps its lease alive for the duration, and then
// resolves the outcome: acknowledge, requeue with backoff, or dead-letter.
type Executor struct {
	cfg        ExecutorConfig
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	policy     *retry.Policy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	cfg ExecutorConfig,
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	policy *retry.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		cfg:        cfg,
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		policy:     policy,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one claimed job to resolution.
//
// An unknown kind is dead-lettered immediately without invoking any
// handler. Otherwise the handler runs under a lease renewer; if the
// lease is lost mid-execution the job is abandoned without
// acknowledging, so the reaper or another worker can pick it up.
// On success the job is acknowledged. On failure the retry policy
// decides between a delayed requeue and the dead letter queue.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Kind)
	if !ok {
		reason := fmt.Errorf("%w: %q", jobhandler.ErrUnknownKind, j.Kind)
		return e.sendToDLQ(ctx, j, reason)
	}

	// The handler runs under a deadline: the job's declared timeout, or
	// the lease duration when none is set, so a hung handler cannot
	// outlive its lease while the renewer keeps extending it. The
	// context is also cancelled the moment the lease is detected as lost.
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = e.cfg.LeaseDuration
	}
	var jobCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	renewer := lease.NewRenewer(e.store, j.ID, e.cfg.WorkerID, lease.Config{
		Interval:  e.cfg.RenewalInterval,
		Extension: e.cfg.LeaseDuration,
		OnLost:    cancel,
		Logger:    e.logger,
	})
	renewer.Start(ctx)

	start := time.Now()

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(jobCtx, j, terminal)
	elapsed := time.Since(start)

	// Join the renewer before resolving so no renewal races the
	// acknowledge/requeue below.
	renewer.Stop()

	if renewer.Lost() {
		return e.abandon(ctx, j)
	}

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}

	return e.handleSuccess(ctx, j, elapsed)
}

// handleSuccess acknowledges the job and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if ackErr := e.store.Acknowledge(ctx, j.ID, e.cfg.WorkerID); ackErr != nil {
		if errors.Is(ackErr, jobhandler.ErrLeaseLost) {
			return e.abandon(ctx, j)
		}
		e.logger.Error("failed to acknowledge job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_kind", j.Kind),
			slog.String("error", ackErr.Error()),
		)
		return ackErr
	}

	e.extensions.EmitJobSucceeded(ctx, j, elapsed)
	return nil
}

// handleFailure resolves a failed attempt through the retry policy.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	decision := e.decide(j, handlerErr)

	if decision.Action == retry.ActionDeadLetter {
		return e.sendToDLQ(ctx, j, handlerErr)
	}
	return e.scheduleRetry(ctx, j, handlerErr, decision.Delay)
}

// decide applies the retry policy, honoring a per-job attempt budget
// when the job carries one.
func (e *Executor) decide(j *job.Job, handlerErr error) retry.Decision {
	policy := e.policy
	if j.MaxAttempts > 0 && j.MaxAttempts != policy.MaxAttempts {
		policy = &retry.Policy{MaxAttempts: j.MaxAttempts, Backoff: e.policy.Backoff}
	}
	return policy.Decide(j.Attempts, handlerErr)
}

// scheduleRetry requeues the job with the backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, delay time.Duration) error {
	nextRunAt := time.Now().UTC().Add(delay)

	if reqErr := e.store.Requeue(ctx, j.ID, e.cfg.WorkerID, delay, handlerErr.Error()); reqErr != nil {
		if errors.Is(reqErr, jobhandler.ErrLeaseLost) {
			return e.abandon(ctx, j)
		}
		e.logger.Error("failed to requeue job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", reqErr.Error()),
		)
		return reqErr
	}

	attempt := j.Attempts + 1
	e.extensions.EmitJobRetrying(ctx, j, attempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Kind, attempt, j.MaxAttempts, handlerErr)
}

// sendToDLQ transitions the job to dead_lettered and archives it.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, reason error) error {
	if dlErr := e.store.DeadLetter(ctx, j.ID, e.cfg.WorkerID, reason.Error()); dlErr != nil {
		if errors.Is(dlErr, jobhandler.ErrLeaseLost) {
			return e.abandon(ctx, j)
		}
		e.logger.Error("failed to dead-letter job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", dlErr.Error()),
		)
		return dlErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, reason.Error()); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobDeadLettered(ctx, j, reason)

	e.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
		slog.Int("attempts", j.Attempts),
		slog.String("reason", reason.Error()),
	)

	return reason
}

// abandon gives up on a job whose lease was lost. The job is NOT
// acknowledged or requeued: whoever holds (or reaps) it now owns the
// outcome, preserving at-least-once delivery.
func (e *Executor) abandon(ctx context.Context, j *job.Job) error {
	e.extensions.EmitLeaseLost(ctx, j)

	e.logger.Warn("abandoning job after lease loss",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
	)

	return jobhandler.ErrLeaseLost
}
