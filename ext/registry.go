package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/unfoldingWord/door43-job-handler/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobClaimedEntry struct {
	name string
	hook JobClaimed
}

type jobSucceededEntry struct {
	name string
	hook JobSucceeded
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type leaseLostEntry struct {
	name string
	hook LeaseLost
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued     []jobEnqueuedEntry
	jobClaimed      []jobClaimedEntry
	jobSucceeded    []jobSucceededEntry
	jobRetrying     []jobRetryingEntry
	jobDeadLettered []jobDeadLetteredEntry
	leaseLost       []leaseLostEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable hook
// caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobClaimed); ok {
		r.jobClaimed = append(r.jobClaimed, jobClaimedEntry{name, h})
	}
	if h, ok := e.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, jobSucceededEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, h})
	}
	if h, ok := e.(LeaseLost); ok {
		r.leaseLost = append(r.leaseLost, leaseLostEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobClaimed notifies all extensions that implement JobClaimed.
func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobClaimed {
		if err := e.hook.OnJobClaimed(ctx, j); err != nil {
			r.logHookError("OnJobClaimed", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all extensions that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, reason error) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, j, reason); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// EmitLeaseLost notifies all extensions that implement LeaseLost.
func (r *Registry) EmitLeaseLost(ctx context.Context, j *job.Job) {
	for _, e := range r.leaseLost {
		if err := e.hook.OnLeaseLost(ctx, j); err != nil {
			r.logHookError("OnLeaseLost", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
