package middleware

import (
	"context"

	"github.com/unfoldingWord/door43-job-handler/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the job being executed, and the next handler to call.
// Middleware MUST call next to continue the chain (unless intentionally
// short-circuiting).
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into a single Middleware. The first entry
// is the outermost wrapper:
//
//	Chain(logging, recovery) executes as logging → recovery → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return invoke(mws, ctx, j, next)
	}
}

// invoke runs the head of the chain, recursing into the tail as next.
func invoke(mws []Middleware, ctx context.Context, j *job.Job, next Handler) error {
	if len(mws) == 0 {
		return next(ctx)
	}
	return mws[0](ctx, j, func(ctx context.Context) error {
		return invoke(mws[1:], ctx, j, next)
	})
}
