package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/unfoldingWord/door43-job-handler/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. A panic becomes an ordinary (retryable) job failure: the retry
// policy decides its fate like any other error, and the worker process
// stays up. The panic value and stack are logged once, here, so the
// stack trace is not lost by the conversion.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_kind", j.Kind),
					slog.String("job_id", j.ID.String()),
					slog.String("queue", j.Queue),
					slog.Int("attempt", j.Attempts+1),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in job %s: %v", j.Kind, r)
			}
		}()
		return next(ctx)
	}
}
