package middleware

import (
	"context"
	"log/slog"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// Logging returns middleware that logs each attempt and its outcome.
// Failures are classified: a fatal error logs at Error level since the
// job is headed for the dead letter queue, while a retryable failure
// logs at Warn because the retry policy may schedule another attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attempt := j.Attempts + 1
		logger.Info("job attempt started",
			slog.String("job_kind", j.Kind),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", j.MaxAttempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			logger.Info("job attempt succeeded",
				slog.String("job_kind", j.Kind),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", elapsed),
			)
		case jobhandler.IsFatal(err):
			logger.Error("job attempt failed permanently",
				slog.String("job_kind", j.Kind),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Warn("job attempt failed",
				slog.String("job_kind", j.Kind),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", j.MaxAttempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}

		return err
	}
}
