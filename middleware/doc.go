// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied before each job
// executes. The first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Recover] — converts handler panics into retryable job failures
//   - [Logging] — logs each attempt, classifying failures as retryable
//     or permanent
//   - [Tracing] — wraps execution in an OpenTelemetry span carrying the
//     attempt budget
//   - [Metrics] — records per-attempt duration and outcome counters
//
// Execution deadlines are not middleware: the worker derives the job
// context deadline from the job's Timeout, falling back to the lease
// duration, before the chain runs. Every middleware therefore observes
// a context that cannot outlive the lease.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
