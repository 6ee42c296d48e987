package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// meterName is the instrumentation scope name for worker metrics.
const meterName = "github.com/unfoldingWord/door43-job-handler"

// Metrics returns middleware that records per-attempt execution metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - jobhandler.job.duration (Float64Histogram): attempt time in
//     seconds, with attributes job_kind, queue, outcome
//   - jobhandler.job.executions (Int64Counter): total attempts, same
//     attributes
//   - jobhandler.job.attempts (Int64Histogram): recorded on success,
//     how many attempts the job took to succeed
//
// The outcome attribute distinguishes "succeeded", "failed_retryable"
// (the retry policy may run the job again) and "failed_fatal" (the job
// is headed for the dead letter queue).
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"jobhandler.job.duration",
		metric.WithDescription("Duration of a job attempt in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"jobhandler.job.executions",
		metric.WithDescription("Total number of job attempts"),
		metric.WithUnit("{attempt}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	attempts, aErr := meter.Int64Histogram(
		"jobhandler.job.attempts",
		metric.WithDescription("Attempts a job took to succeed"),
		metric.WithUnit("{attempt}"),
	)
	_ = aErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		outcome := "succeeded"
		switch {
		case err == nil:
		case jobhandler.IsFatal(err):
			outcome = "failed_fatal"
		default:
			outcome = "failed_retryable"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_kind", j.Kind),
			attribute.String("queue", j.Queue),
			attribute.String("outcome", outcome),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		if err == nil {
			attempts.Record(ctx, int64(j.Attempts)+1, metric.WithAttributes(
				attribute.String("job_kind", j.Kind),
				attribute.String("queue", j.Queue),
			))
		}

		return err
	}
}
