package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// tracerName is the instrumentation scope name for worker tracing.
const tracerName = "github.com/unfoldingWord/door43-job-handler"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through.
//
// Span attributes carry the job identity and the position in the retry
// budget: jobhandler.job.id, jobhandler.job.kind, jobhandler.queue,
// jobhandler.attempt, jobhandler.max_attempts. On failure the error is
// recorded on the span with jobhandler.error.fatal marking whether the
// job can still be retried.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobhandler.job.execute",
			trace.WithAttributes(
				attribute.String("jobhandler.job.id", j.ID.String()),
				attribute.String("jobhandler.job.kind", j.Kind),
				attribute.String("jobhandler.queue", j.Queue),
				attribute.Int("jobhandler.attempt", j.Attempts+1),
				attribute.Int("jobhandler.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("jobhandler.error.fatal", jobhandler.IsFatal(err)))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
