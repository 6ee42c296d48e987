package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Kind is the unique identifier for this job type.
	Kind string

	// Handler processes the decoded payload. Returning an error wrapped
	// with jobhandler.Fatal dead-letters the job immediately; any other
	// error is retried with backoff.
	Handler func(ctx context.Context, payload T) error

	// Opts configures the attempt budget, queue, and timeout.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](kind string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Kind:    kind,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
