package job

import "time"

// Options configures per-job behavior such as the attempt budget, queue,
// and execution timeout.
type Options struct {
	// MaxAttempts is the retry budget before the job is dead-lettered.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to. Empty
	// means the engine's default (primary) queue.
	Queue string

	// Timeout is the maximum duration a job may run before being
	// cancelled. Zero means the worker's lease duration applies.
	Timeout time.Duration

	// Delay defers eligibility: the job cannot be claimed before
	// now+Delay. Zero means immediately claimable.
	Delay time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
	}
}

// Option is a functional option for configuring a job definition or an
// individual enqueue call.
type Option func(*Options)

// WithMaxAttempts sets the retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithDelay defers the job's eligibility by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}
