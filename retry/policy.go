// Package retry decides what happens to a failed job: requeue with a
// backoff delay, or move to the dead letter queue.
//
// The decision is purely a function of (attempt count, error
// classification). Handlers signal retryability explicitly via
// jobhandler.Fatal / jobhandler.Retryable; the policy never guesses from
// error text.
package retry

import (
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/backoff"
)

// Action is the outcome of a retry decision.
type Action int

const (
	// ActionRequeue returns the job to the queue after Decision.Delay.
	ActionRequeue Action = iota
	// ActionDeadLetter moves the job to the dead letter queue.
	ActionDeadLetter
)

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Action Action
	// Delay is the requeue delay; meaningful only for ActionRequeue.
	Delay time.Duration
}

// Policy maps a failed attempt to a Decision.
type Policy struct {
	// MaxAttempts is the total attempt budget. A job whose failure count
	// reaches this budget is dead-lettered.
	MaxAttempts int
	// Backoff computes the requeue delay from the pre-failure attempt
	// count.
	Backoff backoff.Strategy
}

// New creates a Policy with the given budget and backoff strategy.
// A nil strategy falls back to backoff.Default().
func New(maxAttempts int, strategy backoff.Strategy) *Policy {
	if strategy == nil {
		strategy = backoff.Default()
	}
	return &Policy{MaxAttempts: maxAttempts, Backoff: strategy}
}

// Decide returns the verdict for a job that has failed again.
//
// attempts is the number of attempts completed BEFORE this failure (the
// job's stored counter at claim time): the first failure passes 0. Fatal
// errors dead-letter immediately regardless of the count; retryable
// errors requeue with backoff until attempts+1 reaches MaxAttempts.
func (p *Policy) Decide(attempts int, err error) Decision {
	if jobhandler.IsFatal(err) {
		return Decision{Action: ActionDeadLetter}
	}
	if attempts+1 >= p.MaxAttempts {
		return Decision{Action: ActionDeadLetter}
	}
	return Decision{Action: ActionRequeue, Delay: p.Backoff.Delay(attempts)}
}
