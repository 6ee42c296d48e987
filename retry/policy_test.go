package retry_test

import (
	"errors"
	"testing"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/backoff"
	"github.com/unfoldingWord/door43-job-handler/retry"
)

func TestPolicy_RetryableSequenceThenDeadLetter(t *testing.T) {
	// maxAttempts=3, base=1s: first failure requeues after 1s, second
	// after 2s, third failure exhausts the budget.
	p := retry.New(3, backoff.NewExponential(time.Second, time.Minute))
	transient := errors.New("upstream timed out")

	tests := []struct {
		attempts   int
		wantAction retry.Action
		wantDelay  time.Duration
	}{
		{0, retry.ActionRequeue, 1 * time.Second},
		{1, retry.ActionRequeue, 2 * time.Second},
		{2, retry.ActionDeadLetter, 0},
	}
	for _, tt := range tests {
		d := p.Decide(tt.attempts, transient)
		if d.Action != tt.wantAction {
			t.Errorf("Decide(%d).Action = %v, want %v", tt.attempts, d.Action, tt.wantAction)
		}
		if d.Action == retry.ActionRequeue && d.Delay != tt.wantDelay {
			t.Errorf("Decide(%d).Delay = %v, want %v", tt.attempts, d.Delay, tt.wantDelay)
		}
	}
}

func TestPolicy_DelayCappedAtMax(t *testing.T) {
	p := retry.New(10, backoff.NewExponential(time.Second, 4*time.Second))

	d := p.Decide(5, errors.New("transient"))
	if d.Action != retry.ActionRequeue {
		t.Fatalf("Decide(5).Action = %v, want requeue", d.Action)
	}
	if d.Delay != 4*time.Second {
		t.Errorf("Decide(5).Delay = %v, want %v (capped)", d.Delay, 4*time.Second)
	}
}

func TestPolicy_FatalDeadLettersImmediately(t *testing.T) {
	p := retry.New(10, backoff.NewExponential(time.Second, time.Minute))

	d := p.Decide(0, jobhandler.Fatal(errors.New("malformed manifest")))
	if d.Action != retry.ActionDeadLetter {
		t.Errorf("fatal error on first attempt: Action = %v, want dead-letter", d.Action)
	}
}

func TestPolicy_UnknownKindDeadLettersImmediately(t *testing.T) {
	p := retry.New(10, backoff.NewExponential(time.Second, time.Minute))

	d := p.Decide(0, jobhandler.ErrUnknownKind)
	if d.Action != retry.ActionDeadLetter {
		t.Errorf("unknown kind: Action = %v, want dead-letter", d.Action)
	}
}

func TestPolicy_ExplicitRetryableHonored(t *testing.T) {
	p := retry.New(3, backoff.NewConstant(time.Second))

	d := p.Decide(0, jobhandler.Retryable(errors.New("try again")))
	if d.Action != retry.ActionRequeue {
		t.Errorf("retryable error: Action = %v, want requeue", d.Action)
	}
}

func TestPolicy_NilStrategyFallsBack(t *testing.T) {
	p := retry.New(3, nil)
	d := p.Decide(0, errors.New("transient"))
	if d.Action != retry.ActionRequeue {
		t.Fatalf("Action = %v, want requeue", d.Action)
	}
	if d.Delay != time.Second {
		t.Errorf("Delay = %v, want 1s from default strategy", d.Delay)
	}
}
