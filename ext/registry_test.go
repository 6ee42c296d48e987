package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/unfoldingWord/door43-job-handler/ext"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *allHooksExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobClaimed")
	return nil
}

func (e *allHooksExt) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobSucceeded")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobDeadLettered(_ context.Context, _ *job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobDeadLettered")
	return nil
}

func (e *allHooksExt) OnLeaseLost(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnLeaseLost")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// claimedOnlyExt implements a single hook.
type claimedOnlyExt struct {
	claimed int
}

func (e *claimedOnlyExt) Name() string { return "claimed-only" }

func (e *claimedOnlyExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	e.claimed++
	return nil
}

// failingExt returns an error from its hook; errors must be logged, not
// propagated.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	return errors.New("hook blew up")
}

func testJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), Kind: "convert", Queue: "door43_job_handler"}
}

func TestRegistry_EmitsAllHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	j := testJob()

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobClaimed(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobDeadLettered(ctx, j, errors.New("boom"))
	r.EmitLeaseLost(ctx, j)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobEnqueued", "OnJobClaimed", "OnJobSucceeded",
		"OnJobRetrying", "OnJobDeadLettered", "OnLeaseLost", "OnShutdown",
	}
	if len(e.calls) != len(want) {
		t.Fatalf("got %d hook calls %v, want %d", len(e.calls), e.calls, len(want))
	}
	for i := range want {
		if e.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], want[i])
		}
	}
}

func TestRegistry_PartialExtensionOnlySeesItsHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &claimedOnlyExt{}
	r.Register(e)

	ctx := context.Background()
	j := testJob()

	r.EmitJobClaimed(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitShutdown(ctx)

	if e.claimed != 1 {
		t.Errorf("claimed = %d, want 1", e.claimed)
	}
}

func TestRegistry_HookErrorDoesNotPropagate(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&failingExt{})
	after := &claimedOnlyExt{}
	r.Register(after)

	// Must not panic, and later extensions still run.
	r.EmitJobClaimed(context.Background(), testJob())

	if after.claimed != 1 {
		t.Errorf("extension after failing hook: claimed = %d, want 1", after.claimed)
	}
}

func TestRegistry_Extensions(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})
	r.Register(&claimedOnlyExt{})

	if got := len(r.Extensions()); got != 2 {
		t.Errorf("Extensions() len = %d, want 2", got)
	}
}
