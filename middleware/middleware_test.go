package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
	"github.com/unfoldingWord/door43-job-handler/middleware"
)

// ── chain ─────────────────────────────────────────────────────────────────────

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Kind: "test", ID: id.NewJobID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), j, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false

	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// ── recover ───────────────────────────────────────────────────────────────────

func TestRecover_PanicBecomesRetryableFailure(t *testing.T) {
	mw := middleware.Recover(discardLogger())
	j := &job.Job{Kind: "panicky", ID: id.NewJobID(), Attempts: 1}

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in job panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
	// A panic must stay retryable so the budget, not the panic itself,
	// decides when the job dead-letters.
	if jobhandler.IsFatal(err) {
		t.Error("panic error classified as fatal")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(discardLogger())
	j := &job.Job{Kind: "normal", ID: id.NewJobID()}

	called := false
	err := mw(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

// ── logging ───────────────────────────────────────────────────────────────────

func TestLogging_ClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		wantLevel   slog.Level
		wantMessage string
	}{
		{
			name:        "success",
			handlerErr:  nil,
			wantLevel:   slog.LevelInfo,
			wantMessage: "job attempt succeeded",
		},
		{
			name:        "retryable failure",
			handlerErr:  errors.New("gitea unreachable"),
			wantLevel:   slog.LevelWarn,
			wantMessage: "job attempt failed",
		},
		{
			name:        "fatal failure",
			handlerErr:  jobhandler.Fatal(errors.New("malformed payload")),
			wantLevel:   slog.LevelError,
			wantMessage: "job attempt failed permanently",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := &capturingHandler{}
			mw := middleware.Logging(slog.New(capture))
			j := &job.Job{
				Kind:        "convert",
				ID:          id.NewJobID(),
				Queue:       "door43_job_handler",
				Attempts:    1,
				MaxAttempts: 3,
			}

			err := mw(context.Background(), j, func(_ context.Context) error {
				return tt.handlerErr
			})
			if !errors.Is(err, tt.handlerErr) {
				t.Fatalf("expected %v, got %v", tt.handlerErr, err)
			}

			last, ok := capture.last()
			if !ok {
				t.Fatal("no log records captured")
			}
			if last.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", last.Level, tt.wantLevel)
			}
			if last.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", last.Message, tt.wantMessage)
			}
		})
	}
}

// ── metrics and tracing ───────────────────────────────────────────────────────

func TestMetrics_PropagatesError(t *testing.T) {
	mw := middleware.MetricsWithMeter(metricnoop.NewMeterProvider().Meter("test"))
	j := &job.Job{Kind: "convert", ID: id.NewJobID(), Queue: "door43_job_handler"}
	want := errors.New("conversion failed")

	err := mw(context.Background(), j, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTracing_PropagatesError(t *testing.T) {
	mw := middleware.TracingWithTracer(tracenoop.NewTracerProvider().Tracer("test"))
	j := &job.Job{Kind: "convert", ID: id.NewJobID(), Queue: "door43_job_handler", MaxAttempts: 3}
	want := jobhandler.Fatal(errors.New("unusable payload"))

	err := mw(context.Background(), j, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func discardLogger() *slog.Logger {
	return slog.New(&capturingHandler{})
}

// capturingHandler records slog output so tests can assert on levels
// and messages.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *capturingHandler) WithGroup(string) slog.Handler { return h }

func (h *capturingHandler) last() (slog.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return slog.Record{}, false
	}
	return h.records[len(h.records)-1], true
}
