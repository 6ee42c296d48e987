// Package lease keeps job leases alive while a handler runs.
//
// A Renewer is started for each claimed job. It renews the lease on a
// fixed interval until stopped, and reports loss of the lease so the
// worker can abandon the job without acknowledging it.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// Renewer periodically extends the lease on a single claimed job.
type Renewer struct {
	store     job.Store
	jobID     id.JobID
	workerID  id.WorkerID
	interval  time.Duration
	extension time.Duration
	onLost    func()
	logger    *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	lostOnce sync.Once
	mu       sync.Mutex
	lost     bool
	started  bool
}

// Config configures a Renewer.
type Config struct {
	// Interval is how often the lease is renewed. Must be shorter than
	// Extension or the lease can expire between renewals.
	Interval time.Duration

	// Extension is the duration each renewal extends the lease by.
	Extension time.Duration

	// OnLost is invoked at most once when the lease is detected as lost.
	// Optional.
	OnLost func()

	Logger *slog.Logger
}

// NewRenewer creates a lease renewer for the given claimed job. A
// non-positive Interval is clamped to half the Extension (or one second
// when that too is unset) so the renewal ticker always has a valid period.
func NewRenewer(store job.Store, jobID id.JobID, workerID id.WorkerID, cfg Config) *Renewer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = cfg.Extension / 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Renewer{
		store:     store,
		jobID:     jobID,
		workerID:  workerID,
		interval:  interval,
		extension: cfg.Extension,
		onLost:    cfg.OnLost,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the renewal loop. It must be called at most once.
func (r *Renewer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.loop(ctx)
}

// Stop halts the renewal loop and waits for it to exit. No renewals are
// issued after Stop returns. Safe to call multiple times.
func (r *Renewer) Stop() {
	r.mu.Lock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	started := r.started
	r.mu.Unlock()

	if started {
		<-r.doneCh
	}
}

// Lost reports whether the lease was detected as lost.
func (r *Renewer) Lost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *Renewer) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.RenewLease(ctx, r.jobID, r.workerID, r.extension); err != nil {
				if errors.Is(err, jobhandler.ErrLeaseLost) || errors.Is(err, jobhandler.ErrJobNotFound) {
					r.markLost()
					return
				}
				// Transient store errors are logged and the loop keeps
				// trying. The lease is only declared lost on a definitive
				// ownership failure.
				r.logger.Warn("lease renewal failed",
					slog.String("job_id", r.jobID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (r *Renewer) markLost() {
	r.mu.Lock()
	r.lost = true
	r.mu.Unlock()

	r.lostOnce.Do(func() {
		r.logger.Warn("job lease lost",
			slog.String("job_id", r.jobID.String()),
			slog.String("worker_id", r.workerID.String()),
		)
		if r.onLost != nil {
			r.onLost()
		}
	})
}
