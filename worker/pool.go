package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unfoldingWord/door43-job-handler/ext"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
)

// QueueManager controls per-queue rate limiting and concurrency. The
// worker pool calls Acquire before claiming from a queue and Release
// after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue.
	// Returns true if a claim from this queue may proceed.
	Acquire(queue string) bool
	// Release decrements the active count for the queue.
	Release(queue string)
}

// Pool manages a set of concurrent worker goroutines that claim jobs
// under a lease and execute them through the Executor. An optional
// reaper goroutine returns jobs with lapsed leases to their queues.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	leaseTTL     time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Reaper configuration. Zero disables the reaper.
	reaperInterval time.Duration

	// Queue manager (optional).
	queueManager QueueManager

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex

	// Consecutive claim failures across all workers. Escalates the log
	// level once the broker looks unavailable rather than silently
	// polling forever.
	claimFailures atomic.Int64
}

// brokerDownThreshold is the number of consecutive claim failures after
// which the pool reports the broker as unavailable.
const brokerDownThreshold = 10

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll, highest priority
// first.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long workers sleep when no job is due.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseTTL sets the lease duration requested on each claim.
func WithLeaseTTL(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseTTL = d }
}

// WithReaperInterval sets how often the pool scans for in-progress jobs
// with lapsed leases and returns them to their queues. A zero value
// disables the reaper; run exactly one reaper across the deployment.
func WithReaperInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reaperInterval = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithWorkerID overrides the generated worker identity. It must match
// the Executor's configured WorkerID or every claim will be abandoned.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  1,
		queues:       []string{"default"},
		pollInterval: time.Second,
		leaseTTL:     time.Minute,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	// Launch reaper goroutine if configured.
	if p.reaperInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out; unfinished jobs keep their leases and lapse back to queued.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	p.extensions.EmitShutdown(context.Background())
	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j := p.claimNext()
		if j == nil {
			p.sleep()
			continue
		}

		p.extensions.EmitJobClaimed(context.Background(), j)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		execErr := p.executor.Execute(ctx, j)
		if execErr != nil {
			p.logger.Debug("job execution did not succeed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_kind", j.Kind),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		if p.queueManager != nil {
			p.queueManager.Release(j.Queue)
		}
	}
}

// claimNext tries each queue in priority order, respecting the queue
// manager's limits. On a successful claim the queue slot stays held
// until the job finishes.
func (p *Pool) claimNext() *job.Job {
	for _, q := range p.queues {
		if p.queueManager != nil && !p.queueManager.Acquire(q) {
			continue
		}

		j, err := p.store.ClaimNext(context.Background(), []string{q}, p.workerID, p.leaseTTL)
		if err != nil {
			if p.queueManager != nil {
				p.queueManager.Release(q)
			}
			p.logger.Error("claim error",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
			if fails := p.claimFailures.Add(1); fails == brokerDownThreshold {
				p.logger.Error("broker unavailable: claim has failed repeatedly",
					slog.Int64("consecutive_failures", fails),
				)
			}
			continue
		}
		p.claimFailures.Store(0)
		if j == nil {
			if p.queueManager != nil {
				p.queueManager.Release(q)
			}
			continue
		}
		return j
	}
	return nil
}

// reaperLoop periodically returns jobs with lapsed leases to their queues.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *Pool) reapExpired() {
	reclaimed, err := p.store.RequeueExpired(context.Background())
	if err != nil {
		p.logger.Error("requeue expired error", slog.String("error", err.Error()))
		return
	}

	for _, j := range reclaimed {
		p.logger.Info("requeued job with lapsed lease",
			slog.String("job_id", j.ID.String()),
			slog.String("job_kind", j.Kind),
			slog.Int("attempts", j.Attempts),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
