// Package engine wires all subsystems together: the job registry,
// extension registry, middleware chain, executor, worker pool, and DLQ
// service. It provides the Register/Enqueue/Start/Stop surface the
// application layer uses.
//
// This package exists to break the import cycle: the root jobhandler
// package defines Entity and Config (imported by job, dlq, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/backoff"
	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/ext"
	"github.com/unfoldingWord/door43-job-handler/id"
	"github.com/unfoldingWord/door43-job-handler/job"
	mw "github.com/unfoldingWord/door43-job-handler/middleware"
	"github.com/unfoldingWord/door43-job-handler/queue"
	"github.com/unfoldingWord/door43-job-handler/retry"
	"github.com/unfoldingWord/door43-job-handler/worker"
)

// Engine is the assembled worker: registry, extensions, middleware,
// executor, pool, and DLQ service over a single broker.
type Engine struct {
	cfg          jobhandler.Config
	logger       *slog.Logger
	extensions   *ext.Registry
	registry     *job.Registry
	jobStore     job.Store
	dlqService   *dlq.Service
	bo           backoff.Strategy
	policy       *retry.Policy
	pool         *worker.Pool
	mws          []mw.Middleware
	pendingExts  []ext.Extension
	queues       []string
	defaultQueue string

	// Queue subsystem (optional).
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// Reaper cadence; zero leaves lapsed leases to another process.
	reaperInterval time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = logger
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.pendingExts = append(eng.pendingExts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, exponential
// backoff built from Config.BackoffBase and Config.BackoffCap is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueues overrides the queues workers poll, highest priority first.
// The default is Config.Queues(): the callback queue, then the primary
// queue. The default enqueue queue is unaffected.
func WithQueues(queues []string) Option {
	return func(eng *Engine) {
		eng.queues = queues
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithReaper enables the lease reaper at the given interval: jobs whose
// lease has lapsed are returned to their queues. Run exactly one reaper
// across the deployment.
func WithReaper(interval time.Duration) Option {
	return func(eng *Engine) {
		eng.reaperInterval = interval
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// metrics middleware uses this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New assembles an Engine from a validated Config and a broker backend.
// jobStore and dlqStore are usually the same value (every store backend
// implements both interfaces).
func New(cfg jobhandler.Config, jobStore job.Store, dlqStore dlq.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if jobStore == nil || dlqStore == nil {
		return nil, jobhandler.ErrNoStore
	}

	eng := &Engine{
		cfg:          cfg,
		logger:       slog.Default(),
		registry:     job.NewRegistry(),
		jobStore:     jobStore,
		queues:       cfg.Queues(),
		defaultQueue: cfg.WebhookQueue(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// The extension registry needs the final logger, so it is created
	// after the options run.
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	if eng.bo == nil {
		eng.bo = backoff.NewExponential(cfg.BackoffBase, cfg.BackoffCap)
	}
	eng.policy = retry.New(cfg.MaxAttempts, eng.bo)
	eng.dlqService = dlq.NewService(dlqStore, jobStore)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/unfoldingWord/door43-job-handler")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/unfoldingWord/door43-job-handler")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	// Execution deadlines are not middleware: the executor bounds the
	// job context by the job's Timeout or the lease duration.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Executor and pool share one worker identity so the pool's claims
	// pass the executor's lease ownership checks.
	workerID := id.NewWorkerID()

	executor := worker.NewExecutor(
		worker.ExecutorConfig{
			WorkerID:        workerID,
			LeaseDuration:   cfg.LeaseDuration,
			RenewalInterval: cfg.RenewalInterval,
		},
		eng.registry, eng.extensions, eng.jobStore, eng.dlqService,
		eng.policy, eng.logger, allMws...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithWorkerID(workerID),
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(eng.queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithLeaseTTL(cfg.LeaseDuration),
	}
	if eng.reaperInterval > 0 {
		poolOpts = append(poolOpts, worker.WithReaperInterval(eng.reaperInterval))
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng.jobStore, executor, eng.extensions, eng.logger, poolOpts...)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers a raw handler for the given kind.
func (eng *Engine) RegisterFunc(kind string, h job.HandlerFunc, opts ...job.Option) error {
	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return eng.registry.RegisterFunc(kind, h, o)
}

// Enqueue marshals the payload and enqueues a job of the given kind.
// The kind's registration options are the defaults; opts override them
// per call.
func Enqueue[T any](ctx context.Context, eng *Engine, kind string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload for job kind %q: %v", jobhandler.ErrSerialization, kind, err)
	}
	return eng.EnqueueRaw(ctx, kind, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized JSON payload. The kind
// must be registered: an unknown kind fails here rather than after the
// job has been claimed.
func (eng *Engine) EnqueueRaw(ctx context.Context, kind string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts, ok := eng.registry.Opts(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", jobhandler.ErrUnknownKind, kind)
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      jobhandler.NewEntity(),
		ID:          id.NewJobID(),
		Kind:        kind,
		Queue:       eng.defaultQueue,
		Payload:     payload,
		State:       job.StateQueued,
		MaxAttempts: jobOpts.MaxAttempts,
		RunAt:       now.Add(jobOpts.Delay),
		Timeout:     jobOpts.Timeout,
	}
	if jobOpts.Queue != "" {
		j.Queue = jobOpts.Queue
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start seals the registry and begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	eng.registry.Seal()
	return eng.pool.Start(ctx)
}

// Stop gracefully shuts down the engine. If the context carries no
// deadline, Config.ShutdownTimeout is applied.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}
	return eng.pool.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// DLQService returns the DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// WorkerID returns this engine's worker identity.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }
