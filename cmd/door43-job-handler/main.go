// Command door43-job-handler runs the Door43 conversion job worker.
// The bare binary starts the worker pool; the migrate subcommand applies
// the Postgres DLQ archive schema and exits.
//
// Configuration comes from the environment (REDIS_URL, QUEUE_PREFIX,
// JOB_CONCURRENCY, DATABASE_URL, DEBUG_MODE, ...); see the root package
// Config for the full list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
	"github.com/unfoldingWord/door43-job-handler/dlq"
	"github.com/unfoldingWord/door43-job-handler/engine"
	"github.com/unfoldingWord/door43-job-handler/job"
	"github.com/unfoldingWord/door43-job-handler/observability"
	"github.com/unfoldingWord/door43-job-handler/store/postgres"
	redisstore "github.com/unfoldingWord/door43-job-handler/store/redis"
)

// reaperInterval is how often the scheduler-enabled worker scans for
// jobs whose lease has lapsed.
const reaperInterval = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "door43-job-handler",
		Short: "Door43 conversion job worker",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runWorker,
	}
	root.Flags().String("name", "", "worker name used in logs (default: hostname)")
	root.Flags().Bool("with-scheduler", false, "also run the lease reaper (one per deployment)")
	root.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")

	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := jobhandler.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			name = "unknown"
		}
	}
	logger = logger.With(slog.String("worker_name", name))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, err := newRedisClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer client.Close() //nolint:errcheck

	store := redisstore.New(client, redisstore.WithLogger(logger))

	// The DLQ archive lives in Postgres when DATABASE_URL is set; jobs and
	// their queues stay in Redis either way.
	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithExtension(observability.NewMetricsExtension()),
	}
	var dlqStore dlq.Store = store
	if cfg.DatabaseURL != "" {
		pg, pgErr := postgres.New(ctx, cfg.DatabaseURL)
		if pgErr != nil {
			return fmt.Errorf("dlq archive: %w", pgErr)
		}
		defer pg.Close() //nolint:errcheck
		if migErr := pg.Migrate(ctx); migErr != nil {
			return fmt.Errorf("dlq archive migrate: %w", migErr)
		}
		dlqStore = pg
		logger.Info("dead letter archive enabled", slog.String("backend", "postgres"))
	}

	if withScheduler, _ := cmd.Flags().GetBool("with-scheduler"); withScheduler {
		engOpts = append(engOpts, engine.WithReaper(reaperInterval))
		logger.Info("lease reaper enabled", slog.Duration("interval", reaperInterval))
	}

	eng, err := engine.New(cfg, store, dlqStore, engOpts...)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	// Smoke-test kind: enqueue {"kind": "noop"} to verify the pipeline
	// end to end without touching any conversion backend.
	if err := engine.Register(eng, job.NewDefinition("noop", func(_ context.Context, _ struct{}) error {
		return nil
	})); err != nil {
		return fmt.Errorf("register noop: %w", err)
	}

	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("worker started",
		slog.Any("queues", cfg.Queues()),
		slog.Int("concurrency", cfg.Concurrency),
	)

	<-ctx.Done()
	stop() // release signal notification

	logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres DLQ archive schema and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := jobhandler.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL not set")
	}

	slog.SetDefault(newLogger(cfg))

	pg, err := postgres.New(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pg.Close() //nolint:errcheck

	if err := pg.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("migrations complete")
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// newRedisClient connects to the broker, retrying the startup ping with
// linear backoff. Exhausting the attempts is unrecoverable.
func newRedisClient(ctx context.Context, cfg jobhandler.Config, logger *slog.Logger) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)

	var pingErr error
	for attempt := 1; attempt <= cfg.StartupPingAttempts; attempt++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			return client, nil
		}
		logger.Warn("broker not ready, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", pingErr.Error()),
		)
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			client.Close() //nolint:errcheck
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	client.Close() //nolint:errcheck
	return nil, fmt.Errorf("%w after %d attempts: %v",
		jobhandler.ErrBrokerUnavailable, cfg.StartupPingAttempts, pingErr)
}

// newLogger builds the process logger: verbose text in debug mode, JSON
// otherwise.
func newLogger(cfg jobhandler.Config) *slog.Logger {
	if cfg.Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// serveMetrics exposes the Prometheus metrics endpoint. Failures are
// logged, not fatal: a broken metrics listener should not take the
// worker down.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
}
