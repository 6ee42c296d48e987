package jobhandler

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Queue naming mirrors the enqueue side: the enqueue service posts to
// "<prefix>door43_job_handler" and finished conversions land on the
// "_callback" queue, which is polled at higher priority.
const (
	EnqueueName    = "door43_job_handler"
	CallbackSuffix = "_callback"
)

// Config holds configuration for the worker. Fields are populated from
// environment variables by Load; zero values fall back to DefaultConfig.
type Config struct {
	// RedisURL is the broker connection string.
	RedisURL string `env:"REDIS_URL" envDefault:"redis://127.0.0.1:6379"`

	// QueuePrefix namespaces all queues and broker keys. Set to "dev-"
	// for development deployments.
	QueuePrefix string `env:"QUEUE_PREFIX"`

	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int `env:"JOB_CONCURRENCY" envDefault:"1"`

	// PollInterval is the bounded sleep between empty claim attempts.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	// LeaseDuration is how long a claimed job stays owned by a worker
	// before other workers may reclaim it.
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"60s"`

	// RenewalInterval is the cadence of lease renewal while a handler
	// runs. Must be at most half the lease duration so the race window
	// between the last renewal and handler completion stays covered.
	RenewalInterval time.Duration `env:"RENEWAL_INTERVAL" envDefault:"20s"`

	// MaxAttempts is the retry budget before a job is dead-lettered.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// BackoffBase and BackoffCap bound the exponential retry delay
	// (base * 2^attempt, capped).
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffCap  time.Duration `env:"BACKOFF_CAP" envDefault:"5m"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on
	// graceful shutdown before their leases are left to expire.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// StartupPingAttempts bounds broker connection retries at startup;
	// exhausting them is an unrecoverable failure (non-zero exit).
	StartupPingAttempts int `env:"STARTUP_PING_ATTEMPTS" envDefault:"5"`

	// DatabaseURL, when set, enables the Postgres dead-letter archive.
	DatabaseURL string `env:"DATABASE_URL"`

	// Debug switches logging to verbose text output.
	Debug bool `env:"DEBUG_MODE"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		RedisURL:            "redis://127.0.0.1:6379",
		Concurrency:         1,
		PollInterval:        1 * time.Second,
		LeaseDuration:       60 * time.Second,
		RenewalInterval:     20 * time.Second,
		MaxAttempts:         3,
		BackoffBase:         1 * time.Second,
		BackoffCap:          5 * time.Minute,
		ShutdownTimeout:     30 * time.Second,
		StartupPingAttempts: 5,
	}
}

// Load parses Config from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("jobhandler: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would silently break lease semantics.
func (c Config) Validate() error {
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("jobhandler: lease duration must be positive, got %v", c.LeaseDuration)
	}
	if c.RenewalInterval <= 0 {
		return fmt.Errorf("jobhandler: renewal interval must be positive, got %v", c.RenewalInterval)
	}
	// Lease duration must cover at least two renewal intervals so a missed
	// renewal does not immediately forfeit ownership.
	if c.LeaseDuration < 2*c.RenewalInterval {
		return fmt.Errorf("jobhandler: lease duration %v must be at least twice the renewal interval %v",
			c.LeaseDuration, c.RenewalInterval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("jobhandler: max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

// WebhookQueue returns the prefixed primary queue name.
func (c Config) WebhookQueue() string {
	return c.QueuePrefix + EnqueueName
}

// CallbackQueue returns the prefixed callback queue name. Callbacks finish
// off outstanding jobs, so workers poll this queue first.
func (c Config) CallbackQueue() string {
	return c.QueuePrefix + EnqueueName + CallbackSuffix
}

// Queues returns the queues a worker polls, highest priority first.
func (c Config) Queues() []string {
	return []string{c.CallbackQueue(), c.WebhookQueue()}
}
