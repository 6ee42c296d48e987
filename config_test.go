package jobhandler_test

import (
	"testing"
	"time"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
)

func TestConfig_DefaultsValidate(t *testing.T) {
	cfg := jobhandler.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*jobhandler.Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(_ *jobhandler.Config) {},
		},
		{
			name:    "zero lease duration",
			mutate:  func(c *jobhandler.Config) { c.LeaseDuration = 0 },
			wantErr: true,
		},
		{
			name:    "zero renewal interval",
			mutate:  func(c *jobhandler.Config) { c.RenewalInterval = 0 },
			wantErr: true,
		},
		{
			name: "renewal interval too close to lease",
			mutate: func(c *jobhandler.Config) {
				c.LeaseDuration = 30 * time.Second
				c.RenewalInterval = 20 * time.Second
			},
			wantErr: true,
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *jobhandler.Config) { c.MaxAttempts = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jobhandler.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_QueueNames(t *testing.T) {
	cfg := jobhandler.DefaultConfig()

	if got := cfg.WebhookQueue(); got != "door43_job_handler" {
		t.Errorf("WebhookQueue() = %q, want %q", got, "door43_job_handler")
	}
	if got := cfg.CallbackQueue(); got != "door43_job_handler_callback" {
		t.Errorf("CallbackQueue() = %q, want %q", got, "door43_job_handler_callback")
	}

	cfg.QueuePrefix = "dev-"
	if got := cfg.WebhookQueue(); got != "dev-door43_job_handler" {
		t.Errorf("prefixed WebhookQueue() = %q, want %q", got, "dev-door43_job_handler")
	}

	// The callback queue drains first, so it is listed first.
	queues := cfg.Queues()
	if len(queues) != 2 {
		t.Fatalf("Queues() len = %d, want 2", len(queues))
	}
	if queues[0] != cfg.CallbackQueue() || queues[1] != cfg.WebhookQueue() {
		t.Errorf("Queues() = %v, want callback before webhook", queues)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://broker.internal:6380")
	t.Setenv("QUEUE_PREFIX", "dev-")
	t.Setenv("JOB_CONCURRENCY", "4")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("DEBUG_MODE", "true")

	cfg, err := jobhandler.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://broker.internal:6380" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.QueuePrefix != "dev-" {
		t.Errorf("QueuePrefix = %q", cfg.QueuePrefix)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	// Unset envs keep their defaults.
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
}
