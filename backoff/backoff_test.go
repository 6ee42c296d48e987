package backoff_test

import (
	"testing"
	"time"

	"github.com/unfoldingWord/door43-job-handler/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempts := 0; attempts <= 10; attempts++ {
		if got := c.Delay(attempts); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempts, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 1 * time.Second},  // 1 * 2^0
		{1, 2 * time.Second},  // 1 * 2^1
		{2, 4 * time.Second},  // 1 * 2^2
		{3, 8 * time.Second},  // 1 * 2^3
		{4, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempts); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	// attempts=4 → 16s > 10s cap → 10s.
	if got := e.Delay(4); got != 10*time.Second {
		t.Errorf("Delay(4) = %v, want %v (capped)", got, 10*time.Second)
	}
	// Large attempt counts must not overflow past the cap.
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want %v (capped)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempts := 0; attempts <= 4; attempts++ {
		for range 100 {
			got := e.Delay(attempts)
			if got < 0 {
				t.Errorf("Delay(%d) = %v, should be >= 0", attempts, got)
			}
			if got > 10*time.Second {
				t.Errorf("Delay(%d) = %v, should be <= %v", attempts, got, 10*time.Second)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestDefault_FirstDelayIsBase(t *testing.T) {
	s := backoff.Default()
	if s == nil {
		t.Fatal("Default() returned nil")
	}
	if got := s.Delay(0); got != time.Second {
		t.Errorf("Default().Delay(0) = %v, want 1s", got)
	}
}
