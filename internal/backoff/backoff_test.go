package backoff_test

import (
	"testing"
	"time"

	"meetsync/internal/backoff"
	"meetsync/internal/config"
)

func TestFixedDelay(t *testing.T) {
	policy := backoff.Fixed{Interval: 5 * time.Minute}
	for attempts := 1; attempts <= 4; attempts++ {
		if got := policy.Delay(attempts); got != 5*time.Minute {
			t.Fatalf("Delay(%d) = %v, want 5m", attempts, got)
		}
	}
}

func TestExponentialDelay(t *testing.T) {
	policy := backoff.Exponential{Base: time.Minute, Max: 10 * time.Minute}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{60, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempts); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestForSourceStrategies(t *testing.T) {
	cfg := config.Default()
	policy, err := backoff.ForSource(&cfg, config.SourceCache)
	if err != nil {
		t.Fatalf("ForSource returned error: %v", err)
	}
	if _, ok := policy.(backoff.Fixed); !ok {
		t.Fatalf("expected fixed policy by default, got %T", policy)
	}

	cfg.Sync.Backoff = config.BackoffExponential
	policy, err = backoff.ForSource(&cfg, config.SourceCache)
	if err != nil {
		t.Fatalf("ForSource returned error: %v", err)
	}
	if _, ok := policy.(backoff.Exponential); !ok {
		t.Fatalf("expected exponential policy, got %T", policy)
	}

	cfg.Sync.Backoff = "random"
	if _, err := backoff.ForSource(&cfg, config.SourceCache); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestForSourceUsesSourceRetryInterval(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.BackoffBaseSeconds = 300
	cfg.Sources.Bridge.RetryIntervalMinutes = 15

	bridge, err := backoff.ForSource(&cfg, config.SourceBridge)
	if err != nil {
		t.Fatalf("ForSource returned error: %v", err)
	}
	if got := bridge.Delay(1); got != 15*time.Minute {
		t.Fatalf("bridge Delay = %v, want 15m", got)
	}

	cache, err := backoff.ForSource(&cfg, config.SourceCache)
	if err != nil {
		t.Fatalf("ForSource returned error: %v", err)
	}
	if got := cache.Delay(1); got != 5*time.Minute {
		t.Fatalf("cache Delay = %v, want shared 5m", got)
	}

	cfg.Sync.Backoff = config.BackoffExponential
	exp, err := backoff.ForSource(&cfg, config.SourceBridge)
	if err != nil {
		t.Fatalf("ForSource returned error: %v", err)
	}
	if got := exp.Delay(2); got != 10*time.Minute {
		t.Fatalf("exponential Delay(2) = %v, want 10m", got)
	}
}
