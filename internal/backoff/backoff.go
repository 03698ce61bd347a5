// Package backoff computes retry delays for failed sync records.
package backoff

import (
	"fmt"
	"time"

	"meetsync/internal/config"
)

// Policy returns how long to wait before the next attempt, given the number
// of attempts already consumed (1 after the first failure).
type Policy interface {
	Delay(attempts int) time.Duration
}

// Fixed waits the same interval after every failure.
type Fixed struct {
	Interval time.Duration
}

// Delay implements Policy.
func (f Fixed) Delay(int) time.Duration {
	if f.Interval < 0 {
		return 0
	}
	return f.Interval
}

// Exponential doubles Base for each prior failure, capped at Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Policy.
func (e Exponential) Delay(attempts int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := e.Base
	for i := 1; i < attempts; i++ {
		next := delay * 2
		if next <= delay || (e.Max > 0 && next >= e.Max) {
			delay = e.Max
			break
		}
		delay = next
	}
	if e.Max > 0 && delay > e.Max {
		return e.Max
	}
	return delay
}

// ForSource builds the policy for one source. A fixed policy waits the
// source's retry_interval_minutes when set, otherwise backoff_base_seconds.
// Exponential backoff always uses the shared base and cap.
func ForSource(cfg *config.Config, source string) (Policy, error) {
	interval := time.Duration(cfg.Sync.BackoffBaseSeconds) * time.Second
	if d, ok := cfg.SourceDefaults(source); ok && d.RetryIntervalMinutes > 0 {
		interval = time.Duration(d.RetryIntervalMinutes) * time.Minute
	}
	return build(cfg, interval)
}

func build(cfg *config.Config, fixed time.Duration) (Policy, error) {
	switch cfg.Sync.Backoff {
	case config.BackoffFixed, "":
		return Fixed{Interval: fixed}, nil
	case config.BackoffExponential:
		return Exponential{
			Base: time.Duration(cfg.Sync.BackoffBaseSeconds) * time.Second,
			Max:  time.Duration(cfg.Sync.BackoffMaxSeconds) * time.Second,
		}, nil
	default:
		return nil, fmt.Errorf("backoff: unsupported strategy %q", cfg.Sync.Backoff)
	}
}
