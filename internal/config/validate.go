package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	for _, check := range []func() error{
		c.validateLedger,
		c.validateSync,
		c.validateBackfill,
		c.validateSources,
		c.validateNotifications,
		c.validateLogging,
	} {
		if err := check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Backend {
	case LedgerSQLite:
		if strings.TrimSpace(c.Paths.StateDir) == "" && c.Ledger.DSN == "" {
			return errors.New("paths.state_dir must be set when ledger.dsn is empty")
		}
	case LedgerPostgres:
		if c.Ledger.DSN == "" {
			return errors.New("ledger.dsn must be set when ledger.backend is postgres (or set MEETSYNC_LEDGER_DSN)")
		}
	default:
		return fmt.Errorf("ledger.backend: unsupported value %q", c.Ledger.Backend)
	}
	return nil
}

func (c *Config) validateSync() error {
	if err := ensurePositiveMap(map[string]int{
		"sync.max_attempts":           c.Sync.MaxAttempts,
		"sync.backoff_base_seconds":   c.Sync.BackoffBaseSeconds,
		"sync.call_timeout_seconds":   c.Sync.CallTimeoutSeconds,
		"sync.discovery_window_hours": c.Sync.DiscoveryWindowHours,
		"sync.error_retry_interval":   c.Sync.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	switch c.Sync.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("sync.backoff: unsupported value %q", c.Sync.Backoff)
	}
	if c.Sync.BackoffMaxSeconds < c.Sync.BackoffBaseSeconds {
		return errors.New("sync.backoff_max_seconds must be greater than or equal to sync.backoff_base_seconds")
	}
	if c.Sync.MatchThreshold <= 0 || c.Sync.MatchThreshold > 1 {
		return errors.New("sync.match_threshold must be between 0 (exclusive) and 1")
	}
	return nil
}

func (c *Config) validateBackfill() error {
	if c.Backfill.WindowDays <= 0 {
		return errors.New("backfill.window_days must be positive")
	}
	if c.Backfill.MinAttendees < 0 {
		return errors.New("backfill.min_attendees must not be negative")
	}
	return nil
}

func (c *Config) validateSources() error {
	if c.Sources.Cache.PollIntervalMinutes <= 0 {
		return errors.New("sources.cache.poll_interval_minutes must be positive")
	}
	if c.Sources.Bridge.PollIntervalMinutes <= 0 {
		return errors.New("sources.bridge.poll_interval_minutes must be positive")
	}
	if c.Sources.Cache.RetryIntervalMinutes < 0 || c.Sources.Bridge.RetryIntervalMinutes < 0 {
		return errors.New("sources.*.retry_interval_minutes must not be negative")
	}
	if c.Sources.Cache.Enabled && c.Sources.Cache.Path == "" {
		return errors.New("sources.cache.path must be set when sources.cache.enabled is true")
	}
	if c.Sources.Bridge.Enabled && c.Sources.Bridge.Endpoint == "" {
		return errors.New("sources.bridge.endpoint must be set when sources.bridge.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
