package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLedger()
	c.normalizeSync()
	c.normalizeBackfill()
	if err := c.normalizeSources(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.TranscriptsDir, err = expandPath(c.Paths.TranscriptsDir); err != nil {
		return fmt.Errorf("paths.transcripts_dir: %w", err)
	}
	if c.Paths.MeetingsDir, err = expandPath(c.Paths.MeetingsDir); err != nil {
		return fmt.Errorf("paths.meetings_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MEETSYNC_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLedger() {
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = LedgerSQLite
	}
	c.Ledger.DSN = strings.TrimSpace(c.Ledger.DSN)
	if c.Ledger.DSN == "" && c.Ledger.Backend == LedgerPostgres {
		if value, ok := os.LookupEnv("MEETSYNC_LEDGER_DSN"); ok {
			c.Ledger.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeSync() {
	c.Sync.Backoff = strings.ToLower(strings.TrimSpace(c.Sync.Backoff))
	if c.Sync.Backoff == "" {
		c.Sync.Backoff = BackoffFixed
	}
	if c.Sync.BackoffMaxSeconds <= 0 {
		c.Sync.BackoffMaxSeconds = defaultBackoffMaxSeconds
	}
}

func (c *Config) normalizeBackfill() {
	c.Backfill.OwnerEmail = strings.ToLower(strings.TrimSpace(c.Backfill.OwnerEmail))
	if len(c.Backfill.SkipTitles) == 0 {
		return
	}
	titles := make([]string, 0, len(c.Backfill.SkipTitles))
	seen := make(map[string]struct{}, len(c.Backfill.SkipTitles))
	for _, title := range c.Backfill.SkipTitles {
		normalized := strings.ToLower(strings.TrimSpace(title))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		titles = append(titles, normalized)
	}
	c.Backfill.SkipTitles = titles
}

func (c *Config) normalizeSources() error {
	var err error
	if c.Sources.Cache.Path, err = expandPath(strings.TrimSpace(c.Sources.Cache.Path)); err != nil {
		return fmt.Errorf("sources.cache.path: %w", err)
	}
	c.Sources.Cache.Glob = strings.TrimSpace(c.Sources.Cache.Glob)
	if c.Sources.Cache.Glob == "" {
		c.Sources.Cache.Glob = defaultCacheGlob
	}
	if c.Sources.Cache.WatchDebounceSeconds <= 0 {
		c.Sources.Cache.WatchDebounceSeconds = defaultWatchDebounceSeconds
	}

	c.Sources.Bridge.Endpoint = strings.TrimRight(strings.TrimSpace(c.Sources.Bridge.Endpoint), "/")
	c.Sources.Bridge.Token = strings.TrimSpace(c.Sources.Bridge.Token)
	if c.Sources.Bridge.Token == "" {
		if value, ok := os.LookupEnv("MEETSYNC_BRIDGE_TOKEN"); ok {
			c.Sources.Bridge.Token = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.NATSURL = strings.TrimSpace(c.Notifications.NATSURL)
	c.Notifications.NATSSubject = strings.TrimSpace(c.Notifications.NATSSubject)
	if c.Notifications.NATSSubject == "" {
		c.Notifications.NATSSubject = defaultNATSSubject
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
