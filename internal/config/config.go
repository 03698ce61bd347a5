package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Source names recognised by the daemon.
const (
	SourceCache  = "cache"
	SourceBridge = "bridge"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir       string `toml:"state_dir"`
	TranscriptsDir string `toml:"transcripts_dir"`
	MeetingsDir    string `toml:"meetings_dir"`
	APIBind        string `toml:"api_bind"`
	APIToken       string `toml:"api_token"`
}

// Ledger selects the durable store for sync records.
type Ledger struct {
	Backend string `toml:"backend"`
	DSN     string `toml:"dsn"`
}

// Sync contains retry, timeout, and matching settings shared by every source.
type Sync struct {
	MaxAttempts          int     `toml:"max_attempts"`
	Backoff              string  `toml:"backoff"`
	BackoffBaseSeconds   int     `toml:"backoff_base_seconds"`
	BackoffMaxSeconds    int     `toml:"backoff_max_seconds"`
	CallTimeoutSeconds   int     `toml:"call_timeout_seconds"`
	MatchThreshold       float64 `toml:"match_threshold"`
	DiscoveryWindowHours int     `toml:"discovery_window_hours"`
	ErrorRetryInterval   int     `toml:"error_retry_interval"`
}

// Backfill contains eligibility rules for historical record creation.
type Backfill struct {
	WindowDays        int      `toml:"window_days"`
	MinAttendees      int      `toml:"min_attendees"`
	SkipTitles        []string `toml:"skip_titles"`
	OwnerEmail        string   `toml:"owner_email"`
	AutoOnFirstEnable bool     `toml:"auto_on_first_enable"`
}

// CacheSource configures the local cache scanner.
type CacheSource struct {
	Enabled              bool   `toml:"enabled"`
	PollIntervalMinutes  int    `toml:"poll_interval_minutes"`
	RetryIntervalMinutes int    `toml:"retry_interval_minutes"`
	Path                 string `toml:"path"`
	Glob                 string `toml:"glob"`
	Watch                bool   `toml:"watch"`
	WatchDebounceSeconds int    `toml:"watch_debounce_seconds"`
}

// BridgeSource configures the remote bridge poller.
type BridgeSource struct {
	Enabled              bool   `toml:"enabled"`
	PollIntervalMinutes  int    `toml:"poll_interval_minutes"`
	RetryIntervalMinutes int    `toml:"retry_interval_minutes"`
	Endpoint             string `toml:"endpoint"`
	Token                string `toml:"token"`
}

// Sources groups adapter configuration.
type Sources struct {
	Cache  CacheSource  `toml:"cache"`
	Bridge BridgeSource `toml:"bridge"`
}

// Notifications contains configuration for transcript consumer notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	NATSURL        string `toml:"nats_url"`
	NATSSubject    string `toml:"nats_subject"`
	Completed      bool   `toml:"completed"`
	Abandoned      bool   `toml:"abandoned"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for meetsync.
//
// Configuration sections by subsystem:
//   - Paths: state, transcript, and meeting directories plus the API bind address
//   - Ledger: sync record storage backend
//   - Sync: retry budget, backoff, and matcher threshold
//   - Backfill: historical window and eligibility rules
//   - Sources: per-adapter defaults
//   - Notifications: ntfy and NATS consumers
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Ledger        Ledger        `toml:"ledger"`
	Sync          Sync          `toml:"sync"`
	Backfill      Backfill      `toml:"backfill"`
	Sources       Sources       `toml:"sources"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// SourceDefaults is the startup view of a single source's settings.
// RetryIntervalMinutes is zero when the source uses sync.backoff_base_seconds.
type SourceDefaults struct {
	Name                 string
	Enabled              bool
	PollIntervalMinutes  int
	RetryIntervalMinutes int
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/meetsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("meetsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.TranscriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the JSON-RPC socket location inside the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "meetsync.sock")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "meetsync.lock")
}

// LedgerDSN returns the data source name for the configured ledger backend.
// The sqlite backend defaults to ledger.db inside the state directory.
func (c *Config) LedgerDSN() string {
	if dsn := strings.TrimSpace(c.Ledger.DSN); dsn != "" {
		return dsn
	}
	if c.Ledger.Backend == LedgerSQLite {
		return filepath.Join(c.Paths.StateDir, "ledger.db")
	}
	return ""
}

// CallTimeout bounds every adapter call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Sync.CallTimeoutSeconds) * time.Second
}

// DiscoveryWindow is how far back live discovery looks for meetings.
func (c *Config) DiscoveryWindow() time.Duration {
	return time.Duration(c.Sync.DiscoveryWindowHours) * time.Hour
}

// SourceNames lists every configured source in a stable order.
func (c *Config) SourceNames() []string {
	return []string{SourceCache, SourceBridge}
}

// SourceDefaults returns the startup defaults for the named source.
func (c *Config) SourceDefaults(name string) (SourceDefaults, bool) {
	switch name {
	case SourceCache:
		cache := c.Sources.Cache
		return SourceDefaults{Name: name, Enabled: cache.Enabled, PollIntervalMinutes: cache.PollIntervalMinutes, RetryIntervalMinutes: cache.RetryIntervalMinutes}, true
	case SourceBridge:
		bridge := c.Sources.Bridge
		return SourceDefaults{Name: name, Enabled: bridge.Enabled, PollIntervalMinutes: bridge.PollIntervalMinutes, RetryIntervalMinutes: bridge.RetryIntervalMinutes}, true
	default:
		return SourceDefaults{}, false
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
