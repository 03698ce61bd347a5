package testsupport

import (
	"path/filepath"
	"testing"

	"meetsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.TranscriptsDir = filepath.Join(base, "transcripts")
	cfgVal.Paths.MeetingsDir = filepath.Join(base, "meetings")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Sources.Cache.Path = filepath.Join(base, "cache")
	cfgVal.Sources.Cache.Watch = false
	cfgVal.Sources.Bridge.Endpoint = "http://127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxAttempts overrides the retry budget on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.MaxAttempts = n
	}
}

// WithSourceEnabled enables a source by default on the test config.
func WithSourceEnabled(source string) ConfigOption {
	return func(b *configBuilder) {
		switch source {
		case config.SourceCache:
			b.cfg.Sources.Cache.Enabled = true
		case config.SourceBridge:
			b.cfg.Sources.Bridge.Enabled = true
		default:
			b.t.Fatalf("unknown source %q", source)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
