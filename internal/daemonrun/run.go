// Package daemonrun wires configuration, storage, adapters, and transports
// into a running meetsync daemon.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"meetsync/internal/backfill"
	"meetsync/internal/config"
	"meetsync/internal/control"
	"meetsync/internal/daemon"
	"meetsync/internal/ipc"
	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/meetings"
	"meetsync/internal/metrics"
	"meetsync/internal/notifications"
	"meetsync/internal/preflight"
	"meetsync/internal/scheduler"
	"meetsync/internal/sources"
	"meetsync/internal/sources/bridge"
	"meetsync/internal/sources/cachescan"
	"meetsync/internal/transcript"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the meetsync daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	baseLogger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.NewString()
	logger := baseLogger.With(logging.String(logging.FieldCorrelationID, runID))
	logConfigSnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "meetsync.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}
	defer store.Close()
	if result := preflight.CheckLedger(signalCtx, store); !result.Passed {
		logging.WarnWithContext(logger, "ledger health check failed", "ledger_unhealthy",
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "sync state may not persist reliably"),
		)
	} else {
		logger.Info("ledger ready", logging.String("detail", result.Detail))
	}
	if err := seedSources(signalCtx, cfg, store); err != nil {
		return err
	}

	registry, err := sources.NewRegistry(
		cachescan.New(cfg.Sources.Cache, logger),
		bridge.New(cfg.Sources.Bridge, logger),
	)
	if err != nil {
		return fmt.Errorf("register sources: %w", err)
	}

	notes := meetings.NewNoteStore(cfg.Paths.MeetingsDir)
	notifier := notifications.NewService(cfg, logger)
	defer notifier.Close()
	m := metrics.New()

	sched, err := scheduler.New(cfg, scheduler.Dependencies{
		Records:  store,
		Settings: store,
		Meetings: notes,
		Sources:  registry,
		Writer:   transcript.NewWriter(cfg.Paths.TranscriptsDir),
		Notifier: notifier,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	runner := backfill.New(cfg, store, notes, logger)
	ctl, err := control.New(store, sched, runner, logger, control.Options{AutoBackfill: cfg.Backfill.AutoOnFirstEnable})
	if err != nil {
		return fmt.Errorf("create control service: %w", err)
	}
	confirmConfiguredSources(signalCtx, logger, store, ctl)

	d, err := daemon.New(cfg, store, sched, ctl, m, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	var testNotifier notifications.Service
	if notifications.Configured(cfg) {
		testNotifier = notifier
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, testNotifier, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and ledger access"),
			logging.String(logging.FieldImpact, "no sources will be synchronized"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("meetsync daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func seedSources(ctx context.Context, cfg *config.Config, store *ledger.Store) error {
	var defaults []config.SourceDefaults
	for _, name := range cfg.SourceNames() {
		if d, ok := cfg.SourceDefaults(name); ok {
			defaults = append(defaults, d)
		}
	}
	if err := store.SeedSources(ctx, defaults); err != nil {
		return fmt.Errorf("seed sources: %w", err)
	}
	return nil
}

// confirmConfiguredSources routes sources enabled by configuration through
// SetEnabled the first time the daemon sees them, so they get the same
// first-enable backfill as a source enabled by the user.
func confirmConfiguredSources(ctx context.Context, logger *slog.Logger, store *ledger.Store, ctl *control.Service) {
	for _, name := range ctl.Sources() {
		settings, err := store.SourceSettings(ctx, name)
		if err != nil {
			logger.Warn("read source settings", logging.String(logging.FieldSource, name), logging.Error(err))
			continue
		}
		if !settings.Enabled || settings.EverEnabled {
			continue
		}
		if _, err := ctl.SetEnabled(ctx, name, true); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("confirm configured source", logging.String(logging.FieldSource, name), logging.Error(err))
		}
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "syncs depending on this check will fail until it is fixed"),
		)
	}
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("state_dir", cfg.Paths.StateDir),
		logging.String("meetings_dir", cfg.Paths.MeetingsDir),
		logging.String("transcripts_dir", cfg.Paths.TranscriptsDir),
		logging.String("ledger_backend", cfg.Ledger.Backend),
		logging.Bool("cache_enabled", cfg.Sources.Cache.Enabled),
		logging.Bool("bridge_enabled", cfg.Sources.Bridge.Enabled),
		logging.Bool("bridge_token_present", strings.TrimSpace(cfg.Sources.Bridge.Token) != ""),
		logging.Bool("api_enabled", strings.TrimSpace(cfg.Paths.APIBind) != ""),
		logging.Bool("notifications_enabled", notifications.Configured(cfg)),
	)
}
