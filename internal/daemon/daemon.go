package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"meetsync/internal/api"
	"meetsync/internal/config"
	"meetsync/internal/control"
	"meetsync/internal/logging"
	"meetsync/internal/metrics"
)

// Lanes is the scheduler lifecycle driven by the daemon.
type Lanes interface {
	Start(ctx context.Context) error
	Stop()
}

// Ledger is the store information reported in status.
type Ledger interface {
	Backend() string
}

// Daemon coordinates the background sync lanes and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	ledger  Ledger
	lanes   Lanes
	control *control.Service
	metrics *metrics.Metrics

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, ledger Ledger, lanes Lanes, ctl *control.Service, m *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || ledger == nil || lanes == nil || ctl == nil {
		return nil, errors.New("daemon requires config, ledger, scheduler, and control service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		ledger:   ledger,
		lanes:    lanes,
		control:  ctl,
		metrics:  m,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the scheduler lanes, and starts
// the HTTP API when a bind address is configured.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another meetsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.lanes.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.lanes.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("meetsync daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop stops the lanes, letting in-flight adapter calls finish, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.lanes.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("meetsync daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Control exposes the control service to transports.
func (d *Daemon) Control() *control.Service {
	return d.control
}

// APIAddress returns the bound HTTP address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status including every source.
func (d *Daemon) Status(ctx context.Context) (api.DaemonStatus, error) {
	statuses, err := d.control.Statuses(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		LockFilePath:  d.lockPath,
		LedgerBackend: d.ledger.Backend(),
		Sources:       statuses,
	}, nil
}
