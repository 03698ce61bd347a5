// Package daemonctl holds the client-side helpers the CLI uses to reach a
// running daemon and inspect or signal its process.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"meetsync/internal/config"
	"meetsync/internal/ipc"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ProcessState describes the daemon process recorded in the pid file.
type ProcessState struct {
	PIDFile string
	PID     int
	Alive   bool
	// Stale is set when a pid file exists but names no live process.
	Stale bool
}

// PIDPath returns the pid file written by the daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "meetsync.pid")
}

// Connect dials the daemon socket, mapping "nothing is listening" to
// ErrDaemonNotRunning.
func Connect(socketPath string) (*ipc.Client, error) {
	client, err := ipc.Dial(socketPath)
	if err == nil {
		return client, nil
	}
	if isDaemonUnavailable(err) {
		return nil, fmt.Errorf("%w (socket %s)", ErrDaemonNotRunning, socketPath)
	}
	return nil, err
}

// Inspect reads the pid file and checks whether the process is alive.
func Inspect(cfg *config.Config) (ProcessState, error) {
	state := ProcessState{PIDFile: PIDPath(cfg)}
	data, err := os.ReadFile(state.PIDFile)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read daemon pid file %q: %w", state.PIDFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		state.Stale = true
		return state, nil
	}
	state.PID = pid
	state.Alive = processAlive(pid)
	state.Stale = !state.Alive
	return state, nil
}

// Terminate sends SIGTERM to the daemon and waits up to grace for it to exit.
func Terminate(cfg *config.Config, grace time.Duration) (ProcessState, error) {
	state, err := Inspect(cfg)
	if err != nil {
		return state, err
	}
	if !state.Alive {
		return state, ErrDaemonNotRunning
	}
	if state.PID == os.Getpid() {
		return state, fmt.Errorf("refusing to signal current process (pid %d)", state.PID)
	}
	if err := unix.Kill(state.PID, unix.SIGTERM); err != nil {
		return state, fmt.Errorf("signal daemon process %d: %w", state.PID, err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(state.PID) {
			state.Alive = false
			return state, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return state, fmt.Errorf("daemon process %d still running after %s", state.PID, grace)
}

// processAlive checks pid with signal 0. EPERM means the process exists but
// belongs to another user.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENOENT)
}
