package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meetsync/internal/api"
	"meetsync/internal/config"
	"meetsync/internal/daemonctl"
	"meetsync/internal/ledger"
	"meetsync/internal/logs"
	"meetsync/internal/testsupport"
)

func TestStatusListsSources(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Sources")
	requireContains(t, out, config.SourceCache)
	requireContains(t, out, config.SourceBridge)
	requireContains(t, out, "sqlite")
}

func TestStatusJSONForSingleSource(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", config.SourceBridge, "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.SourceStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.Source != config.SourceBridge || status.Enabled {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusUnknownSourceFails(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"status", "fax"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	out, _, err := runCLI(t, []string{"status"}, filepath.Join(base, "missing.sock"), configPath)
	if err != nil {
		t.Fatalf("offline status: %v", err)
	}
	requireContains(t, out, "not running")
}

func TestCommandsWithoutDaemonReportNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, _, err := runCLI(t, []string{"list"}, filepath.Join(base, "missing.sock"), configPath)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	requireContains(t, err.Error(), "meetsync run")
}

func TestEnableDisableAndInterval(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"enable", config.SourceCache}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	requireContains(t, out, "Source cache enabled")
	requireContains(t, out, "Backfill cache: 0 new of 0 eligible")

	out, _, err = runCLI(t, []string{"enable", config.SourceCache}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("second enable: %v", err)
	}
	if strings.Contains(out, "Backfill") {
		t.Fatalf("second enable should not backfill: %q", out)
	}

	out, _, err = runCLI(t, []string{"interval", config.SourceCache, "45"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	requireContains(t, out, "every 45 minutes")

	out, _, err = runCLI(t, []string{"disable", config.SourceCache}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	requireContains(t, out, "Source cache disabled")
}

func TestIntervalRejectsNonPositive(t *testing.T) {
	env := setupCLITestEnv(t)

	for _, value := range []string{"0", "-5", "soon"} {
		if _, _, err := runCLI(t, []string{"interval", config.SourceCache, value}, env.socketPath, env.configPath); err == nil {
			t.Fatalf("expected error for interval %q", value)
		}
	}
}

func TestListShowAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	rec := testsupport.NewRecord(t, env.stack.Store, "m-standup", config.SourceCache, time.Now().Add(time.Hour))

	out, _, err := runCLI(t, []string{"list", "--state", "pending"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, rec.ID)
	requireContains(t, out, "Meeting m-standup")

	out, _, err = runCLI(t, []string{"list", config.SourceBridge}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("list bridge: %v", err)
	}
	requireContains(t, out, "No sync records")

	out, _, err = runCLI(t, []string{"show", rec.ID, "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var item api.SyncRecord
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("decode record: %v\n%s", err, out)
	}
	if item.MeetingID != "m-standup" || item.State != string(ledger.StatePending) {
		t.Fatalf("unexpected record %+v", item)
	}

	if _, _, err := runCLI(t, []string{"show", "missing"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for missing record")
	}

	out, _, err = runCLI(t, []string{"retry", rec.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "queued for retry")

	stored, err := env.stack.Store.GetByID(context.Background(), rec.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.RetryRequested {
		t.Fatal("expected retry flag to be set")
	}
}

func TestTestCommandReportsFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	env.stack.Bridge.SetTestError(errors.New("bridge unreachable"))

	out, _, err := runCLI(t, []string{"test", config.SourceBridge}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected failing connection test to return an error")
	}
	requireContains(t, out, "bridge unreachable")

	out, _, err = runCLI(t, []string{"test", config.SourceCache}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cache test: %v", err)
	}
	requireContains(t, out, "[OK]")
}

func TestTestNotifyWithoutChannel(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected test-notify to fail without a channel")
	}
}

func TestLogsCommandFiltersLines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	content := "level=INFO msg=\"sync completed\" record_id=r-1\nlevel=WARN msg=\"fetch failed\" record_id=r-2\n"
	if err := os.WriteFile(logs.Path(cfg), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--grep", "r-2"}, "", configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "fetch failed")
	if strings.Contains(out, "sync completed") {
		t.Fatalf("filter leaked other lines: %q", out)
	}
}
