package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meetsync/internal/config"
	"meetsync/internal/ledger"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableDirectory_Empty(t *testing.T) {
	if result := CheckReadableDirectory("cache", "  "); result.Passed {
		t.Fatal("expected failure for unset path")
	}
}

func TestCheckBridge_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckBridge(context.Background(), srv.URL+"/", "good-token")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckBridge_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	result := CheckBridge(context.Background(), srv.URL, "bad-token")
	if result.Passed {
		t.Fatal("expected failure for bad token")
	}
	if result.Detail != "auth failed (invalid token)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckBridge_MissingEndpoint(t *testing.T) {
	if result := CheckBridge(context.Background(), "", "token"); result.Passed {
		t.Fatal("expected failure for missing endpoint")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_DirectoriesOnlyWhenSourcesDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.TranscriptsDir = t.TempDir()
	cfg.Paths.MeetingsDir = t.TempDir()
	cfg.Sources.Cache.Enabled = false
	cfg.Sources.Bridge.Enabled = false

	results := RunAll(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesEnabledSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.TranscriptsDir = t.TempDir()
	cfg.Paths.MeetingsDir = t.TempDir()
	cfg.Sources.Cache.Enabled = true
	cfg.Sources.Cache.Path = filepath.Join(t.TempDir(), "missing")
	cfg.Sources.Bridge.Enabled = true
	cfg.Sources.Bridge.Endpoint = srv.URL

	results := RunAll(context.Background(), &cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Recorder cache" {
		t.Fatalf("expected only the cache check to fail, got %+v", failed)
	}
}

func TestCheckLedgerReportsSchemaAndRecords(t *testing.T) {
	store, err := ledger.OpenDSN(config.LedgerSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	result := CheckLedger(context.Background(), store)
	if !result.Passed {
		t.Fatalf("expected healthy ledger, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "0 records") {
		t.Fatalf("detail = %q, want record count", result.Detail)
	}
}

func TestCheckLedgerFailsWhenDatabaseRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.OpenDSN(config.LedgerSQLite, path)
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if result := CheckLedger(context.Background(), store); result.Passed {
		t.Fatal("expected failure once the database file is gone")
	}
	if result := CheckLedger(context.Background(), nil); result.Passed {
		t.Fatal("expected failure for an unopened ledger")
	}
}
