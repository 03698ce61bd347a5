package testsupport

import (
	"context"
	"testing"
	"time"

	"meetsync/internal/config"
	"meetsync/internal/ledger"
)

// MustOpenStore opens a ledger.Store for tests, seeds source settings from
// cfg, and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	var defaults []config.SourceDefaults
	for _, name := range cfg.SourceNames() {
		if d, ok := cfg.SourceDefaults(name); ok {
			defaults = append(defaults, d)
		}
	}
	if err := store.SeedSources(context.Background(), defaults); err != nil {
		t.Fatalf("store.SeedSources: %v", err)
	}
	return store
}

// NewRecord creates a pending row for tests using the provided store.
func NewRecord(t testing.TB, store *ledger.Store, meetingID, source string, next time.Time) *ledger.SyncRecord {
	t.Helper()

	rec, created, err := store.CreateIfAbsent(context.Background(), ledger.NewRecord{
		MeetingID:     meetingID,
		MeetingTitle:  "Meeting " + meetingID,
		Source:        source,
		MaxAttempts:   3,
		Origin:        ledger.OriginBackfill,
		NextAttemptAt: next,
	})
	if err != nil {
		t.Fatalf("store.CreateIfAbsent: %v", err)
	}
	if !created {
		t.Fatalf("expected new record for %s/%s", meetingID, source)
	}
	return rec
}
