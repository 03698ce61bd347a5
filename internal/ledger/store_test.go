package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"meetsync/internal/config"
	"meetsync/internal/ledger"
	"meetsync/internal/testsupport"
)

var baseTime = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func TestOpenCreatesSchemaAndReportsHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	if rec.ID == "" {
		t.Fatal("expected record ID to be assigned")
	}
	if rec.State != ledger.StatePending || rec.Attempts != 0 {
		t.Fatalf("unexpected new record: %+v", rec)
	}
	if !rec.NextAttemptAt.Equal(baseTime) {
		t.Fatalf("expected next attempt %v, got %v", baseTime, rec.NextAttemptAt)
	}

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.Reachable || !health.IntegrityCheck || health.TotalRecords != 1 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestReopenPreservesRecordsAndSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.SeedSources(ctx, []config.SourceDefaults{{Name: config.SourceCache, PollIntervalMinutes: 5}}); err != nil {
		t.Fatalf("SeedSources failed: %v", err)
	}
	if err := store.SetPollInterval(ctx, config.SourceCache, 17); err != nil {
		t.Fatalf("SetPollInterval failed: %v", err)
	}
	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	rec.State = ledger.StatePolling
	rec.Attempts = 2
	rec.ExternalRecordingID = "rec-1"
	if err := store.Transition(ctx, rec, ledger.StatePending); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	store.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	settings, err := reopened.SourceSettings(ctx, config.SourceCache)
	if err != nil {
		t.Fatalf("SourceSettings failed: %v", err)
	}
	if settings.PollIntervalMinutes != 17 {
		t.Fatalf("expected persisted interval 17, got %d", settings.PollIntervalMinutes)
	}
	got, err := reopened.GetByID(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.State != ledger.StatePolling || got.Attempts != 2 || got.ExternalRecordingID != "rec-1" {
		t.Fatalf("unexpected reloaded record: %+v", got)
	}
}

func TestCreateIfAbsentConcurrentSingleOpenRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			origin := ledger.OriginBackfill
			if i%2 == 0 {
				origin = ledger.OriginDiscovery
			}
			rec, ok, err := store.CreateIfAbsent(ctx, ledger.NewRecord{
				MeetingID:     "m-race",
				Source:        config.SourceBridge,
				MaxAttempts:   3,
				Origin:        origin,
				NextAttemptAt: baseTime,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				created++
			}
			ids[rec.ID] = struct{}{}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
	if len(ids) != 1 {
		t.Fatalf("expected every caller to observe the same row, got %d ids", len(ids))
	}
	rows, err := store.List(ctx, config.SourceBridge)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
}

func TestCreateIfAbsentAllowsNewRowAfterTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	rec.State = ledger.StatePolling
	if err := store.Transition(ctx, rec, ledger.StatePending); err != nil {
		t.Fatalf("to polling: %v", err)
	}
	rec.State = ledger.StateAbandoned
	rec.ErrorMessage = "gone"
	if err := store.Transition(ctx, rec, ledger.StatePolling); err != nil {
		t.Fatalf("to abandoned: %v", err)
	}

	again, created, err := store.CreateIfAbsent(ctx, ledger.NewRecord{
		MeetingID:   "m-1",
		Source:      config.SourceCache,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("CreateIfAbsent failed: %v", err)
	}
	if !created || again.ID == rec.ID {
		t.Fatalf("expected a fresh row after the terminal one, got created=%v id=%s", created, again.ID)
	}
}

func TestTransitionRejectsStaleState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	first := *rec
	first.State = ledger.StatePolling
	if err := store.Transition(ctx, &first, ledger.StatePending); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	second := *rec
	second.State = ledger.StatePolling
	err := store.Transition(ctx, &second, ledger.StatePending)
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTransitionValidatesStateMachine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)

	skip := *rec
	skip.State = ledger.StateProcessing
	if err := store.Transition(ctx, &skip, ledger.StatePending); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for pending -> processing, got %v", err)
	}

	for _, step := range []ledger.State{ledger.StatePolling, ledger.StateFetching, ledger.StateProcessing} {
		from := rec.State
		rec.State = step
		if err := store.Transition(ctx, rec, from); err != nil {
			t.Fatalf("%s -> %s failed: %v", from, step, err)
		}
	}

	rec.State = ledger.StateCompleted
	if err := store.Transition(ctx, rec, ledger.StateProcessing); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected completed without path to fail, got %v", err)
	}

	now := baseTime.Add(time.Hour)
	rec.TranscriptPath = "/tmp/t.md"
	rec.CompletedAt = &now
	if err := store.Transition(ctx, rec, ledger.StateProcessing); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	got, _ := store.GetByID(ctx, rec.ID)
	if got.TranscriptPath != "/tmp/t.md" || got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Fatalf("unexpected completed row: %+v", got)
	}
}

func TestDueRecordsHonoursNextAttemptAndRetryFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	due := testsupport.NewRecord(t, store, "m-due", config.SourceCache, baseTime.Add(-time.Minute))
	later := testsupport.NewRecord(t, store, "m-later", config.SourceCache, baseTime.Add(time.Hour))
	testsupport.NewRecord(t, store, "m-other", config.SourceBridge, baseTime.Add(-time.Minute))

	rows, err := store.DueRecords(ctx, config.SourceCache, baseTime)
	if err != nil {
		t.Fatalf("DueRecords failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != due.ID {
		t.Fatalf("expected only the due row, got %+v", rows)
	}

	if _, err := store.RequestRetry(ctx, later.ID, baseTime); err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}
	rows, err = store.DueRecords(ctx, config.SourceCache, baseTime)
	if err != nil {
		t.Fatalf("DueRecords failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected retry flag to make row due, got %d rows", len(rows))
	}
}

func TestRequestRetryResetsAbandoned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	rec.State = ledger.StatePolling
	rec.ExternalRecordingID = "rec-1"
	if err := store.Transition(ctx, rec, ledger.StatePending); err != nil {
		t.Fatal(err)
	}
	rec.State = ledger.StateFailed
	rec.Attempts = 3
	rec.ErrorMessage = "boom"
	if err := store.Transition(ctx, rec, ledger.StatePolling); err != nil {
		t.Fatal(err)
	}
	rec.State = ledger.StateAbandoned
	if err := store.Transition(ctx, rec, ledger.StateFailed); err != nil {
		t.Fatal(err)
	}

	reset, err := store.RequestRetry(ctx, rec.ID, baseTime)
	if err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}
	if reset.State != ledger.StatePending || reset.Attempts != 0 || !reset.RetryRequested {
		t.Fatalf("unexpected reset row: %+v", reset)
	}
	if reset.ExternalRecordingID != "rec-1" {
		t.Fatalf("expected recording assignment to survive retry, got %q", reset.ExternalRecordingID)
	}

	if _, err := store.RequestRetry(ctx, "missing", baseTime); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountsAndClaimedRecordings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	polling := testsupport.NewRecord(t, store, "m-2", config.SourceCache, baseTime)
	polling.State = ledger.StatePolling
	polling.ExternalRecordingID = "rec-2"
	if err := store.Transition(ctx, polling, ledger.StatePending); err != nil {
		t.Fatal(err)
	}
	testsupport.NewRecord(t, store, "m-3", config.SourceBridge, baseTime)

	counts, err := store.Counts(ctx, config.SourceCache)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Pending != 1 || counts.Active != 1 || counts.Total != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	claimed, err := store.ClaimedRecordings(ctx, config.SourceCache)
	if err != nil {
		t.Fatalf("ClaimedRecordings failed: %v", err)
	}
	if claimed["rec-2"] != polling.ID || len(claimed) != 1 {
		t.Fatalf("unexpected claimed map: %v", claimed)
	}
}

func TestResetInFlightReturnsFetchingToPolling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewRecord(t, store, "m-1", config.SourceCache, baseTime)
	for _, step := range []ledger.State{ledger.StatePolling, ledger.StateFetching} {
		from := rec.State
		rec.State = step
		rec.Attempts = 1
		if err := store.Transition(ctx, rec, from); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.ResetInFlight(ctx, baseTime)
	if err != nil {
		t.Fatalf("ResetInFlight failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one reset row, got %d", count)
	}
	got, _ := store.GetByID(ctx, rec.ID)
	if got.State != ledger.StatePolling || got.Attempts != 1 {
		t.Fatalf("unexpected row after reset: %+v", got)
	}
}

func TestSetEnabledReportsFirstEnable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.SetEnabled(ctx, config.SourceBridge, true)
	if err != nil || !first {
		t.Fatalf("expected first enable, got first=%v err=%v", first, err)
	}
	if _, err := store.SetEnabled(ctx, config.SourceBridge, false); err != nil {
		t.Fatal(err)
	}
	again, err := store.SetEnabled(ctx, config.SourceBridge, true)
	if err != nil || again {
		t.Fatalf("expected repeat enable to not be first, got first=%v err=%v", again, err)
	}

	if err := store.RecordError(ctx, config.SourceBridge, "unauthorized", baseTime); err != nil {
		t.Fatal(err)
	}
	settings, err := store.SourceSettings(ctx, config.SourceBridge)
	if err != nil {
		t.Fatal(err)
	}
	if !settings.Enabled || settings.LastError != "unauthorized" || settings.LastErrorAt == nil {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	if _, err := store.SourceSettings(ctx, "nope"); !errors.Is(err, ledger.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", cfg.LedgerDSN())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	_, err = ledger.Open(cfg)
	if !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "upgrade meetsync") {
		t.Fatalf("expected upgrade hint, got %v", err)
	}
}

func TestConcurrentEnableReportsFirstEnableOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const callers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
		errs   []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.SetEnabled(ctx, config.SourceBridge, true)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if first {
				firsts++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("SetEnabled failed: %v", errs)
	}
	if firsts != 1 {
		t.Fatalf("expected exactly one first enable, got %d", firsts)
	}
	settings, err := store.SourceSettings(ctx, config.SourceBridge)
	if err != nil {
		t.Fatal(err)
	}
	if !settings.Enabled || !settings.EverEnabled {
		t.Fatalf("unexpected settings: %+v", settings)
	}
}
