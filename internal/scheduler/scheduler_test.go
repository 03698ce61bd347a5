package scheduler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"meetsync/internal/backoff"
	"meetsync/internal/config"
	"meetsync/internal/ledger"
	"meetsync/internal/meetings"
	"meetsync/internal/notifications"
	"meetsync/internal/scheduler"
	"meetsync/internal/services"
	"meetsync/internal/sources"
	"meetsync/internal/sources/cachescan"
	"meetsync/internal/testsupport"
)

var (
	meetingStart = time.Date(2025, 5, 6, 14, 0, 0, 0, time.UTC)
	tickStart    = time.Date(2025, 5, 6, 16, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) Events() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

// failingStore fails Transition for one record id while armed.
type failingStore struct {
	*ledger.Store
	mu     sync.Mutex
	failID string
}

func (f *failingStore) Transition(ctx context.Context, rec *ledger.SyncRecord, from ledger.State) error {
	f.mu.Lock()
	failID := f.failID
	f.mu.Unlock()
	if failID != "" && rec.ID == failID {
		return errors.New("disk I/O error")
	}
	return f.Store.Transition(ctx, rec, from)
}

func (f *failingStore) arm(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failID = id
}

type harness struct {
	cfg      *config.Config
	store    *ledger.Store
	records  *failingStore
	notes    *meetings.NoteStore
	adapter  *testsupport.FakeAdapter
	sched    *scheduler.Scheduler
	clock    *fakeClock
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newLoggedHarness(t, nil)
}

func newLoggedHarness(t *testing.T, logger *slog.Logger) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithSourceEnabled(config.SourceCache),
		testsupport.WithMaxAttempts(3),
	)
	store := testsupport.MustOpenStore(t, cfg)
	adapter := testsupport.NewFakeAdapter(config.SourceCache)
	registry, err := sources.NewRegistry(adapter)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		cfg:      cfg,
		store:    store,
		records:  &failingStore{Store: store},
		notes:    meetings.NewNoteStore(cfg.Paths.MeetingsDir),
		adapter:  adapter,
		clock:    &fakeClock{now: tickStart},
		notifier: &recordingNotifier{},
	}
	h.sched, err = scheduler.New(cfg, scheduler.Dependencies{
		Records:  h.records,
		Settings: store,
		Meetings: h.notes,
		Sources:  registry,
		Notifier: h.notifier,
		Logger:   logger,
	}, scheduler.WithClock(h.clock.Now), scheduler.WithBackoff(backoff.Fixed{Interval: time.Minute}))
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return h
}

func (h *harness) addMeetingWithRecording(t *testing.T, meetingID, recordingID string) meetings.Meeting {
	t.Helper()
	m := testsupport.Meeting(meetingID, "Design Review "+meetingID, meetingStart, time.Hour, "ana@example.com", "bo@example.com")
	testsupport.WriteMeeting(t, h.cfg.Paths.MeetingsDir, m)
	h.adapter.AddRecording(sources.Candidate{
		RecordingID:  recordingID,
		Title:        m.Title,
		Start:        m.Start.Add(time.Minute),
		End:          m.End,
		Participants: []string{"ana@example.com"},
	}, sources.Transcript{
		Format:   sources.FormatText,
		Segments: []sources.Segment{{Speaker: "Ana", Text: "Let's ship it."}},
	})
	return m
}

func (h *harness) tick(t *testing.T) scheduler.TickResult {
	t.Helper()
	result, err := h.sched.Tick(context.Background(), config.SourceCache)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return result
}

func (h *harness) get(t *testing.T, id string) *ledger.SyncRecord {
	t.Helper()
	rec, err := h.store.GetByID(context.Background(), id)
	if err != nil || rec == nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return rec
}

// syncBuffer lets the adapter goroutine and the tick write logs concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func expectState(t *testing.T, rec *ledger.SyncRecord, want ledger.State) {
	t.Helper()
	if rec.State != want {
		t.Fatalf("expected state %s, got %s (error=%q)", want, rec.State, rec.ErrorMessage)
	}
}

func TestEachTickAdvancesOneStepToCompletion(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)

	h.tick(t)
	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StatePolling)
	if got.ExternalRecordingID != "rec-1" || got.MatchConfidence == nil || *got.MatchConfidence < 0.6 {
		t.Fatalf("expected rec-1 matched with confidence, got %+v", got)
	}

	h.clock.Advance(time.Minute)
	h.tick(t)
	got = h.get(t, rec.ID)
	expectState(t, got, ledger.StateFetching)
	if got.LastAttemptAt == nil {
		t.Fatal("expected last attempt time to be recorded")
	}
	if _, fetches := h.adapter.Calls(); fetches != 0 {
		t.Fatalf("expected fetch to wait for its own tick, got %d calls", fetches)
	}

	h.clock.Advance(time.Minute)
	h.tick(t)
	expectState(t, h.get(t, rec.ID), ledger.StateProcessing)

	h.clock.Advance(time.Minute)
	h.tick(t)
	got = h.get(t, rec.ID)
	expectState(t, got, ledger.StateCompleted)
	if got.TranscriptPath == "" || got.CompletedAt == nil || got.Attempts != 0 {
		t.Fatalf("unexpected completed record %+v", got)
	}
	content, err := os.ReadFile(got.TranscriptPath)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(content), "**Ana:** Let's ship it.") || !strings.Contains(string(content), "recording_id: rec-1") {
		t.Fatalf("unexpected transcript:\n%s", content)
	}
	meeting, err := h.notes.Meeting(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	note, _ := os.ReadFile(meeting.Path)
	if !strings.Contains(string(note), got.TranscriptPath) {
		t.Fatalf("expected transcript attached to meeting note:\n%s", note)
	}
	if events := h.notifier.Events(); len(events) != 1 || events[0] != notifications.EventTranscriptReady {
		t.Fatalf("expected one transcript_ready event, got %v", events)
	}

	settings, err := h.store.SourceSettings(context.Background(), config.SourceCache)
	if err != nil {
		t.Fatal(err)
	}
	if settings.LastSyncAt == nil || settings.Checkpoint == nil {
		t.Fatalf("expected sync time and checkpoint recorded, got %+v", settings)
	}
}

func TestTransientFailuresAbandonThenManualRetry(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	transient := errors.New("connection reset by peer")
	h.adapter.FailFetch("rec-1", transient, transient, transient)

	h.tick(t) // pending -> polling
	for attempt := 1; attempt <= 3; attempt++ {
		h.tick(t) // polling -> fetching
		h.tick(t) // fetching -> failed
		got := h.get(t, rec.ID)
		expectState(t, got, ledger.StateFailed)
		if got.Attempts != attempt {
			t.Fatalf("expected %d attempts, got %d", attempt, got.Attempts)
		}
		if attempt < 3 {
			if !got.NextAttemptAt.Equal(h.clock.Now().Add(time.Minute)) {
				t.Fatalf("expected backoff of one minute, next attempt %s", got.NextAttemptAt)
			}
			h.tick(t) // not yet due
			expectState(t, h.get(t, rec.ID), ledger.StateFailed)
			h.clock.Advance(2 * time.Minute)
			h.tick(t) // failed -> polling
			expectState(t, h.get(t, rec.ID), ledger.StatePolling)
		}
	}

	h.tick(t)
	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StateAbandoned)
	if got.Attempts != 3 || got.ErrorMessage == "" {
		t.Fatalf("unexpected abandoned record %+v", got)
	}
	if events := h.notifier.Events(); len(events) != 1 || events[0] != notifications.EventSyncAbandoned {
		t.Fatalf("expected one abandoned event, got %v", events)
	}

	h.tick(t)
	expectState(t, h.get(t, rec.ID), ledger.StateAbandoned)

	reset, err := h.store.RequestRetry(context.Background(), rec.ID, h.clock.Now())
	if err != nil {
		t.Fatalf("RequestRetry: %v", err)
	}
	if reset.State != ledger.StatePending || reset.Attempts != 0 {
		t.Fatalf("unexpected reset record %+v", reset)
	}
	for i := 0; i < 4; i++ {
		h.tick(t)
	}
	expectState(t, h.get(t, rec.ID), ledger.StateCompleted)
}

func TestPermanentFailureAbandonsWithoutSpendingAttempts(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	h.adapter.FailFetch("rec-1", services.Wrap(services.ErrPermanent, "fake", "fetch", "recording deleted", nil))

	h.tick(t)
	h.tick(t)
	h.tick(t)
	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StateAbandoned)
	if got.Attempts != 0 || !strings.Contains(got.ErrorMessage, "recording deleted") {
		t.Fatalf("unexpected abandoned record %+v", got)
	}
}

func TestNoMatchStaysPendingUntilNextPoll(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteMeeting(t, h.cfg.Paths.MeetingsDir, testsupport.Meeting("m1", "Budget", meetingStart, time.Hour))
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)

	h.tick(t)
	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StatePending)
	if want := tickStart.Add(5 * time.Minute); !got.NextAttemptAt.Equal(want) {
		t.Fatalf("expected next attempt %s, got %s", want, got.NextAttemptAt)
	}
	if got.Attempts != 0 || got.ErrorMessage != "" {
		t.Fatalf("no-match must not count as a failure: %+v", got)
	}
}

func TestDisableMidTickLetsInFlightRowFinish(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	second := testsupport.Meeting("m2", "Hiring Sync", meetingStart.Add(-3*time.Hour), time.Hour)
	testsupport.WriteMeeting(t, h.cfg.Paths.MeetingsDir, second)
	h.adapter.AddRecording(sources.Candidate{RecordingID: "rec-2", Title: second.Title, Start: second.Start, End: second.End},
		sources.Transcript{Format: sources.FormatMarkdown, Content: "notes"})
	first := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	other := testsupport.NewRecord(t, h.store, "m2", config.SourceCache, tickStart)

	h.tick(t)
	h.tick(t)
	expectState(t, h.get(t, first.ID), ledger.StateFetching)
	expectState(t, h.get(t, other.ID), ledger.StateFetching)

	h.adapter.OnFetch(func(string) {
		if _, err := h.store.SetEnabled(context.Background(), config.SourceCache, false); err != nil {
			t.Errorf("SetEnabled: %v", err)
		}
	})
	h.tick(t)

	states := map[ledger.State]int{}
	for _, id := range []string{first.ID, other.ID} {
		states[h.get(t, id).State]++
	}
	if states[ledger.StateProcessing] != 1 || states[ledger.StateFetching] != 1 {
		t.Fatalf("expected one finished fetch and one untouched row, got %v", states)
	}

	result := h.tick(t)
	if !result.Skipped {
		t.Fatal("expected disabled source to skip ticks")
	}
	if _, fetches := h.adapter.Calls(); fetches != 1 {
		t.Fatalf("expected a single fetch, got %d", fetches)
	}
}

func TestStorageErrorDoesNotAdvanceRow(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	before := h.get(t, rec.ID)

	h.records.arm(rec.ID)
	h.tick(t)
	after := h.get(t, rec.ID)
	expectState(t, after, ledger.StatePending)
	if !after.NextAttemptAt.Equal(before.NextAttemptAt) || !after.UpdatedAt.Equal(before.UpdatedAt) || after.Matched() {
		t.Fatalf("expected row untouched, before=%+v after=%+v", before, after)
	}

	h.records.arm("")
	h.tick(t)
	expectState(t, h.get(t, rec.ID), ledger.StatePolling)
}

func TestLiveDiscoveryCreatesAndAdvancesRecord(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m-live", "rec-live")

	result := h.tick(t)
	if result.Created != 1 || result.Advanced != 1 || result.Discovered != 1 {
		t.Fatalf("unexpected tick result %+v", result)
	}
	open, err := h.store.OpenRecord(context.Background(), "m-live", config.SourceCache)
	if err != nil || open == nil {
		t.Fatalf("expected open record: %v", err)
	}
	expectState(t, open, ledger.StatePolling)
	if open.Origin != ledger.OriginDiscovery || open.ExternalRecordingID != "rec-live" {
		t.Fatalf("unexpected discovered record %+v", open)
	}

	again := h.tick(t)
	if again.Created != 0 {
		t.Fatalf("claimed recording must not create another row, got %+v", again)
	}
}

func TestConfigurationErrorSkipsTick(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	h.adapter.SetDiscoverError(services.Wrap(services.ErrConfiguration, "fake", "discover", "cache path missing", nil))

	if _, err := h.sched.Tick(context.Background(), config.SourceCache); !services.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	expectState(t, h.get(t, rec.ID), ledger.StatePending)
	settings, err := h.store.SourceSettings(context.Background(), config.SourceCache)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(settings.LastError, "cache path missing") || settings.LastErrorAt == nil {
		t.Fatalf("expected last error recorded, got %+v", settings)
	}
}

func TestTransientDiscoverErrorStillAdvancesMatchedRows(t *testing.T) {
	h := newHarness(t)
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	h.tick(t)
	expectState(t, h.get(t, rec.ID), ledger.StatePolling)

	h.adapter.SetDiscoverError(errors.New("503 from provider"))
	if _, err := h.sched.Tick(context.Background(), config.SourceCache); err != nil {
		t.Fatalf("transient discover error must not fail the tick: %v", err)
	}
	expectState(t, h.get(t, rec.ID), ledger.StateFetching)
	if _, err := h.sched.Tick(context.Background(), config.SourceCache); err != nil {
		t.Fatalf("transient discover error must not fail the tick: %v", err)
	}
	expectState(t, h.get(t, rec.ID), ledger.StateProcessing)
}

func TestTestConnectionRecordsError(t *testing.T) {
	h := newHarness(t)
	h.adapter.SetTestError(services.Wrap(services.ErrConfiguration, "fake", "test", "token rejected", nil))
	err := h.sched.TestConnection(context.Background(), config.SourceCache)
	if !services.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	settings, _ := h.store.SourceSettings(context.Background(), config.SourceCache)
	if !strings.Contains(settings.LastError, "token rejected") {
		t.Fatalf("expected error surfaced in settings, got %q", settings.LastError)
	}
	if err := h.sched.TestConnection(context.Background(), "unknown"); !errors.Is(err, ledger.ErrUnknownSource) {
		t.Fatalf("expected unknown source error, got %v", err)
	}
}

func TestStartResetsInterruptedFetches(t *testing.T) {
	h := newHarness(t)
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	rec.ExternalRecordingID = "rec-1"
	rec.State = ledger.StatePolling
	if err := h.store.Transition(context.Background(), rec, ledger.StatePending); err != nil {
		t.Fatal(err)
	}
	rec.State = ledger.StateFetching
	if err := h.store.Transition(context.Background(), rec, ledger.StatePolling); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.SetEnabled(context.Background(), config.SourceCache, false); err != nil {
		t.Fatal(err)
	}

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sched.Stop()

	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StatePolling)
	if got.Attempts != 0 {
		t.Fatalf("recovery must not spend attempts, got %d", got.Attempts)
	}
}

func TestFetchTimeoutCountsAsFailedAttempt(t *testing.T) {
	h := newHarness(t)
	h.cfg.Sync.CallTimeoutSeconds = 1
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	h.tick(t) // pending -> polling
	h.tick(t) // polling -> fetching

	// The hook ignores its context and returns a valid transcript only once
	// the test ends, well past the call timeout.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.adapter.OnFetch(func(string) { <-release })

	started := time.Now()
	h.tick(t)
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("tick blocked on a stuck adapter for %s", elapsed)
	}
	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StateFailed)
	if got.Attempts != 1 || !strings.Contains(got.ErrorMessage, "exceeded") {
		t.Fatalf("expected timeout to spend one attempt, got %+v", got)
	}

	// The stuck call still occupies the source's only call slot.
	err := h.sched.TestConnection(context.Background(), config.SourceCache)
	if services.Classify(err) != services.KindTimeout {
		t.Fatalf("expected busy source to time out, got %v", err)
	}
}

func TestLateSuccessAfterTimeoutIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.cfg.Sync.CallTimeoutSeconds = 1
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)
	h.tick(t)
	h.tick(t)

	h.adapter.OnFetch(func(string) { time.Sleep(1500 * time.Millisecond) })
	h.tick(t)
	got := h.get(t, rec.ID)
	expectState(t, got, ledger.StateFailed)
	if got.TranscriptPath != "" {
		t.Fatalf("late transcript must not be used, got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.StateDir, "staging", rec.ID+".json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no staged transcript, stat err=%v", err)
	}
}

func TestHalfWrittenCacheFileStaysRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSourceEnabled(config.SourceCache),
		testsupport.WithMaxAttempts(3),
	)
	store := testsupport.MustOpenStore(t, cfg)
	notes := meetings.NewNoteStore(cfg.Paths.MeetingsDir)
	testsupport.WriteMeeting(t, cfg.Paths.MeetingsDir,
		testsupport.Meeting("m1", "Design Review", meetingStart, time.Hour, "ana@example.com"))

	const doc = `{"documents": {"rec-1": {
  "title": "Design Review",
  "start": "2025-05-06T14:01:00Z",
  "end": "2025-05-06T15:00:00Z",
  "participants": [{"name": "Ana", "email": "ana@example.com"}],
  "transcript": [{"speaker": "Ana", "text": "Ship it", "offset_seconds": 2}]
}}}`
	cachePath := filepath.Join(cfg.Sources.Cache.Path, "cache-v3.json")
	testsupport.WriteFile(t, cachePath, doc)

	registry, err := sources.NewRegistry(cachescan.New(cfg.Sources.Cache, nil))
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: tickStart}
	sched, err := scheduler.New(cfg, scheduler.Dependencies{
		Records:  store,
		Settings: store,
		Meetings: notes,
		Sources:  registry,
		Notifier: &recordingNotifier{},
	}, scheduler.WithClock(clock.Now), scheduler.WithBackoff(backoff.Fixed{Interval: time.Minute}))
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	tick := func() {
		t.Helper()
		if _, err := sched.Tick(context.Background(), config.SourceCache); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	rec := testsupport.NewRecord(t, store, "m1", config.SourceCache, tickStart)

	tick() // pending -> polling
	tick() // polling -> fetching
	testsupport.WriteFile(t, cachePath, doc[:40])
	tick() // fetching -> failed

	got, err := store.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	expectState(t, got, ledger.StateFailed)
	if got.Attempts != 1 {
		t.Fatalf("expected one attempt spent, got %+v", got)
	}

	testsupport.WriteFile(t, cachePath, doc)
	clock.Advance(2 * time.Minute)
	tick() // failed -> polling
	tick() // polling -> fetching
	tick() // fetching -> processing
	got, err = store.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	expectState(t, got, ledger.StateProcessing)
}

func TestRowLogsCarryStageAndRecord(t *testing.T) {
	var out syncBuffer
	h := newLoggedHarness(t, slog.New(slog.NewJSONHandler(&out, nil)))
	h.addMeetingWithRecording(t, "m1", "rec-1")
	rec := testsupport.NewRecord(t, h.store, "m1", config.SourceCache, tickStart)

	h.tick(t)

	var matched map[string]any
	for _, line := range out.Lines() {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["msg"] == "recording matched" {
			matched = entry
		}
	}
	if matched == nil {
		t.Fatalf("expected a recording matched entry, got:\n%s", strings.Join(out.Lines(), "\n"))
	}
	if matched["stage"] != string(ledger.StatePending) {
		t.Fatalf("stage = %v, want %s", matched["stage"], ledger.StatePending)
	}
	if matched["record_id"] != rec.ID || matched["source"] != config.SourceCache {
		t.Fatalf("unexpected row fields: %v", matched)
	}
}
