package api

import (
	"strings"
	"testing"
	"time"

	"meetsync/internal/ledger"
)

func TestFromRecordFormatsTimestamps(t *testing.T) {
	created := time.Date(2025, 5, 6, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	done := created.Add(time.Hour)
	confidence := 0.82
	rec := &ledger.SyncRecord{
		ID:                  "abc",
		MeetingID:           "m1",
		Source:              "cache",
		ExternalRecordingID: "rec-1",
		State:               ledger.StateCompleted,
		NextAttemptAt:       created,
		CompletedAt:         &done,
		MatchConfidence:     &confidence,
		Origin:              ledger.OriginBackfill,
		CreatedAt:           created,
	}

	dto := FromRecord(rec)
	if dto.CreatedAt != "2025-05-06T12:00:00.000Z" {
		t.Fatalf("createdAt = %q", dto.CreatedAt)
	}
	if dto.CompletedAt != "2025-05-06T13:00:00.000Z" {
		t.Fatalf("completedAt = %q", dto.CompletedAt)
	}
	if dto.NextAttemptAt != "" {
		t.Fatalf("terminal rows should not report a next attempt, got %q", dto.NextAttemptAt)
	}
	if dto.LastAttemptAt != "" || dto.UpdatedAt != "" {
		t.Fatalf("unset timestamps should be empty: %+v", dto)
	}
	if dto.MatchConfidence == nil || *dto.MatchConfidence != confidence {
		t.Fatalf("matchConfidence = %v", dto.MatchConfidence)
	}
	confidence = 0
	if *dto.MatchConfidence != 0.82 {
		t.Fatal("expected confidence to be copied")
	}
	if dto.RecordingID != "rec-1" || dto.State != "completed" || dto.Origin != "backfill" {
		t.Fatalf("unexpected dto %+v", dto)
	}
}

func TestParseStates(t *testing.T) {
	states, err := ParseStates([]string{"failed, Abandoned", "", "pending"})
	if err != nil {
		t.Fatalf("ParseStates: %v", err)
	}
	want := []ledger.State{ledger.StateFailed, ledger.StateAbandoned, ledger.StatePending}
	if len(states) != len(want) {
		t.Fatalf("got %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("got %v, want %v", states, want)
		}
	}

	_, err = ParseStates([]string{"ripping"})
	if err == nil {
		t.Fatal("expected unknown state to fail")
	}
	if !strings.Contains(err.Error(), "pending, polling, fetching") {
		t.Fatalf("expected valid states listed, got %v", err)
	}
}

func TestFromSettingsCarriesCounts(t *testing.T) {
	synced := time.Date(2025, 5, 6, 16, 0, 0, 0, time.UTC)
	status := FromSettings(ledger.SourceSettings{
		Source:              "bridge",
		Enabled:             true,
		PollIntervalMinutes: 15,
		LastSyncAt:          &synced,
		LastError:           "unauthorized",
	}, ledger.Counts{Pending: 2, Failed: 1, Total: 3})

	if !status.Enabled || status.PollIntervalMinutes != 15 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Counts.Pending != 2 || status.Counts.Failed != 1 || status.Counts.Total != 3 {
		t.Fatalf("unexpected counts %+v", status.Counts)
	}
	if status.LastSyncAt != "2025-05-06T16:00:00.000Z" || status.LastErrorAt != "" {
		t.Fatalf("unexpected timestamps %+v", status)
	}
}
