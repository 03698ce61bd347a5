package api

import (
	"fmt"
	"strings"
	"time"

	"meetsync/internal/ledger"
)

// FromRecord converts a ledger row to its API representation.
func FromRecord(rec *ledger.SyncRecord) SyncRecord {
	if rec == nil {
		return SyncRecord{}
	}
	dto := SyncRecord{
		ID:             rec.ID,
		MeetingID:      rec.MeetingID,
		MeetingTitle:   rec.MeetingTitle,
		Source:         rec.Source,
		RecordingID:    rec.ExternalRecordingID,
		State:          string(rec.State),
		Attempts:       rec.Attempts,
		MaxAttempts:    rec.MaxAttempts,
		NextAttemptAt:  formatTime(rec.NextAttemptAt),
		LastAttemptAt:  formatTimePtr(rec.LastAttemptAt),
		CompletedAt:    formatTimePtr(rec.CompletedAt),
		ErrorMessage:   rec.ErrorMessage,
		TranscriptPath: rec.TranscriptPath,
		RetryRequested: rec.RetryRequested,
		Origin:         string(rec.Origin),
		CreatedAt:      formatTime(rec.CreatedAt),
		UpdatedAt:      formatTime(rec.UpdatedAt),
	}
	if rec.MatchConfidence != nil {
		v := *rec.MatchConfidence
		dto.MatchConfidence = &v
	}
	if rec.State.Terminal() {
		dto.NextAttemptAt = ""
	}
	return dto
}

// FromRecords converts a slice of ledger rows into API DTOs.
func FromRecords(records []*ledger.SyncRecord) []SyncRecord {
	out := make([]SyncRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromCounts converts ledger bucket counts.
func FromCounts(counts ledger.Counts) RecordCounts {
	return RecordCounts{
		Pending:   counts.Pending,
		Active:    counts.Active,
		Failed:    counts.Failed,
		Completed: counts.Completed,
		Abandoned: counts.Abandoned,
		Total:     counts.Total,
	}
}

// FromSettings combines persisted settings and counts into a SourceStatus.
func FromSettings(settings ledger.SourceSettings, counts ledger.Counts) SourceStatus {
	return SourceStatus{
		Source:              settings.Source,
		Enabled:             settings.Enabled,
		PollIntervalMinutes: settings.PollIntervalMinutes,
		Counts:              FromCounts(counts),
		LastSyncAt:          formatTimePtr(settings.LastSyncAt),
		LastError:           settings.LastError,
		LastErrorAt:         formatTimePtr(settings.LastErrorAt),
		CheckpointAt:        formatTimePtr(settings.Checkpoint),
	}
}

// ParseStates converts state filter strings. Empty values are ignored and
// comma separated lists are accepted.
func ParseStates(values []string) ([]ledger.State, error) {
	var out []ledger.State
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			state, ok := ledger.ParseState(part)
			if !ok {
				return nil, fmt.Errorf("unknown state %q (valid: %s)", part, validStates())
			}
			out = append(out, state)
		}
	}
	return out, nil
}

func validStates() string {
	states := ledger.AllStates()
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = string(state)
	}
	return strings.Join(names, ", ")
}

// ParseTime parses a timestamp produced by this package.
func ParseTime(value string) (time.Time, bool) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
