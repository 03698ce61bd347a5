package ledger

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = "id, meeting_id, meeting_title, source, external_recording_id, state, attempts, max_attempts, next_attempt_at, last_attempt_at, completed_at, error_message, match_confidence, transcript_path, retry_requested, origin, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*SyncRecord, error) {
	var (
		id              string
		meetingID       string
		meetingTitle    sql.NullString
		source          string
		recordingID     sql.NullString
		stateStr        string
		attempts        int
		maxAttempts     int
		nextAttemptRaw  string
		lastAttemptRaw  sql.NullString
		completedRaw    sql.NullString
		errorMessage    sql.NullString
		matchConfidence sql.NullFloat64
		transcriptPath  sql.NullString
		retryRequested  sql.NullInt64
		origin          string
		createdRaw      string
		updatedRaw      string
	)

	if err := scanner.Scan(
		&id,
		&meetingID,
		&meetingTitle,
		&source,
		&recordingID,
		&stateStr,
		&attempts,
		&maxAttempts,
		&nextAttemptRaw,
		&lastAttemptRaw,
		&completedRaw,
		&errorMessage,
		&matchConfidence,
		&transcriptPath,
		&retryRequested,
		&origin,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &SyncRecord{
		ID:                  id,
		MeetingID:           meetingID,
		MeetingTitle:        meetingTitle.String,
		Source:              source,
		ExternalRecordingID: recordingID.String,
		State:               State(stateStr),
		Attempts:            attempts,
		MaxAttempts:         maxAttempts,
		ErrorMessage:        errorMessage.String,
		TranscriptPath:      transcriptPath.String,
		RetryRequested:      retryRequested.Valid && retryRequested.Int64 != 0,
		Origin:              Origin(origin),
	}
	if matchConfidence.Valid {
		value := matchConfidence.Float64
		rec.MatchConfidence = &value
	}
	if next, err := parseTimeString(nextAttemptRaw); err == nil {
		rec.NextAttemptAt = next
	}
	rec.LastAttemptAt = parseNullableTime(lastAttemptRaw)
	rec.CompletedAt = parseNullableTime(completedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statesToArgs(states []State) []any {
	args := make([]any, len(states))
	for i, state := range states {
		args[i] = string(state)
	}
	return args
}
