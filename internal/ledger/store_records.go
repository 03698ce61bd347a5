package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateIfAbsent inserts a pending row unless an open row already exists for
// the same (meeting, source). It returns the open row and whether this call
// created it.
func (s *Store) CreateIfAbsent(ctx context.Context, rec NewRecord) (*SyncRecord, bool, error) {
	if strings.TrimSpace(rec.MeetingID) == "" {
		return nil, false, errors.New("create sync record: meeting id is required")
	}
	if strings.TrimSpace(rec.Source) == "" {
		return nil, false, errors.New("create sync record: source is required")
	}
	if rec.MaxAttempts <= 0 {
		return nil, false, errors.New("create sync record: max attempts must be positive")
	}
	if rec.Origin == "" {
		rec.Origin = OriginDiscovery
	}

	now := time.Now().UTC()
	next := rec.NextAttemptAt
	if next.IsZero() {
		next = now
	}
	timestamp := formatTime(now)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO sync_records (
            id, meeting_id, meeting_title, source, external_recording_id, state,
            attempts, max_attempts, next_attempt_at, match_confidence,
            retry_requested, origin, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?, ?)
        ON CONFLICT DO NOTHING`,
		uuid.NewString(),
		rec.MeetingID,
		nullableString(rec.MeetingTitle),
		rec.Source,
		nullableString(rec.ExternalRecordingID),
		string(StatePending),
		rec.MaxAttempts,
		formatTime(next),
		nullableFloat(rec.MatchConfidence),
		string(rec.Origin),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert sync record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	open, err := s.OpenRecord(ctx, rec.MeetingID, rec.Source)
	if err != nil {
		return nil, false, err
	}
	if open == nil {
		return nil, false, fmt.Errorf("sync record for meeting %s/%s vanished after insert", rec.MeetingID, rec.Source)
	}
	return open, affected > 0, nil
}

// GetByID fetches a sync record by identifier. Missing rows return nil, nil.
func (s *Store) GetByID(ctx context.Context, id string) (*SyncRecord, error) {
	row := s.queryRow(ctx, `SELECT `+recordColumns+` FROM sync_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return rec, nil
}

// OpenRecord returns the non-terminal row for (meeting, source), if any.
func (s *Store) OpenRecord(ctx context.Context, meetingID, source string) (*SyncRecord, error) {
	row := s.queryRow(
		ctx,
		`SELECT `+recordColumns+` FROM sync_records
         WHERE meeting_id = ? AND source = ? AND state NOT IN (?, ?)
         LIMIT 1`,
		meetingID, source, string(StateCompleted), string(StateAbandoned),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open sync record: %w", err)
	}
	return rec, nil
}

// RecordsForMeetings returns every row of source belonging to the given
// meetings, keyed by meeting id.
func (s *Store) RecordsForMeetings(ctx context.Context, source string, meetingIDs []string) (map[string][]*SyncRecord, error) {
	out := make(map[string][]*SyncRecord)
	if len(meetingIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(meetingIDs)+1)
	args = append(args, source)
	for _, id := range meetingIDs {
		args = append(args, id)
	}
	rows, err := s.query(
		ctx,
		`SELECT `+recordColumns+` FROM sync_records
         WHERE source = ? AND meeting_id IN (`+makePlaceholders(len(meetingIDs))+`)
         ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("records for meetings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.MeetingID] = append(out[rec.MeetingID], rec)
	}
	return out, rows.Err()
}

// DueRecords loads schedulable rows for source whose next attempt is at or
// before now, plus rows flagged for manual retry.
func (s *Store) DueRecords(ctx context.Context, source string, now time.Time) ([]*SyncRecord, error) {
	args := []any{source}
	args = append(args, statesToArgs(schedulableStates)...)
	args = append(args, formatTime(now))
	rows, err := s.query(
		ctx,
		`SELECT `+recordColumns+` FROM sync_records
         WHERE source = ? AND state IN (`+makePlaceholders(len(schedulableStates))+`)
           AND (next_attempt_at <= ? OR retry_requested = 1)
         ORDER BY next_attempt_at, created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("due records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ClaimedRecordings maps every recording id already assigned to a row of
// source to the claiming row id.
func (s *Store) ClaimedRecordings(ctx context.Context, source string) (map[string]string, error) {
	rows, err := s.query(
		ctx,
		`SELECT external_recording_id, id FROM sync_records
         WHERE source = ? AND external_recording_id IS NOT NULL`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("claimed recordings: %w", err)
	}
	defer rows.Close()

	claimed := make(map[string]string)
	for rows.Next() {
		var recordingID, id string
		if err := rows.Scan(&recordingID, &id); err != nil {
			return nil, err
		}
		claimed[recordingID] = id
	}
	return claimed, rows.Err()
}

// List returns rows filtered by source and states. Empty filters match all.
func (s *Store) List(ctx context.Context, source string, states ...State) ([]*SyncRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM sync_records`
	var (
		clauses []string
		args    []any
	)
	if source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, source)
	}
	if len(states) > 0 {
		clauses = append(clauses, "state IN ("+makePlaceholders(len(states))+")")
		args = append(args, statesToArgs(states)...)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Transition persists rec if the stored row is still in state from. The
// move from -> rec.State must be a permitted transition. The completed state
// requires a transcript path; every other state clears it.
func (s *Store) Transition(ctx context.Context, rec *SyncRecord, from State) error {
	if rec == nil {
		return errors.New("sync record is nil")
	}
	if !CanTransition(from, rec.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, rec.State)
	}
	if rec.State == StateCompleted && rec.TranscriptPath == "" {
		return fmt.Errorf("%w: completed requires a transcript path", ErrInvalidTransition)
	}
	if rec.State != StateCompleted {
		rec.TranscriptPath = ""
		rec.CompletedAt = nil
	}

	rec.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sync_records
         SET external_recording_id = ?, state = ?, attempts = ?, next_attempt_at = ?,
             last_attempt_at = ?, completed_at = ?, error_message = ?, match_confidence = ?,
             transcript_path = ?, retry_requested = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		nullableString(rec.ExternalRecordingID),
		string(rec.State),
		rec.Attempts,
		formatTime(rec.NextAttemptAt),
		nullableTime(rec.LastAttemptAt),
		nullableTime(rec.CompletedAt),
		nullableString(rec.ErrorMessage),
		nullableFloat(rec.MatchConfidence),
		nullableString(rec.TranscriptPath),
		boolToInt(rec.RetryRequested),
		formatTime(rec.UpdatedAt),
		rec.ID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update sync record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: record %s no longer %s", ErrConflict, rec.ID, from)
	}
	return nil
}

// RequestRetry is the manual retry entry point. Failed and abandoned rows are
// reset to pending with attempts cleared; any other open row is flagged so the
// next tick ignores its next attempt time. Completed rows are rejected.
func (s *Store) RequestRetry(ctx context.Context, id string, now time.Time) (*SyncRecord, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	timestamp := formatTime(time.Now().UTC())
	var res sql.Result
	switch rec.State {
	case StateCompleted:
		return nil, fmt.Errorf("%w: record %s already completed", ErrInvalidTransition, id)
	case StateFailed, StateAbandoned:
		res, err = s.execWithRetry(
			ctx,
			`UPDATE sync_records
             SET state = ?, attempts = 0, error_message = NULL, next_attempt_at = ?, retry_requested = 1, updated_at = ?
             WHERE id = ? AND state = ?`,
			string(StatePending),
			formatTime(now),
			timestamp,
			id,
			string(rec.State),
		)
	default:
		res, err = s.execWithRetry(
			ctx,
			`UPDATE sync_records SET retry_requested = 1, updated_at = ? WHERE id = ? AND state = ?`,
			timestamp,
			id,
			string(rec.State),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("request retry: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, fmt.Errorf("%w: record %s no longer %s", ErrConflict, id, rec.State)
	}
	return s.GetByID(ctx, id)
}

func collectRecords(rows *sql.Rows) ([]*SyncRecord, error) {
	var out []*SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
