package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetsync/internal/config"
)

const settingsColumns = "source, enabled, poll_interval_minutes, ever_enabled, checkpoint_at, last_sync_at, last_error, last_error_at, updated_at"

// SeedSources inserts settings rows for sources that have never been seen,
// using the configuration defaults. Existing rows keep their user values.
func (s *Store) SeedSources(ctx context.Context, defaults []config.SourceDefaults) error {
	timestamp := formatTime(time.Now().UTC())
	for _, d := range defaults {
		if d.PollIntervalMinutes <= 0 {
			return fmt.Errorf("seed source %s: poll interval must be positive", d.Name)
		}
		if _, err := s.execWithRetry(
			ctx,
			`INSERT INTO source_settings (source, enabled, poll_interval_minutes, ever_enabled, updated_at)
             VALUES (?, ?, ?, 0, ?)
             ON CONFLICT DO NOTHING`,
			d.Name,
			boolToInt(d.Enabled),
			d.PollIntervalMinutes,
			timestamp,
		); err != nil {
			return fmt.Errorf("seed source %s: %w", d.Name, err)
		}
	}
	return nil
}

// SourceSettings returns the persisted settings for source.
func (s *Store) SourceSettings(ctx context.Context, source string) (SourceSettings, error) {
	row := s.queryRow(ctx, `SELECT `+settingsColumns+` FROM source_settings WHERE source = ?`, source)
	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceSettings{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if err != nil {
		return SourceSettings{}, fmt.Errorf("source settings: %w", err)
	}
	return settings, nil
}

// SetEnabled toggles a source. The returned flag is true the first time a
// source is ever enabled, including a source enabled by configuration that is
// being confirmed at startup.
func (s *Store) SetEnabled(ctx context.Context, source string, enabled bool) (bool, error) {
	if _, err := s.SourceSettings(ctx, source); err != nil {
		return false, err
	}
	now := formatTime(time.Now().UTC())
	if enabled {
		// Only the caller whose update flips ever_enabled sees a first enable.
		res, err := s.execWithRetry(
			ctx,
			`UPDATE source_settings
         SET enabled = 1, ever_enabled = 1, updated_at = ?
         WHERE source = ? AND ever_enabled = 0`,
			now,
			source,
		)
		if err != nil {
			return false, fmt.Errorf("set enabled: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return true, nil
		}
	}
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE source_settings SET enabled = ?, updated_at = ? WHERE source = ?`,
		boolToInt(enabled),
		now,
		source,
	); err != nil {
		return false, fmt.Errorf("set enabled: %w", err)
	}
	return false, nil
}

// SetPollInterval updates a source's tick interval.
func (s *Store) SetPollInterval(ctx context.Context, source string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", minutes)
	}
	return s.updateSettings(ctx, source, "poll_interval_minutes = ?", minutes)
}

// SetCheckpoint advances the discovery watermark for source.
func (s *Store) SetCheckpoint(ctx context.Context, source string, at time.Time) error {
	return s.updateSettings(ctx, source, "checkpoint_at = ?", formatTime(at))
}

// MarkSynced records a tick that completed without a source level error.
func (s *Store) MarkSynced(ctx context.Context, source string, at time.Time) error {
	return s.updateSettings(ctx, source, "last_sync_at = ?", formatTime(at))
}

// RecordError stores the most recent source level error.
func (s *Store) RecordError(ctx context.Context, source, message string, at time.Time) error {
	return s.updateSettings(ctx, source, "last_error = ?, last_error_at = ?", nullableString(message), formatTime(at))
}

func (s *Store) updateSettings(ctx context.Context, source, assignments string, args ...any) error {
	args = append(args, formatTime(time.Now().UTC()), source)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE source_settings SET `+assignments+`, updated_at = ? WHERE source = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update source settings: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return nil
}

func scanSettings(scanner interface{ Scan(dest ...any) error }) (SourceSettings, error) {
	var (
		settings      SourceSettings
		enabled       int
		everEnabled   int
		checkpointRaw sql.NullString
		lastSyncRaw   sql.NullString
		lastError     sql.NullString
		lastErrorRaw  sql.NullString
		updatedRaw    string
	)
	if err := scanner.Scan(
		&settings.Source,
		&enabled,
		&settings.PollIntervalMinutes,
		&everEnabled,
		&checkpointRaw,
		&lastSyncRaw,
		&lastError,
		&lastErrorRaw,
		&updatedRaw,
	); err != nil {
		return SourceSettings{}, err
	}
	settings.Enabled = enabled != 0
	settings.EverEnabled = everEnabled != 0
	settings.Checkpoint = parseNullableTime(checkpointRaw)
	settings.LastSyncAt = parseNullableTime(lastSyncRaw)
	settings.LastError = lastError.String
	settings.LastErrorAt = parseNullableTime(lastErrorRaw)
	if updated, err := parseTimeString(updatedRaw); err == nil {
		settings.UpdatedAt = updated
	}
	return settings, nil
}
