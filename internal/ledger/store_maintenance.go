package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"meetsync/internal/config"
)

// Stats returns a count of rows grouped by state for source. An empty source
// aggregates every source.
func (s *Store) Stats(ctx context.Context, source string) (map[State]int, error) {
	query := `SELECT state, COUNT(1) FROM sync_records`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` GROUP BY state`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[State(state)] = count
	}
	return stats, rows.Err()
}

// Counts aggregates Stats into the buckets reported by status.
func (s *Store) Counts(ctx context.Context, source string) (Counts, error) {
	stats, err := s.Stats(ctx, source)
	if err != nil {
		return Counts{}, err
	}
	var counts Counts
	for state, count := range stats {
		counts.Total += count
		switch {
		case state == StatePending:
			counts.Pending += count
		case state == StateFailed:
			counts.Failed += count
		case state == StateCompleted:
			counts.Completed += count
		case state == StateAbandoned:
			counts.Abandoned += count
		case state.Active():
			counts.Active += count
		}
	}
	return counts, nil
}

// ResetInFlight returns rows interrupted mid-fetch to polling so the next tick
// repeats the adapter call. Attempts are untouched and terminal rows are never
// affected.
func (s *Store) ResetInFlight(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sync_records
         SET state = ?, next_attempt_at = ?, updated_at = ?
         WHERE state = ?`,
		string(StatePolling),
		formatTime(now),
		formatTime(time.Now().UTC()),
		string(StateFetching),
	)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight records: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth returns diagnostic information about the ledger database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		Backend:  s.dialect.name,
		Location: s.path,
	}

	if s.dialect.name == config.LedgerSQLite {
		if s.path == "" {
			return health, errors.New("ledger database path is unknown")
		}
		info, err := os.Stat(s.path)
		if err != nil {
			return health, fmt.Errorf("stat ledger database: %w", err)
		}
		if info.IsDir() {
			return health, fmt.Errorf("ledger database path %q is a directory", s.path)
		}
	}

	if s.db == nil {
		return health, errors.New("ledger database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping ledger database: %w", err)
	}
	health.Reachable = true

	version, err := s.readSchemaVersion(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.SchemaVersion = version

	if err := s.queryRow(connCtx, "SELECT COUNT(1) FROM sync_records").Scan(&health.TotalRecords); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count sync records: %w", err)
	}

	if s.dialect.name == config.LedgerSQLite {
		var result string
		if err := s.queryRow(connCtx, "PRAGMA integrity_check").Scan(&result); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("integrity check: %w", err)
		}
		health.IntegrityCheck = result == "ok"
	} else {
		health.IntegrityCheck = true
	}

	return health, nil
}
