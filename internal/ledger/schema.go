package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion changes whenever schema.sql does. There are no in-place
// migrations; a ledger from another version is refused rather than guessed at.
const schemaVersion = 1

// ErrSchemaMismatch is returned by Open when the ledger was written by a
// different schema version.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var tables int
	if err := s.queryRow(ctx, s.dialect.tableExistsQuery, "schema_version").Scan(&tables); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tables == 0 {
		return s.createSchema(ctx)
	}

	found, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	switch {
	case found == schemaVersion:
		return nil
	case found > schemaVersion:
		return fmt.Errorf("%w: ledger is version %d but this build understands %d; upgrade meetsync",
			ErrSchemaMismatch, found, schemaVersion)
	default:
		return fmt.Errorf("%w: ledger is version %d, expected %d",
			ErrSchemaMismatch, found, schemaVersion)
	}
}

func (s *Store) readSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.queryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// createSchema applies schema.sql and stamps the version in one transaction
// so a crash never leaves tables without a version row.
func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	stamp := s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)")
	if _, err := tx.ExecContext(ctx, stamp, schemaVersion); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return tx.Commit()
}
