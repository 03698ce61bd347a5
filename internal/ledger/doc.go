// Package ledger persists sync records in SQLite (or Postgres) and exposes
// helpers for driving their lifecycle.
//
// The Store is the single source of truth for pipeline progress. Each row
// tracks one (meeting, source) pair through pending, polling, fetching,
// processing, and one of the terminal states completed or abandoned. A partial
// unique index keeps at most one open row per pair, and CreateIfAbsent relies
// on it so backfill and live discovery can race without duplicating work.
//
// Transition performs a compare-and-swap on the row's current state so a
// manual retry and a scheduler tick can never both win. Per-source settings
// (enabled flag, poll interval, discovery checkpoint, last error) live in the
// same database so user changes survive restarts.
//
// Schema changes bump schemaVersion in schema.go.
package ledger
