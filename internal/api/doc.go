// Package api defines wire-format types and converters shared by the IPC and
// HTTP layers. It translates ledger models into transport-friendly DTOs that
// the CLI and other consumers can render without coupling to internal types.
//
// # Key Types
//
// SyncRecord: transport representation of one (meeting, source) sync row.
//
// SourceStatus: enabled flag, poll interval, lifecycle counts, and the most
// recent sync and error timestamps for a source.
//
// DaemonStatus: process information plus every source status.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Ledger states are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds and are omitted when
// unset.
package api
