// Package logs reads the daemon's log file for `meetsync logs`.
//
// Tail returns the last N lines (negative offset) or everything after a byte
// offset, optionally waiting for new lines to arrive. Match narrows lines to
// a record, meeting, or source so a single sync can be followed.
package logs
