// Package preflight provides readiness checks for the directories and
// remote endpoints meetsync depends on.
//
// The daemon runs RunAll at startup and logs every failed check as a
// warning; `meetsync config validate --check` prints the same results.
// Checks for disabled sources are skipped.
package preflight
