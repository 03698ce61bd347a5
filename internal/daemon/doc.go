// Package daemon coordinates the long-running meetsync process.
//
// It ties the ledger, the per-source scheduler lanes, and the control service
// into a single lifecycle with flock-based locking to prevent multiple
// instances sharing a state directory. The daemon also owns the optional HTTP
// API, which exposes the control surface and Prometheus metrics.
//
// Keep orchestration logic here: scheduling lives in the scheduler package and
// read/write operations live in control; the daemon focuses on startup,
// shutdown, and transport.
package daemon
