// Package control implements the status and control surface shared by the
// HTTP API and the IPC server.
//
// Writes are synchronous acknowledgements: they update the ledger and wake
// the affected scheduler lane, leaving adapter I/O to the lane itself. The
// exception is TestConnection, which calls the adapter directly under the
// lane's per-call timeout and concurrency limit.
package control
