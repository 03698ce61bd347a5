// Package scheduler drives sync records through their state machine.
//
// Each registered source gets one lane: a goroutine that ticks at the
// source's poll interval, re-read from the ledger at the start of every
// tick. A tick discovers recordings once, assigns unclaimed recordings to
// meetings, and then advances every due row by one step, persisting each row
// before moving to the next. Adapter calls for a source are serialized by a
// semaphore that manual connection tests share, and every call is bounded by
// the configured call timeout.
//
// Failures are classified with the services markers. Transient failures
// consume one attempt and are retried after the backoff delay; permanent
// failures abandon the row without spending attempts; configuration errors
// are stored on the source and end the tick early.
package scheduler
