// Package services defines shared utilities consumed by the scheduler, the
// source adapters, and the control surface.
//
// Key responsibilities:
//   - Context helpers that stamp sync record IDs, source tags, transition
//     names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let adapters tell the
//     scheduler whether a failure is transient (retry with backoff), permanent
//     (abandon without spending retry budget), or a configuration problem
//     (surface immediately in status).
//
// Use these helpers when wiring new adapters so retry behaviour stays uniform
// across every recording source.
package services
