// Package notifications tells transcript consumers that a sync finished.
//
// Two transports are supported and may be combined: ntfy push messages for a
// human, and a JSON Envelope on a NATS subject for downstream automation such
// as the summarization step. When neither is configured the package degrades
// to a no-op so callers never need to nil-check.
package notifications
