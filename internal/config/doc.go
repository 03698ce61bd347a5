// Package config loads, normalizes, and validates meetsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEETSYNC_BRIDGE_TOKEN. The Config type centralizes every knob the daemon and
// CLI need: where the ledger lives, how sources are polled, how failures are
// retried, and which consumers hear about finished transcripts.
//
// Source settings in this package are startup defaults only. Once a user
// enables, disables, or re-times a source the ledger's persisted settings win.
package config
