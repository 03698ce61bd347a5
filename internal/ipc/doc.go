// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and request/response DTOs. Responses
// reuse the api package types so the CLI renders the same payloads the HTTP
// API returns. The client decorates calls with a dial timeout so CLI commands
// fail fast when the daemon is offline.
package ipc
