// Command meetsync runs the recording sync daemon and drives it over its
// Unix socket.
//
// `meetsync run` starts the daemon in the foreground. The remaining commands
// (status, enable, disable, interval, backfill, retry, test, list, show) are
// thin JSON-RPC clients; `config init` and `config validate` work offline.
package main
