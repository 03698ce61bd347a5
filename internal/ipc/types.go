package ipc

import "meetsync/internal/api"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and source status.
type StatusResponse = api.DaemonStatus

// SourceRequest targets a single source.
type SourceRequest struct {
	Source string `json:"source"`
}

// SetEnabledRequest toggles a source.
type SetEnabledRequest struct {
	Source  string `json:"source"`
	Enabled bool   `json:"enabled"`
}

// SetIntervalRequest changes a source's poll interval.
type SetIntervalRequest struct {
	Source  string `json:"source"`
	Minutes int    `json:"minutes"`
}

// BackfillRequest starts a backfill. Days <= 0 uses the configured window.
type BackfillRequest struct {
	Source string `json:"source"`
	Days   int    `json:"days"`
}

// RecordRequest targets a single sync record.
type RecordRequest struct {
	ID string `json:"id"`
}

// ListRecordsRequest filters records by source and state.
type ListRecordsRequest struct {
	Source string   `json:"source"`
	States []string `json:"states"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
