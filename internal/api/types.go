package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SyncRecord describes a sync row in a transport-friendly format.
type SyncRecord struct {
	ID              string   `json:"id"`
	MeetingID       string   `json:"meetingId"`
	MeetingTitle    string   `json:"meetingTitle"`
	Source          string   `json:"source"`
	RecordingID     string   `json:"recordingId,omitempty"`
	State           string   `json:"state"`
	Attempts        int      `json:"attempts"`
	MaxAttempts     int      `json:"maxAttempts"`
	NextAttemptAt   string   `json:"nextAttemptAt,omitempty"`
	LastAttemptAt   string   `json:"lastAttemptAt,omitempty"`
	CompletedAt     string   `json:"completedAt,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	MatchConfidence *float64 `json:"matchConfidence,omitempty"`
	TranscriptPath  string   `json:"transcriptPath,omitempty"`
	RetryRequested  bool     `json:"retryRequested"`
	Origin          string   `json:"origin"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
}

// RecordCounts buckets rows by lifecycle stage.
type RecordCounts struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
	Abandoned int `json:"abandoned"`
	Total     int `json:"total"`
}

// SourceStatus is the read model returned by GetStatus.
type SourceStatus struct {
	Source              string       `json:"source"`
	Enabled             bool         `json:"enabled"`
	PollIntervalMinutes int          `json:"pollIntervalMinutes"`
	Counts              RecordCounts `json:"counts"`
	LastSyncAt          string       `json:"lastSyncAt,omitempty"`
	LastError           string       `json:"lastError,omitempty"`
	LastErrorAt         string       `json:"lastErrorAt,omitempty"`
	CheckpointAt        string       `json:"checkpointAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	LockFilePath  string         `json:"lockFilePath"`
	LedgerBackend string         `json:"ledgerBackend"`
	Sources       []SourceStatus `json:"sources"`
}

// BackfillResult reports rows created by a backfill run.
type BackfillResult struct {
	Source   string `json:"source"`
	Created  int    `json:"created"`
	Eligible int    `json:"eligible"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// EnableResult is returned when a source is toggled. Backfill is set when the
// first enable triggered an automatic run.
type EnableResult struct {
	Status   SourceStatus    `json:"status"`
	Backfill *BackfillResult `json:"backfill,omitempty"`
}

// ConnectionTest reports the outcome of a source connectivity check.
type ConnectionTest struct {
	Source  string `json:"source"`
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// RecordListResponse wraps a collection of sync records.
type RecordListResponse struct {
	Items []SyncRecord `json:"items"`
}

// RecordResponse wraps a single sync record.
type RecordResponse struct {
	Item SyncRecord `json:"item"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
