package ledger

import (
	"errors"
	"strings"
	"time"
)

// State represents the lifecycle of a sync record.
type State string

const (
	StatePending    State = "pending"
	StatePolling    State = "polling"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateAbandoned  State = "abandoned"
)

// Origin records which path created a sync record.
type Origin string

const (
	OriginBackfill  Origin = "backfill"
	OriginDiscovery Origin = "discovery"
)

var (
	// ErrConflict indicates the row changed state underneath the caller.
	ErrConflict = errors.New("sync record state changed concurrently")
	// ErrInvalidTransition indicates the requested state change is not permitted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotFound indicates no row matched the identifier.
	ErrNotFound = errors.New("sync record not found")
	// ErrUnknownSource indicates no settings row exists for the source.
	ErrUnknownSource = errors.New("unknown source")
)

var allStates = []State{
	StatePending,
	StatePolling,
	StateFetching,
	StateProcessing,
	StateCompleted,
	StateFailed,
	StateAbandoned,
}

// schedulableStates are the states the scheduler loads on each tick.
var schedulableStates = []State{
	StatePending,
	StatePolling,
	StateFetching,
	StateProcessing,
	StateFailed,
}

var transitions = map[State]map[State]struct{}{
	StatePending:    {StatePending: {}, StatePolling: {}},
	StatePolling:    {StatePolling: {}, StateFetching: {}, StateFailed: {}, StateAbandoned: {}},
	StateFetching:   {StatePolling: {}, StateProcessing: {}, StateFailed: {}, StateAbandoned: {}},
	StateProcessing: {StateProcessing: {}, StateCompleted: {}, StateFailed: {}, StateAbandoned: {}},
	StateFailed:     {StateFailed: {}, StatePolling: {}, StateAbandoned: {}},
}

// ParseState normalizes a user supplied state name.
func ParseState(value string) (State, bool) {
	candidate := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == candidate {
			return state, true
		}
	}
	return "", false
}

// AllStates returns every state in lifecycle order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// Terminal reports whether no automatic transition leaves the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// Active reports whether the row is mid-cycle.
func (s State) Active() bool {
	return s == StatePolling || s == StateFetching || s == StateProcessing
}

// CanTransition reports whether the scheduler may move a row from one state
// to another. Same-state moves reschedule without changing state.
func CanTransition(from, to State) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// SyncRecord tracks one (meeting, source) synchronization attempt.
type SyncRecord struct {
	ID                  string
	MeetingID           string
	MeetingTitle        string
	Source              string
	ExternalRecordingID string
	State               State
	Attempts            int
	MaxAttempts         int
	NextAttemptAt       time.Time
	LastAttemptAt       *time.Time
	CompletedAt         *time.Time
	ErrorMessage        string
	MatchConfidence     *float64
	TranscriptPath      string
	RetryRequested      bool
	Origin              Origin
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Matched reports whether a recording has been assigned.
func (r *SyncRecord) Matched() bool {
	return r != nil && r.ExternalRecordingID != ""
}

// Exhausted reports whether the retry budget has been consumed.
func (r *SyncRecord) Exhausted() bool {
	return r != nil && r.Attempts >= r.MaxAttempts
}

// Due reports whether the scheduler should touch the row at now.
func (r *SyncRecord) Due(now time.Time) bool {
	if r == nil || r.State.Terminal() {
		return false
	}
	return r.RetryRequested || !r.NextAttemptAt.After(now)
}

// NewRecord describes a row to create.
type NewRecord struct {
	MeetingID           string
	MeetingTitle        string
	Source              string
	ExternalRecordingID string
	MatchConfidence     *float64
	MaxAttempts         int
	Origin              Origin
	NextAttemptAt       time.Time
}

// Counts aggregates rows per lifecycle bucket for one source.
type Counts struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
	Abandoned int `json:"abandoned"`
	Total     int `json:"total"`
}

// SourceSettings is the persisted, user-mutable view of one source.
type SourceSettings struct {
	Source              string
	Enabled             bool
	PollIntervalMinutes int
	EverEnabled         bool
	Checkpoint          *time.Time
	LastSyncAt          *time.Time
	LastError           string
	LastErrorAt         *time.Time
	UpdatedAt           time.Time
}

// PollInterval converts the stored minutes to a duration.
func (s SourceSettings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMinutes) * time.Minute
}

// DatabaseHealth captures diagnostic information about the ledger database.
type DatabaseHealth struct {
	Backend        string
	Location       string
	Reachable      bool
	SchemaVersion  int
	IntegrityCheck bool
	TotalRecords   int
	Error          string
}
