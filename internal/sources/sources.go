// Package sources defines the contract every meeting-recording provider
// implements and the values exchanged with the scheduler.
//
// Adapters report failures as errors classified with the services markers:
// services.ErrPermanent when the provider confirms a recording is gone or its
// format is unusable, services.ErrConfiguration when credentials or paths are
// missing, and anything else is treated as transient. Discover may return
// overlapping results across calls; deduplication happens in the ledger.
package sources

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Candidate is a recording reported by Discover.
type Candidate struct {
	RecordingID  string    `json:"recording_id"`
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Participants []string  `json:"participants,omitempty"`
}

// Checkpoint bounds a discovery window. A zero Since asks for everything the
// provider still holds.
type Checkpoint struct {
	Since time.Time
}

// Format identifies the transcript payload encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Segment is one speaker turn.
type Segment struct {
	Speaker string        `json:"speaker,omitempty"`
	Offset  time.Duration `json:"offset,omitempty"`
	Text    string        `json:"text"`
}

// Transcript is the content returned by FetchTranscript.
type Transcript struct {
	RecordingID string    `json:"recording_id"`
	Format      Format    `json:"format"`
	Content     string    `json:"content"`
	Segments    []Segment `json:"segments,omitempty"`
}

// Adapter is implemented by every recording provider.
type Adapter interface {
	Name() string
	Discover(ctx context.Context, since Checkpoint) ([]Candidate, error)
	FetchTranscript(ctx context.Context, recordingID string) (Transcript, error)
	TestConnection(ctx context.Context) error
}

// Watcher is implemented by adapters that can notice new recordings between
// ticks. Watch blocks until ctx is done, calling notify after changes settle.
type Watcher interface {
	Watch(ctx context.Context, notify func()) error
}

// Registry holds the configured adapters keyed by source name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from adapters, rejecting duplicate names.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := adapter.Name()
		if _, exists := r.adapters[name]; exists {
			return nil, fmt.Errorf("duplicate source adapter %q", name)
		}
		r.adapters[name] = adapter
	}
	return r, nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
