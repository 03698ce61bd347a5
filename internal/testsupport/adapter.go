package testsupport

import (
	"context"
	"sync"

	"meetsync/internal/services"
	"meetsync/internal/sources"
)

// FakeAdapter is a scriptable sources.Adapter.
type FakeAdapter struct {
	SourceName string

	mu            sync.Mutex
	candidates    []sources.Candidate
	transcripts   map[string]sources.Transcript
	fetchErrors   map[string][]error
	discoverErr   error
	testErr       error
	onFetch       func(recordingID string)
	discoverCalls int
	fetchCalls    int
	lastSince     sources.Checkpoint
}

// NewFakeAdapter returns an adapter reporting name.
func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{
		SourceName:  name,
		transcripts: make(map[string]sources.Transcript),
		fetchErrors: make(map[string][]error),
	}
}

// AddRecording makes a candidate discoverable with the given transcript.
func (f *FakeAdapter) AddRecording(c sources.Candidate, tr sources.Transcript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	if tr.RecordingID == "" {
		tr.RecordingID = c.RecordingID
	}
	f.transcripts[c.RecordingID] = tr
}

// FailFetch queues errors returned by successive FetchTranscript calls for id.
func (f *FakeAdapter) FailFetch(id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrors[id] = append(f.fetchErrors[id], errs...)
}

// SetDiscoverError makes Discover fail until cleared with nil.
func (f *FakeAdapter) SetDiscoverError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverErr = err
}

// SetTestError sets the TestConnection result.
func (f *FakeAdapter) SetTestError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testErr = err
}

// OnFetch registers a hook run at the start of every FetchTranscript call.
func (f *FakeAdapter) OnFetch(hook func(recordingID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFetch = hook
}

// Calls returns the number of Discover and FetchTranscript calls.
func (f *FakeAdapter) Calls() (discover, fetch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoverCalls, f.fetchCalls
}

// LastSince returns the checkpoint passed to the most recent Discover.
func (f *FakeAdapter) LastSince() sources.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSince
}

func (f *FakeAdapter) Name() string { return f.SourceName }

func (f *FakeAdapter) Discover(_ context.Context, since sources.Checkpoint) ([]sources.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	f.lastSince = since
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	out := make([]sources.Candidate, len(f.candidates))
	copy(out, f.candidates)
	return out, nil
}

func (f *FakeAdapter) FetchTranscript(_ context.Context, recordingID string) (sources.Transcript, error) {
	f.mu.Lock()
	f.fetchCalls++
	hook := f.onFetch
	var queued error
	if errs := f.fetchErrors[recordingID]; len(errs) > 0 {
		queued = errs[0]
		f.fetchErrors[recordingID] = errs[1:]
	}
	tr, ok := f.transcripts[recordingID]
	f.mu.Unlock()

	if hook != nil {
		hook(recordingID)
	}
	if queued != nil {
		return sources.Transcript{}, queued
	}
	if !ok {
		return sources.Transcript{}, services.Wrap(services.ErrPermanent, "fake", "fetch transcript", "unknown recording "+recordingID, nil)
	}
	return tr, nil
}

func (f *FakeAdapter) TestConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testErr
}
