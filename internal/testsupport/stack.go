package testsupport

import (
	"testing"

	"meetsync/internal/backfill"
	"meetsync/internal/config"
	"meetsync/internal/control"
	"meetsync/internal/ledger"
	"meetsync/internal/meetings"
	"meetsync/internal/metrics"
	"meetsync/internal/scheduler"
	"meetsync/internal/sources"
)

// Stack is a fully wired scheduler and control service backed by fake
// adapters, for transport tests.
type Stack struct {
	Config    *config.Config
	Store     *ledger.Store
	Cache     *FakeAdapter
	Bridge    *FakeAdapter
	Scheduler *scheduler.Scheduler
	Control   *control.Service
	Metrics   *metrics.Metrics
}

// NewStack wires both sources to fake adapters.
func NewStack(t testing.TB, opts ...ConfigOption) *Stack {
	t.Helper()

	cfg := NewConfig(t, opts...)
	store := MustOpenStore(t, cfg)
	cache := NewFakeAdapter(config.SourceCache)
	bridge := NewFakeAdapter(config.SourceBridge)
	registry, err := sources.NewRegistry(cache, bridge)
	if err != nil {
		t.Fatalf("sources.NewRegistry: %v", err)
	}
	notes := meetings.NewNoteStore(cfg.Paths.MeetingsDir)
	m := metrics.New()

	sched, err := scheduler.New(cfg, scheduler.Dependencies{
		Records:  store,
		Settings: store,
		Meetings: notes,
		Sources:  registry,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	runner := backfill.New(cfg, store, notes, nil)
	svc, err := control.New(store, sched, runner, nil, control.Options{AutoBackfill: cfg.Backfill.AutoOnFirstEnable})
	if err != nil {
		t.Fatalf("control.New: %v", err)
	}
	return &Stack{
		Config:    cfg,
		Store:     store,
		Cache:     cache,
		Bridge:    bridge,
		Scheduler: sched,
		Control:   svc,
		Metrics:   m,
	}
}
