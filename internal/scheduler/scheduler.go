package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"meetsync/internal/backoff"
	"meetsync/internal/config"
	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/matcher"
	"meetsync/internal/meetings"
	"meetsync/internal/metrics"
	"meetsync/internal/notifications"
	"meetsync/internal/sources"
	"meetsync/internal/transcript"
)

// RecordStore is the ledger surface the scheduler mutates.
type RecordStore interface {
	DueRecords(ctx context.Context, source string, now time.Time) ([]*ledger.SyncRecord, error)
	ClaimedRecordings(ctx context.Context, source string) (map[string]string, error)
	RecordsForMeetings(ctx context.Context, source string, meetingIDs []string) (map[string][]*ledger.SyncRecord, error)
	CreateIfAbsent(ctx context.Context, rec ledger.NewRecord) (*ledger.SyncRecord, bool, error)
	Transition(ctx context.Context, rec *ledger.SyncRecord, from ledger.State) error
	ResetInFlight(ctx context.Context, now time.Time) (int64, error)
	Counts(ctx context.Context, source string) (ledger.Counts, error)
}

// SettingsStore supplies per-source settings at the start of each tick and
// receives the tick outcome.
type SettingsStore interface {
	SourceSettings(ctx context.Context, source string) (ledger.SourceSettings, error)
	SetCheckpoint(ctx context.Context, source string, at time.Time) error
	MarkSynced(ctx context.Context, source string, at time.Time) error
	RecordError(ctx context.Context, source, message string, at time.Time) error
}

// Dependencies bundles the collaborators of a Scheduler.
type Dependencies struct {
	Records  RecordStore
	Settings SettingsStore
	Meetings meetings.Store
	Sources  *sources.Registry
	Writer   *transcript.Writer
	Notifier notifications.Service
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used for scheduling decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackoff replaces the configured retry policy on every lane.
func WithBackoff(policy backoff.Policy) Option {
	return func(s *Scheduler) {
		if policy != nil {
			s.backoff = policy
		}
	}
}

// Scheduler owns one lane per registered source.
type Scheduler struct {
	cfg        *config.Config
	records    RecordStore
	settings   SettingsStore
	meetings   meetings.Store
	writer     *transcript.Writer
	notifier   notifications.Service
	metrics    *metrics.Metrics
	matcher    *matcher.Matcher
	backoff    backoff.Policy
	logger     *slog.Logger
	now        func() time.Time
	stagingDir string

	lanes map[string]*lane
	order []string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type lane struct {
	source  string
	adapter sources.Adapter
	backoff backoff.Policy
	base    *slog.Logger // component only; request fields come from context
	logger  *slog.Logger
	sem     chan struct{}
	wake    chan struct{}
	tickMu  sync.Mutex
}

// New validates dependencies and builds one lane per registered adapter.
func New(cfg *config.Config, deps Dependencies, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("scheduler: config is required")
	}
	if deps.Records == nil || deps.Settings == nil {
		return nil, errors.New("scheduler: ledger stores are required")
	}
	if deps.Meetings == nil {
		return nil, errors.New("scheduler: meeting store is required")
	}
	if deps.Sources == nil || len(deps.Sources.Names()) == 0 {
		return nil, errors.New("scheduler: no sources registered")
	}
	writer := deps.Writer
	if writer == nil {
		writer = transcript.NewWriter(cfg.Paths.TranscriptsDir)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{}, nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Scheduler{
		cfg:        cfg,
		records:    deps.Records,
		settings:   deps.Settings,
		meetings:   deps.Meetings,
		writer:     writer,
		notifier:   notifier,
		metrics:    deps.Metrics,
		matcher:    matcher.New(cfg.Sync.MatchThreshold),
		logger:     logger,
		now:        time.Now,
		stagingDir: filepath.Join(cfg.Paths.StateDir, "staging"),
		lanes:      make(map[string]*lane),
	}
	for _, name := range deps.Sources.Names() {
		adapter, _ := deps.Sources.Get(name)
		policy, err := backoff.ForSource(cfg, name)
		if err != nil {
			return nil, err
		}
		base := logging.NewComponentLogger(logger, fmt.Sprintf("scheduler-%s-lane", name))
		s.lanes[name] = &lane{
			source:  name,
			adapter: adapter,
			backoff: policy,
			base:    base,
			logger:  base.With(logging.String(logging.FieldSource, name)),
			sem:     make(chan struct{}, 1),
			wake:    make(chan struct{}, 1),
		}
		s.order = append(s.order, name)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backoff != nil {
		for _, l := range s.lanes {
			l.backoff = s.backoff
		}
	}
	return s, nil
}

// Sources lists the sources with a lane.
func (s *Scheduler) Sources() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether source has a lane.
func (s *Scheduler) Has(source string) bool {
	_, ok := s.lanes[source]
	return ok
}

// Wake requests an early tick for source. It never blocks; repeated calls
// before the lane wakes collapse into one.
func (s *Scheduler) Wake(source string) {
	l, ok := s.lanes[source]
	if !ok {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// TestConnection runs the adapter's connection check under the source's
// semaphore and call timeout. A failure is stored as the source's last error.
func (s *Scheduler) TestConnection(ctx context.Context, source string) error {
	l, ok := s.lanes[source]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownSource, source)
	}
	err := s.call(ctx, l, "test_connection", func(callCtx context.Context) error {
		return l.adapter.TestConnection(callCtx)
	})
	if err != nil {
		s.recordSourceError(context.WithoutCancel(ctx), l, err, s.now().UTC())
	}
	return err
}

func (s *Scheduler) stagingPath(recordID string) string {
	return filepath.Join(s.stagingDir, recordID+".json")
}

func (l *lane) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lane) release() {
	<-l.sem
}
