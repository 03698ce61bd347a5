package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meetsync/internal/api"
	"meetsync/internal/backfill"
	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/services"
)

// Store is the ledger surface used by the control service.
type Store interface {
	SourceSettings(ctx context.Context, source string) (ledger.SourceSettings, error)
	SetEnabled(ctx context.Context, source string, enabled bool) (bool, error)
	SetPollInterval(ctx context.Context, source string, minutes int) error
	Counts(ctx context.Context, source string) (ledger.Counts, error)
	List(ctx context.Context, source string, states ...ledger.State) ([]*ledger.SyncRecord, error)
	GetByID(ctx context.Context, id string) (*ledger.SyncRecord, error)
	RequestRetry(ctx context.Context, id string, now time.Time) (*ledger.SyncRecord, error)
}

// Lanes is the scheduler surface used to hand work to source lanes.
type Lanes interface {
	Sources() []string
	Has(source string) bool
	Wake(source string)
	TestConnection(ctx context.Context, source string) error
}

// Backfiller creates historical rows for a source.
type Backfiller interface {
	Run(ctx context.Context, source string, windowDays int) (backfill.Result, error)
}

// Options tunes the control service.
type Options struct {
	// AutoBackfill runs a backfill the first time a source is ever enabled.
	AutoBackfill bool
	Now          func() time.Time
}

// Service implements GetStatus, SetEnabled, SetPollInterval, StartBackfill,
// RetrySync, TestConnection, ListRecords, and GetRecord.
type Service struct {
	store    Store
	lanes    Lanes
	backfill Backfiller
	auto     bool
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a control service.
func New(store Store, lanes Lanes, backfiller Backfiller, logger *slog.Logger, opts Options) (*Service, error) {
	if store == nil || lanes == nil {
		return nil, errors.New("control: store and lanes are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		lanes:    lanes,
		backfill: backfiller,
		auto:     opts.AutoBackfill && backfiller != nil,
		logger:   logging.NewComponentLogger(logger, "control"),
		now:      now,
	}, nil
}

// Sources lists the registered sources in registration order.
func (s *Service) Sources() []string {
	return s.lanes.Sources()
}

// GetStatus returns the read model for one source.
func (s *Service) GetStatus(ctx context.Context, source string) (api.SourceStatus, error) {
	if err := s.checkSource(source); err != nil {
		return api.SourceStatus{}, err
	}
	settings, err := s.store.SourceSettings(ctx, source)
	if err != nil {
		return api.SourceStatus{}, err
	}
	counts, err := s.store.Counts(ctx, source)
	if err != nil {
		return api.SourceStatus{}, err
	}
	return api.FromSettings(settings, counts), nil
}

// Statuses returns GetStatus for every registered source.
func (s *Service) Statuses(ctx context.Context) ([]api.SourceStatus, error) {
	names := s.lanes.Sources()
	out := make([]api.SourceStatus, 0, len(names))
	for _, name := range names {
		status, err := s.GetStatus(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("status for %s: %w", name, err)
		}
		out = append(out, status)
	}
	return out, nil
}

// SetEnabled toggles a source. The first ever enable triggers a backfill when
// configured; either way the lane is woken so enabling takes effect without
// waiting for the poll interval.
func (s *Service) SetEnabled(ctx context.Context, source string, enabled bool) (api.EnableResult, error) {
	if err := s.checkSource(source); err != nil {
		return api.EnableResult{}, err
	}
	firstEnable, err := s.store.SetEnabled(ctx, source, enabled)
	if err != nil {
		return api.EnableResult{}, err
	}
	s.logger.Info("source toggled",
		logging.String(logging.FieldSource, source),
		logging.Bool("enabled", enabled),
		logging.Bool("first_enable", firstEnable),
		logging.String(logging.FieldEventType, "source_toggled"),
	)

	var result api.EnableResult
	if firstEnable && s.auto {
		run, err := s.backfill.Run(ctx, source, 0)
		if err != nil {
			logging.WarnWithContext(s.logger, "automatic backfill failed", "backfill_failed",
				logging.String(logging.FieldSource, source),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run the backfill manually once the meeting store is reachable"),
			)
		} else {
			dto := toBackfillResult(run)
			result.Backfill = &dto
		}
	}
	if enabled {
		s.lanes.Wake(source)
	}

	status, err := s.GetStatus(ctx, source)
	if err != nil {
		return api.EnableResult{}, err
	}
	result.Status = status
	return result, nil
}

// SetPollInterval changes the tick interval for a source.
func (s *Service) SetPollInterval(ctx context.Context, source string, minutes int) (api.SourceStatus, error) {
	if err := s.checkSource(source); err != nil {
		return api.SourceStatus{}, err
	}
	if minutes <= 0 {
		return api.SourceStatus{}, services.Wrap(services.ErrValidation, "control", "set interval",
			fmt.Sprintf("poll interval must be positive, got %d", minutes), nil)
	}
	if err := s.store.SetPollInterval(ctx, source, minutes); err != nil {
		return api.SourceStatus{}, err
	}
	s.lanes.Wake(source)
	return s.GetStatus(ctx, source)
}

// StartBackfill creates pending rows for eligible past meetings. A
// non-positive windowDays uses the configured window.
func (s *Service) StartBackfill(ctx context.Context, source string, windowDays int) (api.BackfillResult, error) {
	if err := s.checkSource(source); err != nil {
		return api.BackfillResult{}, err
	}
	if s.backfill == nil {
		return api.BackfillResult{}, services.Wrap(services.ErrConfiguration, "control", "backfill", "backfill runner unavailable", nil)
	}
	run, err := s.backfill.Run(ctx, source, windowDays)
	if err != nil {
		return api.BackfillResult{}, err
	}
	if run.Created > 0 {
		s.lanes.Wake(source)
	}
	return toBackfillResult(run), nil
}

// RetrySync resets a failed or abandoned row to pending with a fresh retry
// budget and wakes its lane.
func (s *Service) RetrySync(ctx context.Context, id string) (api.SyncRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return api.SyncRecord{}, services.Wrap(services.ErrValidation, "control", "retry", "record id is required", nil)
	}
	rec, err := s.store.RequestRetry(ctx, id, s.now().UTC())
	if err != nil {
		return api.SyncRecord{}, err
	}
	s.logger.Info("manual retry requested",
		logging.String(logging.FieldRecordID, rec.ID),
		logging.String(logging.FieldMeetingID, rec.MeetingID),
		logging.String(logging.FieldSource, rec.Source),
		logging.String(logging.FieldEventType, "retry_requested"),
	)
	s.lanes.Wake(rec.Source)
	return api.FromRecord(rec), nil
}

// TestConnection checks a source. Adapter failures are reported in the
// result rather than as an error so callers can render them.
func (s *Service) TestConnection(ctx context.Context, source string) (api.ConnectionTest, error) {
	if err := s.checkSource(source); err != nil {
		return api.ConnectionTest{}, err
	}
	result := api.ConnectionTest{Source: source}
	if err := s.lanes.TestConnection(ctx, source); err != nil {
		result.Kind = string(services.Classify(err))
		result.Message = services.Message(err)
		return result, nil
	}
	result.OK = true
	result.Message = "connection ok"
	return result, nil
}

// ListRecords returns rows for source (every source when empty) filtered by
// states.
func (s *Service) ListRecords(ctx context.Context, source string, states []string) ([]api.SyncRecord, error) {
	if source != "" {
		if err := s.checkSource(source); err != nil {
			return nil, err
		}
	}
	parsed, err := api.ParseStates(states)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "control", "list", "invalid state filter", err)
	}
	records, err := s.store.List(ctx, source, parsed...)
	if err != nil {
		return nil, err
	}
	return api.FromRecords(records), nil
}

// GetRecord fetches a single row.
func (s *Service) GetRecord(ctx context.Context, id string) (api.SyncRecord, error) {
	rec, err := s.store.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return api.SyncRecord{}, err
	}
	if rec == nil {
		return api.SyncRecord{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	return api.FromRecord(rec), nil
}

func (s *Service) checkSource(source string) error {
	if !s.lanes.Has(source) {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownSource, source)
	}
	return nil
}

func toBackfillResult(run backfill.Result) api.BackfillResult {
	out := api.BackfillResult{
		Source:   run.Source,
		Created:  run.Created,
		Eligible: run.Eligible,
	}
	if !run.From.IsZero() {
		out.From = run.From.UTC().Format(time.RFC3339)
	}
	if !run.To.IsZero() {
		out.To = run.To.UTC().Format(time.RFC3339)
	}
	return out
}
