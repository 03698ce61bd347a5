package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/matcher"
	"meetsync/internal/meetings"
	"meetsync/internal/services"
	"meetsync/internal/sources"
)

// TickResult summarizes one tick of a lane.
type TickResult struct {
	Skipped    bool
	Discovered int
	Created    int
	Advanced   int
}

// tickState carries per-tick values shared by the row handlers.
type tickState struct {
	lane           *lane
	settings       ledger.SourceSettings
	now            time.Time
	logger         *slog.Logger
	discoverFailed bool
	matches        map[string]matcher.Match
	skip           map[string]struct{}
}

// Tick runs one scheduling pass for source. It returns an error when the
// pass could not run or was cut short by a source level failure; individual
// row failures are persisted on the rows instead.
func (s *Scheduler) Tick(ctx context.Context, source string) (TickResult, error) {
	var result TickResult
	l, ok := s.lanes[source]
	if !ok {
		return result, fmt.Errorf("%w: %s", ledger.ErrUnknownSource, source)
	}
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	ctx = services.WithSource(ctx, source)
	settings, err := s.settings.SourceSettings(ctx, source)
	if err != nil {
		s.metrics.Tick(source, "error")
		return result, fmt.Errorf("load source settings: %w", err)
	}
	if !settings.Enabled {
		result.Skipped = true
		s.metrics.Tick(source, "skipped")
		return result, nil
	}

	t := &tickState{
		lane:     l,
		settings: settings,
		now:      s.now().UTC(),
		logger:   logging.WithContext(ctx, l.base),
		matches:  make(map[string]matcher.Match),
		skip:     make(map[string]struct{}),
	}

	due, err := s.records.DueRecords(ctx, source, t.now)
	if err != nil {
		s.metrics.Tick(source, "error")
		return result, fmt.Errorf("load due records: %w", err)
	}

	pending := s.pendingMeetings(ctx, t, due)
	since := discoverySince(settings, t.now, s.cfg.DiscoveryWindow(), pending)
	candidates, discoverErr := callAdapter(s, ctx, l, "discover", func(callCtx context.Context) ([]sources.Candidate, error) {
		return l.adapter.Discover(callCtx, sources.Checkpoint{Since: since})
	})
	if discoverErr != nil {
		if errors.Is(discoverErr, context.Canceled) {
			return result, discoverErr
		}
		s.recordSourceError(ctx, l, discoverErr, t.now)
		if services.IsConfiguration(discoverErr) {
			s.metrics.Tick(source, "error")
			return result, discoverErr
		}
		t.discoverFailed = true
		t.logger.Warn("discovery failed; advancing matched rows only",
			logging.Error(discoverErr),
			logging.String(logging.FieldErrorKind, string(services.Classify(discoverErr))),
			logging.String(logging.FieldEventType, "discover_failed"),
		)
	} else {
		result.Discovered = len(candidates)
		s.metrics.Discovered(source, len(candidates))
		created := s.assign(ctx, t, pending, candidates)
		result.Created = len(created)
		due = append(due, created...)
	}

	var tickErr error
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		if current, err := s.settings.SourceSettings(ctx, source); err == nil && !current.Enabled {
			t.logger.Info("source disabled; ending tick early",
				logging.String(logging.FieldEventType, "tick_interrupted"),
			)
			break
		}
		advanced, err := s.advance(context.WithoutCancel(ctx), t, rec)
		if advanced {
			result.Advanced++
		}
		if err != nil {
			s.recordSourceError(ctx, l, err, t.now)
			tickErr = err
			break
		}
	}

	if tickErr == nil && !t.discoverFailed {
		persistCtx := context.WithoutCancel(ctx)
		if err := s.settings.SetCheckpoint(persistCtx, source, t.now); err != nil {
			t.logger.Warn("failed to store discovery checkpoint", logging.Error(err))
		}
		if err := s.settings.MarkSynced(persistCtx, source, t.now); err != nil {
			t.logger.Warn("failed to store sync time", logging.Error(err))
		}
	}
	s.publishCounts(ctx, l)

	switch {
	case tickErr != nil, t.discoverFailed:
		s.metrics.Tick(source, "error")
	default:
		s.metrics.Tick(source, "ok")
	}
	t.logger.Debug("tick finished",
		logging.Int("discovered", result.Discovered),
		logging.Int("created", result.Created),
		logging.Int("advanced", result.Advanced),
		logging.Int("due", len(due)),
	)
	return result, tickErr
}

// pendingMeetings resolves the meetings of due rows that still need a
// recording. Rows whose meeting cannot be read this tick are skipped.
func (s *Scheduler) pendingMeetings(ctx context.Context, t *tickState, due []*ledger.SyncRecord) map[string]meetings.Meeting {
	out := make(map[string]meetings.Meeting)
	for _, rec := range due {
		if rec.State != ledger.StatePending || rec.Matched() {
			continue
		}
		meeting, err := s.meetings.Meeting(ctx, rec.MeetingID)
		if err != nil {
			if errors.Is(err, meetings.ErrNotFound) {
				t.logger.Warn("meeting note missing for pending record",
					logging.String(logging.FieldRecordID, rec.ID),
					logging.String(logging.FieldMeetingID, rec.MeetingID),
				)
				continue
			}
			t.logger.Warn("meeting lookup failed; record skipped this tick",
				logging.String(logging.FieldRecordID, rec.ID),
				logging.Error(err),
			)
			t.skip[rec.ID] = struct{}{}
			continue
		}
		out[rec.ID] = meeting
	}
	return out
}

// discoverySince picks the Discover watermark. It reaches back far enough to
// cover the live discovery window, any gap since the stored checkpoint, and
// the oldest meeting still waiting for a recording.
func discoverySince(settings ledger.SourceSettings, now time.Time, window time.Duration, pending map[string]meetings.Meeting) time.Time {
	since := now.Add(-window)
	if settings.Checkpoint != nil {
		if cp := settings.Checkpoint.Add(-window); cp.Before(since) {
			since = cp
		}
	}
	for _, meeting := range pending {
		if meeting.Start.IsZero() {
			continue
		}
		if start := meeting.Start.Add(-time.Hour); start.Before(since) {
			since = start
		}
	}
	return since
}

// assign matches unclaimed candidates against pending rows and against
// window meetings that have no row for this source yet. Matches for pending
// rows are stashed on the tick; matches for new meetings create rows that
// already carry the recording. The created rows are returned so the same
// tick can advance them.
func (s *Scheduler) assign(ctx context.Context, t *tickState, pending map[string]meetings.Meeting, candidates []sources.Candidate) []*ledger.SyncRecord {
	source := t.lane.source
	if len(candidates) == 0 {
		return nil
	}
	claimed, err := s.records.ClaimedRecordings(ctx, source)
	if err != nil {
		t.logger.Warn("failed to load claimed recordings; skipping assignment", logging.Error(err))
		return nil
	}
	free := make([]sources.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if _, taken := claimed[candidate.RecordingID]; taken {
			continue
		}
		free = append(free, candidate)
	}
	if len(free) == 0 {
		return nil
	}

	pool := make([]meetings.Meeting, 0, len(pending))
	rowByMeeting := make(map[string]string, len(pending))
	for recordID, meeting := range pending {
		if _, dup := rowByMeeting[meeting.ID]; dup {
			continue
		}
		rowByMeeting[meeting.ID] = recordID
		pool = append(pool, meeting)
	}

	window, err := s.meetings.MeetingsInWindow(ctx, t.now.Add(-s.cfg.DiscoveryWindow()), t.now)
	if err != nil {
		t.logger.Warn("failed to list meetings for live discovery", logging.Error(err))
		window = nil
	}
	if len(window) > 0 {
		ids := make([]string, 0, len(window))
		for _, meeting := range window {
			ids = append(ids, meeting.ID)
		}
		existing, err := s.records.RecordsForMeetings(ctx, source, ids)
		if err != nil {
			t.logger.Warn("failed to load records for live discovery", logging.Error(err))
			window = nil
		}
		for _, meeting := range window {
			if meeting.AllDay || len(existing[meeting.ID]) > 0 {
				continue
			}
			if _, dup := rowByMeeting[meeting.ID]; dup {
				continue
			}
			rowByMeeting[meeting.ID] = ""
			pool = append(pool, meeting)
		}
	}

	var created []*ledger.SyncRecord
	for _, match := range s.matcher.Assign(pool, free) {
		if recordID := rowByMeeting[match.Meeting.ID]; recordID != "" {
			t.matches[recordID] = match
			continue
		}
		score := match.Score
		rec, isNew, err := s.records.CreateIfAbsent(ctx, ledger.NewRecord{
			MeetingID:           match.Meeting.ID,
			MeetingTitle:        match.Meeting.Title,
			Source:              source,
			ExternalRecordingID: match.Candidate.RecordingID,
			MatchConfidence:     &score,
			MaxAttempts:         s.cfg.Sync.MaxAttempts,
			Origin:              ledger.OriginDiscovery,
			NextAttemptAt:       t.now,
		})
		if err != nil {
			t.logger.Warn("failed to create discovered record",
				logging.String(logging.FieldMeetingID, match.Meeting.ID),
				logging.String(logging.FieldRecordingID, match.Candidate.RecordingID),
				logging.Error(err),
			)
			continue
		}
		if !isNew {
			continue
		}
		t.logger.Info("recording discovered for meeting",
			logging.String(logging.FieldRecordID, rec.ID),
			logging.String(logging.FieldMeetingID, rec.MeetingID),
			logging.String(logging.FieldRecordingID, rec.ExternalRecordingID),
			logging.Float64("match_confidence", score),
			logging.String(logging.FieldEventType, "recording_discovered"),
		)
		created = append(created, rec)
	}
	return created
}

// call runs fn under the lane semaphore with the per-call timeout.
func (s *Scheduler) call(ctx context.Context, l *lane, op string, fn func(context.Context) error) error {
	_, err := callAdapter(s, ctx, l, op, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(callCtx)
	})
	return err
}

// callAdapter runs fn on its own goroutine and waits at most the call timeout
// for it. A call still running at the deadline fails with ErrTimeout whatever
// it returns later; its late result is dropped. The lane semaphore is held
// until fn actually returns so a stuck adapter still counts as the one call
// in flight for its source. Cancelling ctx does not interrupt a call that
// already started.
func callAdapter[T any](s *Scheduler, ctx context.Context, l *lane, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	timeout := s.cfg.CallTimeout()

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, timeout)
	err := l.acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		err = services.Wrap(services.ErrTimeout, "scheduler", op,
			fmt.Sprintf("%s is still busy with a previous call", l.source), err)
		s.metrics.AdapterCall(l.source, op, time.Now(), err)
		return zero, err
	}

	type outcome struct {
		value T
		err   error
		late  bool
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		defer l.release()
		defer cancel()
		value, callErr := fn(callCtx)
		// callCtx has no parent cancellation, so any error here is the deadline.
		done <- outcome{value: value, err: callErr, late: callCtx.Err() != nil}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-callCtx.Done():
		// Done also closes when fn returns and the goroutine cancels; prefer
		// a result that is already there.
		select {
		case res = <-done:
		default:
			l.logger.Warn("adapter call timed out; result will be discarded",
				logging.String("op", op),
				logging.Duration("timeout", timeout),
				logging.String(logging.FieldEventType, "adapter_call_timeout"),
			)
			res = outcome{err: callCtx.Err(), late: true}
		}
	}
	if res.late && !services.IsPermanent(res.err) {
		cause := res.err
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		res.err = timeoutError(l.source, op, timeout, cause)
	}
	s.metrics.AdapterCall(l.source, op, started, res.err)
	if res.err != nil {
		return zero, res.err
	}
	return res.value, nil
}

func timeoutError(source, op string, timeout time.Duration, cause error) error {
	return services.Wrap(services.ErrTimeout, "scheduler", op,
		fmt.Sprintf("%s call exceeded %s", source, timeout), cause)
}

func (s *Scheduler) recordSourceError(ctx context.Context, l *lane, err error, at time.Time) {
	if recErr := s.settings.RecordError(ctx, l.source, services.Message(err), at); recErr != nil {
		l.logger.Warn("failed to store source error", logging.Error(recErr))
	}
}

func (s *Scheduler) publishCounts(ctx context.Context, l *lane) {
	if s.metrics == nil {
		return
	}
	counts, err := s.records.Counts(ctx, l.source)
	if err != nil {
		return
	}
	s.metrics.SetRecords(l.source, map[string]int{
		"pending":   counts.Pending,
		"active":    counts.Active,
		"failed":    counts.Failed,
		"completed": counts.Completed,
		"abandoned": counts.Abandoned,
	})
}
