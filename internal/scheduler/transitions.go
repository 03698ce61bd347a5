package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"meetsync/internal/fileutil"
	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/meetings"
	"meetsync/internal/notifications"
	"meetsync/internal/services"
	"meetsync/internal/sources"
	"meetsync/internal/transcript"
)

// advance moves rec one step. It reports whether the row changed state and
// returns an error only for failures that must end the tick.
func (s *Scheduler) advance(ctx context.Context, t *tickState, rec *ledger.SyncRecord) (bool, error) {
	if _, skip := t.skip[rec.ID]; skip {
		return false, nil
	}
	ctx = services.WithRecordID(ctx, rec.ID)
	ctx = services.WithStage(ctx, string(rec.State))
	logger := logging.WithContext(ctx, t.lane.base).With(
		logging.String(logging.FieldMeetingID, rec.MeetingID),
	)

	switch rec.State {
	case ledger.StatePending:
		return s.advancePending(ctx, t, logger, rec)
	case ledger.StatePolling:
		return s.advancePolling(ctx, t, logger, rec)
	case ledger.StateFetching:
		return s.advanceFetching(ctx, t, logger, rec)
	case ledger.StateProcessing:
		return s.advanceProcessing(ctx, t, logger, rec)
	case ledger.StateFailed:
		return s.advanceFailed(ctx, t, logger, rec)
	default:
		return false, nil
	}
}

func (s *Scheduler) advancePending(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord) (bool, error) {
	match, matched := t.matches[rec.ID]
	switch {
	case rec.Matched():
	case matched:
		score := match.Score
		rec.ExternalRecordingID = match.Candidate.RecordingID
		rec.MatchConfidence = &score
		logger.Info("recording matched",
			logging.String(logging.FieldRecordingID, rec.ExternalRecordingID),
			logging.Float64("match_confidence", score),
			logging.String(logging.FieldEventType, "recording_matched"),
		)
	case t.discoverFailed:
		return false, nil
	default:
		rec.NextAttemptAt = t.now.Add(t.pollInterval(s))
		rec.RetryRequested = false
		s.persist(ctx, t, logger, rec, ledger.StatePending)
		return false, nil
	}
	rec.State = ledger.StatePolling
	rec.NextAttemptAt = t.now
	rec.RetryRequested = false
	rec.ErrorMessage = ""
	return s.persist(ctx, t, logger, rec, ledger.StatePending), nil
}

// advancePolling starts a fetch attempt. The adapter call itself runs on the
// next tick so each step's failure is attributed to the fetching state.
func (s *Scheduler) advancePolling(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord) (bool, error) {
	attemptAt := t.now
	rec.State = ledger.StateFetching
	rec.LastAttemptAt = &attemptAt
	rec.NextAttemptAt = t.now
	rec.RetryRequested = false
	return s.persist(ctx, t, logger, rec, ledger.StatePolling), nil
}

// advanceFetching downloads the transcript and stages it for processing.
func (s *Scheduler) advanceFetching(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord) (bool, error) {
	fetched, err := callAdapter(s, ctx, t.lane, "fetch_transcript", func(callCtx context.Context) (sources.Transcript, error) {
		return t.lane.adapter.FetchTranscript(callCtx, rec.ExternalRecordingID)
	})
	if err == nil {
		if fetched.RecordingID == "" {
			fetched.RecordingID = rec.ExternalRecordingID
		}
		if writeErr := fileutil.WriteJSONAtomic(s.stagingPath(rec.ID), fetched); writeErr != nil {
			err = services.Wrap(services.ErrTransient, "fetching", "stage transcript", "Could not write staging file", writeErr)
		}
	}
	if err != nil {
		return s.handleFailure(ctx, t, logger, rec, ledger.StateFetching, err)
	}

	rec.State = ledger.StateProcessing
	rec.NextAttemptAt = t.now
	rec.ErrorMessage = ""
	rec.RetryRequested = false
	return s.persist(ctx, t, logger, rec, ledger.StateFetching), nil
}

func (s *Scheduler) advanceProcessing(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord) (bool, error) {
	var staged sources.Transcript
	if err := fileutil.ReadJSON(s.stagingPath(rec.ID), &staged); err != nil {
		return s.handleFailure(ctx, t, logger, rec, ledger.StateProcessing,
			services.Wrap(services.ErrTransient, "processing", "read staging", "Staged transcript is unavailable", err))
	}

	meeting, err := s.meetings.Meeting(ctx, rec.MeetingID)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, meetings.ErrNotFound) {
			marker = services.ErrPermanent
		}
		return s.handleFailure(ctx, t, logger, rec, ledger.StateProcessing,
			services.Wrap(marker, "processing", "load meeting", "Meeting note could not be read", err))
	}

	confidence := 0.0
	if rec.MatchConfidence != nil {
		confidence = *rec.MatchConfidence
	}
	path, err := s.writer.Write(transcript.Document{
		RecordID:        rec.ID,
		MeetingID:       rec.MeetingID,
		MeetingTitle:    meeting.Title,
		MeetingStart:    meeting.Start,
		Source:          rec.Source,
		RecordingID:     rec.ExternalRecordingID,
		MatchConfidence: confidence,
		Transcript:      staged,
	})
	if err != nil {
		if services.Classify(err) != services.KindPermanent {
			err = services.Wrap(services.ErrTransient, "processing", "write transcript", "Transcript file could not be written", err)
		}
		return s.handleFailure(ctx, t, logger, rec, ledger.StateProcessing, err)
	}

	if err := s.meetings.AttachTranscript(ctx, rec.MeetingID, rec.Source, path); err != nil {
		marker := services.ErrTransient
		if errors.Is(err, meetings.ErrNotFound) {
			marker = services.ErrPermanent
		}
		return s.handleFailure(ctx, t, logger, rec, ledger.StateProcessing,
			services.Wrap(marker, "processing", "attach transcript", "Transcript could not be attached to the meeting", err))
	}

	completedAt := t.now
	rec.State = ledger.StateCompleted
	rec.TranscriptPath = path
	rec.CompletedAt = &completedAt
	rec.NextAttemptAt = t.now
	rec.ErrorMessage = ""
	rec.RetryRequested = false
	if !s.persist(ctx, t, logger, rec, ledger.StateProcessing) {
		return false, nil
	}
	if err := os.Remove(s.stagingPath(rec.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug("staging cleanup failed", logging.Error(err))
	}
	logger.Info("transcript synced",
		logging.String("transcript_path", path),
		logging.String(logging.FieldEventType, "sync_completed"),
	)
	s.notify(ctx, logger, notifications.EventTranscriptReady, rec)
	return true, nil
}

func (s *Scheduler) advanceFailed(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord) (bool, error) {
	if rec.Exhausted() {
		rec.State = ledger.StateAbandoned
		rec.NextAttemptAt = t.now
		rec.RetryRequested = false
		if !s.persist(ctx, t, logger, rec, ledger.StateFailed) {
			return false, nil
		}
		logger.Warn("sync abandoned after exhausting retries",
			logging.Int("attempts", rec.Attempts),
			logging.String("error_message", rec.ErrorMessage),
			logging.String(logging.FieldEventType, "sync_abandoned"),
			logging.String(logging.FieldErrorHint, "run `meetsync retry "+rec.ID+"` once the source is healthy"),
		)
		s.notify(ctx, logger, notifications.EventSyncAbandoned, rec)
		return true, nil
	}
	rec.State = ledger.StatePolling
	rec.NextAttemptAt = t.now
	rec.RetryRequested = false
	return s.persist(ctx, t, logger, rec, ledger.StateFailed), nil
}

// persist writes rec with a compare-and-set on from. Storage errors leave the
// stored row untouched so it is retried on a later tick.
func (s *Scheduler) persist(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord, from ledger.State) bool {
	if err := s.records.Transition(ctx, rec, from); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			logger.Debug("record changed underneath the scheduler; skipping", logging.Error(err))
			return false
		}
		logging.ErrorWithContext(logger, "failed to persist sync record", "record_persist_failed",
			logging.String("from", string(from)),
			logging.String("to", string(rec.State)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ledger database access"),
		)
		return false
	}
	s.metrics.Transition(t.lane.source, string(from), string(rec.State))
	if from != rec.State {
		logger.Debug("sync record advanced",
			logging.String("from", string(from)),
			logging.String("to", string(rec.State)),
		)
	}
	return true
}

func (s *Scheduler) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, rec *ledger.SyncRecord) {
	payload := notifications.Payload{
		"recordId":     rec.ID,
		"meetingId":    rec.MeetingID,
		"meetingTitle": rec.MeetingTitle,
		"source":       rec.Source,
		"recordingId":  rec.ExternalRecordingID,
	}
	if rec.TranscriptPath != "" {
		payload["transcriptPath"] = rec.TranscriptPath
	}
	if rec.ErrorMessage != "" {
		payload["error"] = rec.ErrorMessage
	}
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		logger.Warn("notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.Error(err),
		)
	}
}
