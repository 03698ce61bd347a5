package scheduler

import (
	"context"
	"log/slog"
	"time"

	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/notifications"
	"meetsync/internal/services"
)

// handleFailure records a failed step on rec, which is currently persisted in
// state from. Configuration errors roll the row back without spending an
// attempt and are returned so the tick stops; permanent errors abandon the row
// immediately; anything else consumes one attempt.
func (s *Scheduler) handleFailure(ctx context.Context, t *tickState, logger *slog.Logger, rec *ledger.SyncRecord, from ledger.State, stepErr error) (bool, error) {
	kind := services.Classify(stepErr)
	message := services.Message(stepErr)
	rec.RetryRequested = false

	switch kind {
	case services.KindConfiguration:
		if from == ledger.StateFetching {
			rec.State = ledger.StatePolling
		} else {
			rec.State = from
		}
		rec.NextAttemptAt = t.now
		s.persist(ctx, t, logger, rec, from)
		return false, stepErr

	case services.KindPermanent:
		rec.State = ledger.StateAbandoned
		rec.ErrorMessage = message
		rec.NextAttemptAt = t.now
		if !s.persist(ctx, t, logger, rec, from) {
			return false, nil
		}
		logger.Warn("sync abandoned on permanent failure",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(stepErr),
			logging.String(logging.FieldEventType, "sync_abandoned"),
			logging.String(logging.FieldErrorHint, "the recording or meeting is gone; retry manually if it returns"),
		)
		s.notify(ctx, logger, notifications.EventSyncAbandoned, rec)
		return true, nil

	default:
		rec.Attempts++
		rec.State = ledger.StateFailed
		rec.ErrorMessage = message
		if rec.Exhausted() {
			rec.NextAttemptAt = t.now
		} else {
			rec.NextAttemptAt = t.now.Add(t.lane.backoff.Delay(rec.Attempts))
		}
		if !s.persist(ctx, t, logger, rec, from) {
			return false, nil
		}
		logger.Warn("sync step failed",
			logging.String("step", string(from)),
			logging.Int("attempts", rec.Attempts),
			logging.Int("max_attempts", rec.MaxAttempts),
			logging.Time("next_attempt_at", rec.NextAttemptAt),
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(stepErr),
			logging.String(logging.FieldEventType, "sync_step_failed"),
		)
		return true, nil
	}
}

func (t *tickState) pollInterval(s *Scheduler) time.Duration {
	if interval := t.settings.PollInterval(); interval > 0 {
		return interval
	}
	if d, ok := s.cfg.SourceDefaults(t.lane.source); ok && d.PollIntervalMinutes > 0 {
		return time.Duration(d.PollIntervalMinutes) * time.Minute
	}
	return 5 * time.Minute
}
