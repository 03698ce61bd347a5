package scheduler

import (
	"context"
	"errors"
	"time"

	"meetsync/internal/logging"
	"meetsync/internal/sources"
)

// Start recovers rows interrupted by a previous run and launches the lanes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}

	reset, err := s.records.ResetInFlight(ctx, s.now().UTC())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if reset > 0 {
		s.logger.Info("recovered interrupted sync records",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "inflight_reset"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	for _, name := range s.order {
		l := s.lanes[name]
		s.wg.Add(1)
		go s.runLane(runCtx, l)
		if watcher, ok := l.adapter.(sources.Watcher); ok {
			s.wg.Add(1)
			go s.runWatcher(runCtx, l, watcher)
		}
	}
	return nil
}

// Stop cancels the lanes and waits for in-flight rows to persist.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) runLane(ctx context.Context, l *lane) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Tick(ctx, l.source); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("sync tick failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "tick_failed"),
				logging.String(logging.FieldErrorHint, "run `meetsync test "+l.source+"` to check the source"),
			)
		}

		timer := time.NewTimer(s.nextWait(ctx, l))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) nextWait(ctx context.Context, l *lane) time.Duration {
	settings, err := s.settings.SourceSettings(ctx, l.source)
	if err != nil {
		retry := time.Duration(s.cfg.Sync.ErrorRetryInterval) * time.Second
		if retry <= 0 {
			retry = 10 * time.Second
		}
		return retry
	}
	if interval := settings.PollInterval(); interval > 0 {
		return interval
	}
	return 5 * time.Minute
}

func (s *Scheduler) runWatcher(ctx context.Context, l *lane, watcher sources.Watcher) {
	defer s.wg.Done()
	err := watcher.Watch(ctx, func() { s.Wake(l.source) })
	if err != nil && ctx.Err() == nil {
		logging.WarnWithContext(l.logger, "source watcher stopped", "watcher_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the cache path permissions"),
			logging.String(logging.FieldImpact, "new recordings wait for the next poll"),
		)
	}
}
