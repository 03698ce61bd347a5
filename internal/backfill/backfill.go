// Package backfill creates pending sync records for meetings that happened
// before a source was connected.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meetsync/internal/config"
	"meetsync/internal/ledger"
	"meetsync/internal/logging"
	"meetsync/internal/meetings"
	"meetsync/internal/textutil"
)

// Store is the ledger surface the runner needs.
type Store interface {
	RecordsForMeetings(ctx context.Context, source string, meetingIDs []string) (map[string][]*ledger.SyncRecord, error)
	CreateIfAbsent(ctx context.Context, rec ledger.NewRecord) (*ledger.SyncRecord, bool, error)
}

// Result reports the outcome of one run.
type Result struct {
	Source string `json:"source"`
	// Created counts rows inserted by this run.
	Created int `json:"created"`
	// Eligible counts ended, eligible meetings without a completed transcript
	// from the source, whether or not this run created their row.
	Eligible int       `json:"eligible"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// Runner performs backfills.
type Runner struct {
	store        Store
	meetings     meetings.Store
	maxAttempts  int
	windowDays   int
	minAttendees int
	owner        string
	skipTitles   map[string]struct{}
	logger       *slog.Logger
	now          func() time.Time
}

// New builds a runner using the backfill section of cfg.
func New(cfg *config.Config, store Store, meetingStore meetings.Store, logger *slog.Logger) *Runner {
	skip := make(map[string]struct{}, len(cfg.Backfill.SkipTitles))
	for _, title := range cfg.Backfill.SkipTitles {
		if key := titleKey(title); key != "" {
			skip[key] = struct{}{}
		}
	}
	return &Runner{
		store:        store,
		meetings:     meetingStore,
		maxAttempts:  cfg.Sync.MaxAttempts,
		windowDays:   cfg.Backfill.WindowDays,
		minAttendees: cfg.Backfill.MinAttendees,
		owner:        cfg.Backfill.OwnerEmail,
		skipTitles:   skip,
		logger:       logging.NewComponentLogger(logger, "backfill"),
		now:          time.Now,
	}
}

// WithClock replaces the runner clock.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// Run enumerates meetings in the last windowDays (the configured window when
// windowDays <= 0) and creates pending rows for eligible meetings that have
// no row for source. Running it again creates nothing new.
func (r *Runner) Run(ctx context.Context, source string, windowDays int) (Result, error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, errors.New("backfill: source is required")
	}
	if windowDays <= 0 {
		windowDays = r.windowDays
	}
	if windowDays <= 0 {
		return Result{}, fmt.Errorf("backfill: window must be positive, got %d", windowDays)
	}

	now := r.now().UTC()
	result := Result{Source: source, From: now.AddDate(0, 0, -windowDays), To: now}
	list, err := r.meetings.MeetingsInWindow(ctx, result.From, result.To)
	if err != nil {
		return result, fmt.Errorf("backfill: list meetings: %w", err)
	}

	candidates := make([]meetings.Meeting, 0, len(list))
	for _, meeting := range list {
		if !meeting.Ended(now) || !r.Eligible(meeting) {
			continue
		}
		candidates = append(candidates, meeting)
	}
	if len(candidates) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, meeting := range candidates {
		ids = append(ids, meeting.ID)
	}
	existing, err := r.store.RecordsForMeetings(ctx, source, ids)
	if err != nil {
		return result, fmt.Errorf("backfill: load records: %w", err)
	}

	for _, meeting := range candidates {
		rows := existing[meeting.ID]
		if hasCompleted(rows) {
			continue
		}
		result.Eligible++
		if len(rows) > 0 {
			continue
		}
		_, created, err := r.store.CreateIfAbsent(ctx, ledger.NewRecord{
			MeetingID:     meeting.ID,
			MeetingTitle:  meeting.Title,
			Source:        source,
			MaxAttempts:   r.maxAttempts,
			Origin:        ledger.OriginBackfill,
			NextAttemptAt: now,
		})
		if err != nil {
			return result, fmt.Errorf("backfill: create record for %s: %w", meeting.ID, err)
		}
		if created {
			result.Created++
		}
	}

	r.logger.Info("backfill finished",
		logging.String(logging.FieldSource, source),
		logging.Int("window_days", windowDays),
		logging.Int("created", result.Created),
		logging.Int("eligible", result.Eligible),
		logging.String(logging.FieldEventType, "backfill_completed"),
	)
	return result, nil
}

// Eligible applies the configured filters: all-day events, meetings with
// too few attendees besides the owner, and skip-listed titles are excluded.
func (r *Runner) Eligible(meeting meetings.Meeting) bool {
	if meeting.AllDay {
		return false
	}
	if r.minAttendees > 1 && meeting.AttendeesExcept(r.owner) < r.minAttendees-1 {
		return false
	}
	if _, skip := r.skipTitles[titleKey(meeting.Title)]; skip {
		return false
	}
	return true
}

func hasCompleted(rows []*ledger.SyncRecord) bool {
	for _, row := range rows {
		if row.State == ledger.StateCompleted {
			return true
		}
	}
	return false
}

func titleKey(title string) string {
	return strings.Join(strings.Fields(textutil.Fold(title)), " ")
}
