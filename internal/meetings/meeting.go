package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound indicates no note carries the requested meeting id.
var ErrNotFound = errors.New("meeting not found")

// DefaultLength is assumed for timed notes that have no end, or an end at or
// before their start.
const DefaultLength = 30 * time.Minute

// Meeting is the subset of a calendar entry the sync pipeline needs.
type Meeting struct {
	ID        string
	Title     string
	Start     time.Time
	End       time.Time
	Attendees []string
	AllDay    bool
	Path      string
}

// Ended reports whether the meeting finished at or before now.
func (m Meeting) Ended(now time.Time) bool {
	return !m.End.IsZero() && !m.End.After(now)
}

// AttendeesExcept counts attendees other than owner (case-insensitive).
func (m Meeting) AttendeesExcept(owner string) int {
	owner = strings.ToLower(strings.TrimSpace(owner))
	count := 0
	for _, attendee := range m.Attendees {
		if owner != "" && NormalizeAddress(attendee) == owner {
			continue
		}
		count++
	}
	return count
}

// Attachment records one transcript attached to a meeting.
type Attachment struct {
	Source     string    `yaml:"source"`
	Path       string    `yaml:"path"`
	AttachedAt time.Time `yaml:"attached_at"`
}

// Store is the meeting store contract consumed by the pipeline.
type Store interface {
	MeetingsInWindow(ctx context.Context, start, end time.Time) ([]Meeting, error)
	Meeting(ctx context.Context, id string) (Meeting, error)
	AttachTranscript(ctx context.Context, meetingID, source, path string) error
}

// NormalizeAddress lowercases an attendee and extracts the address from
// "Name <addr>" forms.
func NormalizeAddress(value string) string {
	value = strings.TrimSpace(value)
	if open := strings.LastIndex(value, "<"); open >= 0 {
		if end := strings.LastIndex(value, ">"); end > open {
			value = value[open+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(value))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(value string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, layout == "2006-01-02", nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised time %q", value)
}
