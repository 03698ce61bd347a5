package testsupport

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meetsync/internal/meetings"
)

// WriteMeeting writes a meeting note for m under dir and returns its path.
func WriteMeeting(t testing.TB, dir string, m meetings.Meeting) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", m.ID)
	fmt.Fprintf(&b, "title: %q\n", m.Title)
	if m.AllDay {
		fmt.Fprintf(&b, "start: %s\n", m.Start.Format("2006-01-02"))
	} else {
		fmt.Fprintf(&b, "start: %s\n", m.Start.UTC().Format(time.RFC3339))
		if !m.End.IsZero() {
			fmt.Fprintf(&b, "end: %s\n", m.End.UTC().Format(time.RFC3339))
		}
	}
	if len(m.Attendees) > 0 {
		b.WriteString("attendees:\n")
		for _, attendee := range m.Attendees {
			fmt.Fprintf(&b, "  - %q\n", attendee)
		}
	}
	b.WriteString("---\n\n# ")
	b.WriteString(m.Title)
	b.WriteString("\n")

	path := filepath.Join(dir, m.ID+".md")
	WriteFile(t, path, b.String())
	return path
}

// Meeting builds a meeting fixture starting at start and lasting length.
func Meeting(id, title string, start time.Time, length time.Duration, attendees ...string) meetings.Meeting {
	return meetings.Meeting{
		ID:        id,
		Title:     title,
		Start:     start,
		End:       start.Add(length),
		Attendees: attendees,
	}
}
