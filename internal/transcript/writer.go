// Package transcript normalizes fetched transcripts to markdown and writes
// them, with YAML front matter describing their provenance, into the
// workspace transcripts directory.
package transcript

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"meetsync/internal/fileutil"
	"meetsync/internal/sources"
	"meetsync/internal/textutil"
)

// Document describes one transcript to persist.
type Document struct {
	RecordID        string
	MeetingID       string
	MeetingTitle    string
	MeetingStart    time.Time
	Source          string
	RecordingID     string
	MatchConfidence float64
	Transcript      sources.Transcript
}

type header struct {
	MeetingID       string    `yaml:"meeting_id"`
	MeetingTitle    string    `yaml:"meeting_title,omitempty"`
	MeetingStart    time.Time `yaml:"meeting_start,omitempty"`
	Source          string    `yaml:"source"`
	RecordingID     string    `yaml:"recording_id"`
	SyncRecordID    string    `yaml:"sync_record_id"`
	MatchConfidence float64   `yaml:"match_confidence"`
	Format          string    `yaml:"original_format"`
	FetchedAt       time.Time `yaml:"fetched_at"`
	SHA256          string    `yaml:"sha256"`
}

// Writer persists normalized transcripts.
type Writer struct {
	dir        string
	normalizer *Normalizer
	now        func() time.Time
}

// NewWriter returns a writer targeting dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, normalizer: NewNormalizer(), now: time.Now}
}

// Path returns the deterministic destination for doc so a retried write
// replaces rather than duplicates an earlier attempt.
func (w *Writer) Path(doc Document) string {
	date := "undated"
	if !doc.MeetingStart.IsZero() {
		date = doc.MeetingStart.Format("2006-01-02")
	}
	shortID := doc.RecordID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	name := fmt.Sprintf("%s_%s_%s_%s.md",
		date,
		textutil.SanitizeToken(doc.MeetingTitle),
		textutil.SanitizeToken(doc.Source),
		textutil.SanitizeToken(shortID),
	)
	return filepath.Join(w.dir, name)
}

// Write normalizes doc and stores it, returning the file path.
func (w *Writer) Write(doc Document) (string, error) {
	if strings.TrimSpace(w.dir) == "" {
		return "", errors.New("transcripts directory is not configured")
	}
	body, err := w.normalizer.Markdown(doc.Transcript)
	if err != nil {
		return "", err
	}

	meta := header{
		MeetingID:       doc.MeetingID,
		MeetingTitle:    doc.MeetingTitle,
		MeetingStart:    doc.MeetingStart.UTC(),
		Source:          doc.Source,
		RecordingID:     doc.RecordingID,
		SyncRecordID:    doc.RecordID,
		MatchConfidence: doc.MatchConfidence,
		Format:          string(doc.Transcript.Format),
		FetchedAt:       w.now().UTC().Truncate(time.Second),
		SHA256:          fileutil.SHA256Hex([]byte(body)),
	}
	if meta.Format == "" {
		meta.Format = string(sources.FormatText)
	}
	frontMatter, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode transcript header: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("---\n")
	out.Write(frontMatter)
	out.WriteString("---\n\n")
	if title := strings.TrimSpace(doc.MeetingTitle); title != "" {
		out.WriteString("# ")
		out.WriteString(title)
		out.WriteString("\n\n")
	}
	out.WriteString(body)
	out.WriteString("\n")

	path := w.Path(doc)
	if err := fileutil.WriteFileAtomic(path, out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}
