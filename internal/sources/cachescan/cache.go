// Package cachescan reads meeting recordings from a desktop recorder's local
// JSON cache.
//
// Each cache file holds a "documents" object keyed by recording id. The
// scanner re-reads matching files on every Discover so it never holds stale
// state; FetchTranscript looks the id up the same way. When watching is
// enabled, filesystem changes under the cache root trigger an early tick.
package cachescan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sys/unix"

	"meetsync/internal/config"
	"meetsync/internal/logging"
	"meetsync/internal/services"
	"meetsync/internal/sources"
)

const stage = "cachescan"

// Scanner implements sources.Adapter over a local cache directory.
type Scanner struct {
	root     string
	glob     string
	watch    bool
	debounce time.Duration
	logger   *slog.Logger
}

// New builds a scanner from the cache source configuration.
func New(cfg config.CacheSource, logger *slog.Logger) *Scanner {
	glob := strings.TrimSpace(cfg.Glob)
	if glob == "" {
		glob = "**/*.json"
	}
	debounce := time.Duration(cfg.WatchDebounceSeconds) * time.Second
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Scanner{
		root:     cfg.Path,
		glob:     glob,
		watch:    cfg.Watch,
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "cachescan"),
	}
}

// Name returns the source tag.
func (s *Scanner) Name() string { return config.SourceCache }

// cacheFile is the on-disk layout of one cache file.
type cacheFile struct {
	Documents map[string]cacheDocument `json:"documents"`
}

type cacheDocument struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Deleted      bool           `json:"deleted"`
	Participants []participant  `json:"participants"`
	Transcript   []cacheSegment `json:"transcript"`
	NotesHTML    string         `json:"notes_html"`
	NotesText    string         `json:"notes_text"`
}

type participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type cacheSegment struct {
	Speaker       string  `json:"speaker"`
	Text          string  `json:"text"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

// Discover returns every live recording whose start or last update is at or
// after since.
func (s *Scanner) Discover(ctx context.Context, since sources.Checkpoint) ([]sources.Candidate, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]sources.Candidate, 0, len(snap.docs))
	for id, doc := range snap.docs {
		if doc.Deleted || doc.Start.IsZero() {
			continue
		}
		if !since.Since.IsZero() && doc.Start.Before(since.Since) && doc.UpdatedAt.Before(since.Since) {
			continue
		}
		candidates = append(candidates, sources.Candidate{
			RecordingID:  id,
			Title:        doc.Title,
			Start:        doc.Start,
			End:          doc.End,
			Participants: doc.participantAddresses(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Start.Equal(candidates[j].Start) {
			return candidates[i].Start.Before(candidates[j].Start)
		}
		return candidates[i].RecordingID < candidates[j].RecordingID
	})
	return candidates, nil
}

// FetchTranscript returns the transcript for recordingID. A recording flagged
// deleted, or absent while every cache file parsed, is a permanent failure.
// Absent while some file could not be read is transient: the recorder may be
// mid-write. A transcript that has not been written yet is also transient.
func (s *Scanner) FetchTranscript(ctx context.Context, recordingID string) (sources.Transcript, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return sources.Transcript{}, err
	}
	doc, ok := snap.docs[recordingID]
	switch {
	case ok && doc.Deleted:
		return sources.Transcript{}, services.Wrap(services.ErrPermanent, stage, "fetch transcript", fmt.Sprintf("Recording %s was deleted from the cache", recordingID), nil)
	case !ok && snap.unreadable > 0:
		return sources.Transcript{}, services.Wrap(services.ErrTransient, stage, "fetch transcript",
			fmt.Sprintf("Recording %s not found and %d cache file(s) could not be read", recordingID, snap.unreadable), nil)
	case !ok:
		return sources.Transcript{}, services.Wrap(services.ErrPermanent, stage, "fetch transcript", fmt.Sprintf("Recording %s is no longer in the cache", recordingID), nil)
	}

	switch {
	case len(doc.Transcript) > 0:
		segments := make([]sources.Segment, 0, len(doc.Transcript))
		for _, seg := range doc.Transcript {
			segments = append(segments, sources.Segment{
				Speaker: seg.Speaker,
				Offset:  time.Duration(seg.OffsetSeconds * float64(time.Second)),
				Text:    seg.Text,
			})
		}
		return sources.Transcript{RecordingID: recordingID, Format: sources.FormatText, Segments: segments}, nil
	case strings.TrimSpace(doc.NotesHTML) != "":
		return sources.Transcript{RecordingID: recordingID, Format: sources.FormatHTML, Content: doc.NotesHTML}, nil
	case strings.TrimSpace(doc.NotesText) != "":
		return sources.Transcript{RecordingID: recordingID, Format: sources.FormatText, Content: doc.NotesText}, nil
	default:
		return sources.Transcript{}, services.Wrap(services.ErrTransient, stage, "fetch transcript", fmt.Sprintf("Transcript for %s is not available yet", recordingID), nil)
	}
}

// TestConnection verifies the cache root exists and is readable.
func (s *Scanner) TestConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(s.root) == "" {
		return services.Wrap(services.ErrConfiguration, stage, "test connection", "sources.cache.path is not set", nil)
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stage, "test connection", "Cache path is not accessible", err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrConfiguration, stage, "test connection", fmt.Sprintf("Cache path %s is not a directory", s.root), nil)
	}
	if err := unix.Access(s.root, unix.R_OK|unix.X_OK); err != nil {
		return services.Wrap(services.ErrConfiguration, stage, "test connection", "Cache path is not readable", err)
	}
	if !doublestar.ValidatePattern(s.glob) {
		return services.Wrap(services.ErrConfiguration, stage, "test connection", fmt.Sprintf("Invalid cache glob %q", s.glob), nil)
	}
	return nil
}

// snapshot is one pass over the cache. unreadable counts matched files that
// failed to read or decode.
type snapshot struct {
	docs       map[string]cacheDocument
	unreadable int
}

// load reads every matching cache file. Later files win when the same id
// appears twice; unreadable files are skipped with a warning so one corrupt
// file does not hide the rest.
func (s *Scanner) load(ctx context.Context) (snapshot, error) {
	var snap snapshot
	if strings.TrimSpace(s.root) == "" {
		return snap, services.Wrap(services.ErrConfiguration, stage, "scan", "sources.cache.path is not set", nil)
	}
	if _, err := os.Stat(s.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, services.Wrap(services.ErrConfiguration, stage, "scan", fmt.Sprintf("Cache path %s does not exist", s.root), err)
		}
		return snap, services.Wrap(services.ErrTransient, stage, "scan", "Cache path is not accessible", err)
	}
	matches, err := doublestar.Glob(os.DirFS(s.root), s.glob)
	if err != nil {
		return snap, services.Wrap(services.ErrConfiguration, stage, "scan", fmt.Sprintf("Invalid cache glob %q", s.glob), err)
	}
	sort.Strings(matches)

	snap.docs = make(map[string]cacheDocument)
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		path := filepath.Join(s.root, filepath.FromSlash(rel))
		file, err := readCacheFile(path)
		if err != nil {
			logging.WarnWithContext(s.logger, "cache file skipped", "cache_file_invalid",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the recorder cache for partial writes"),
				logging.String(logging.FieldImpact, "recordings in this file are not discovered"),
			)
			snap.unreadable++
			continue
		}
		for key, doc := range file.Documents {
			id := strings.TrimSpace(doc.ID)
			if id == "" {
				id = key
			}
			snap.docs[id] = doc
		}
	}
	return snap, nil
}

func readCacheFile(path string) (cacheFile, error) {
	var file cacheFile
	data, err := os.ReadFile(path)
	if err != nil {
		return file, err
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return file, nil
}

func (d cacheDocument) participantAddresses() []string {
	out := make([]string, 0, len(d.Participants))
	for _, p := range d.Participants {
		switch {
		case strings.TrimSpace(p.Email) != "":
			out = append(out, p.Email)
		case strings.TrimSpace(p.Name) != "":
			out = append(out, p.Name)
		}
	}
	return out
}
