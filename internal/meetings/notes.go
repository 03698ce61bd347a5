package meetings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"meetsync/internal/fileutil"
)

const delimiter = "---"

// NoteStore reads meetings from markdown notes under a directory.
type NoteStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewNoteStore returns a store rooted at dir.
func NewNoteStore(dir string) *NoteStore {
	return &NoteStore{dir: dir, now: time.Now}
}

type frontMatter struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Start       string       `yaml:"start"`
	End         string       `yaml:"end"`
	Attendees   []string     `yaml:"attendees"`
	AllDay      bool         `yaml:"all_day"`
	Transcripts []Attachment `yaml:"transcripts"`
}

// MeetingsInWindow returns meetings starting within [start, end], ordered by
// start time then id. Notes without a parseable start are skipped.
func (s *NoteStore) MeetingsInWindow(ctx context.Context, start, end time.Time) ([]Meeting, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []Meeting
	for _, m := range all {
		if m.Start.Before(start) || m.Start.After(end) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Meeting looks up a single meeting by id.
func (s *NoteStore) Meeting(ctx context.Context, id string) (Meeting, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return Meeting{}, err
	}
	for _, m := range all {
		if m.ID == id {
			return m, nil
		}
	}
	return Meeting{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// AttachTranscript appends a transcripts entry to the meeting's front matter.
func (s *NoteStore) AttachTranscript(ctx context.Context, meetingID, source, path string) error {
	meeting, err := s.Meeting(ctx, meetingID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(meeting.Path)
	if err != nil {
		return fmt.Errorf("read meeting note: %w", err)
	}
	header, body, err := splitFrontMatter(content)
	if err != nil {
		return fmt.Errorf("meeting note %s: %w", meeting.Path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(header, &doc); err != nil {
		return fmt.Errorf("parse front matter: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("meeting note %s: front matter is not a mapping", meeting.Path)
	}
	root := doc.Content[0]

	list := mappingValue(root, "transcripts")
	if list == nil {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "transcripts"}
		list = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		root.Content = append(root.Content, key, list)
	}
	if list.Kind == yaml.ScalarNode && list.Tag == "!!null" {
		*list = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	}
	if list.Kind != yaml.SequenceNode {
		return fmt.Errorf("meeting note %s: transcripts is not a list", meeting.Path)
	}

	var existing []Attachment
	if err := list.Decode(&existing); err != nil {
		return fmt.Errorf("decode transcripts: %w", err)
	}
	for _, a := range existing {
		if a.Source == source && a.Path == path {
			return nil
		}
	}

	var entry yaml.Node
	if err := entry.Encode(Attachment{Source: source, Path: path, AttachedAt: s.now().UTC().Truncate(time.Second)}); err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}
	list.Content = append(list.Content, &entry)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode front matter: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(delimiter + "\n")
	out.Write(buf.Bytes())
	out.WriteString(delimiter + "\n")
	if len(body) > 0 {
		out.WriteString("\n")
		out.Write(body)
	}
	return fileutil.WriteFileAtomic(meeting.Path, out.Bytes(), 0o644)
}

func (s *NoteStore) scan(ctx context.Context) ([]Meeting, error) {
	if strings.TrimSpace(s.dir) == "" {
		return nil, errors.New("meetings directory is not configured")
	}
	var meetings []Meeting
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		m, ok, err := readNote(path)
		if err != nil || !ok {
			return nil
		}
		meetings = append(meetings, m)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan meetings: %w", err)
	}
	sort.Slice(meetings, func(i, j int) bool {
		if !meetings[i].Start.Equal(meetings[j].Start) {
			return meetings[i].Start.Before(meetings[j].Start)
		}
		return meetings[i].ID < meetings[j].ID
	})
	return meetings, nil
}

func readNote(path string) (Meeting, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Meeting{}, false, err
	}
	header, _, err := splitFrontMatter(content)
	if err != nil {
		return Meeting{}, false, nil
	}
	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return Meeting{}, false, err
	}
	start, dateOnly, err := parseTime(fm.Start)
	if err != nil || start.IsZero() {
		return Meeting{}, false, err
	}
	end, _, err := parseTime(fm.End)
	if err != nil {
		return Meeting{}, false, err
	}
	switch {
	case end.IsZero() && dateOnly:
		end = start.AddDate(0, 0, 1)
	case !end.After(start):
		// Without a usable end the recording overlap would always be zero.
		end = start.Add(DefaultLength)
	}

	id := strings.TrimSpace(fm.ID)
	if id == "" {
		base := filepath.Base(path)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Meeting{
		ID:        id,
		Title:     strings.TrimSpace(fm.Title),
		Start:     start,
		End:       end,
		Attendees: fm.Attendees,
		AllDay:    fm.AllDay || dateOnly,
		Path:      path,
	}, true, nil
}

// splitFrontMatter separates the YAML header from the markdown body.
func splitFrontMatter(content []byte) ([]byte, []byte, error) {
	text := string(content)
	if !strings.HasPrefix(text, delimiter+"\n") && !strings.HasPrefix(text, delimiter+"\r\n") {
		return nil, nil, errors.New("missing front matter")
	}
	start := len(delimiter)
	if text[start] == '\r' {
		start++
	}
	start++

	closeIdx := strings.Index(text[start:], "\n"+delimiter)
	if closeIdx == -1 {
		return nil, nil, errors.New("no closing front matter delimiter")
	}
	header := text[start : start+closeIdx+1]

	bodyStart := start + closeIdx + 1 + len(delimiter)
	for bodyStart < len(text) && (text[bodyStart] == '\n' || text[bodyStart] == '\r') {
		bodyStart++
	}
	return []byte(header), []byte(text[bodyStart:]), nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
