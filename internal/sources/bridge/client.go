// Package bridge polls a remote recording bridge over HTTP.
//
// The bridge exposes three JSON endpoints under the configured base URL:
// GET /recordings?since=RFC3339, GET /recordings/{id}/transcript and
// GET /health. Requests carry the configured bearer token. Status codes are
// mapped onto the services error markers: 404 and 410 are permanent, 401
// and 403 are configuration errors, and everything else (429, 5xx, network
// failures) is transient.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meetsync/internal/config"
	"meetsync/internal/logging"
	"meetsync/internal/services"
	"meetsync/internal/sources"
)

const (
	stage     = "bridge"
	userAgent = "meetsync/0.1"
	bodyLimit = 32 << 20
)

// Client implements sources.Adapter against a bridge endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.http = c
		}
	}
}

// New builds a bridge client. Per-call deadlines come from the caller's
// context, so the HTTP client carries no timeout of its own.
func New(cfg config.BridgeSource, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		token:    strings.TrimSpace(cfg.Token),
		http:     &http.Client{},
		logger:   logging.NewComponentLogger(logger, "bridge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source tag.
func (c *Client) Name() string { return config.SourceBridge }

type recordingDTO struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Participants []string  `json:"participants"`
}

type recordingsResponse struct {
	Recordings []recordingDTO `json:"recordings"`
}

type segmentDTO struct {
	Speaker      string  `json:"speaker"`
	StartSeconds float64 `json:"start_seconds"`
	Text         string  `json:"text"`
}

type transcriptDTO struct {
	RecordingID string       `json:"recording_id"`
	Format      string       `json:"format"`
	Content     string       `json:"content"`
	Segments    []segmentDTO `json:"segments"`
}

// Discover lists recordings newer than since.
func (c *Client) Discover(ctx context.Context, since sources.Checkpoint) ([]sources.Candidate, error) {
	query := url.Values{}
	if !since.Since.IsZero() {
		query.Set("since", since.Since.UTC().Format(time.RFC3339))
	}
	var resp recordingsResponse
	if err := c.getJSON(ctx, "discover", "/recordings", query, &resp); err != nil {
		return nil, err
	}
	candidates := make([]sources.Candidate, 0, len(resp.Recordings))
	for _, rec := range resp.Recordings {
		if strings.TrimSpace(rec.ID) == "" {
			continue
		}
		candidates = append(candidates, sources.Candidate{
			RecordingID:  rec.ID,
			Title:        rec.Title,
			Start:        rec.StartedAt,
			End:          rec.EndedAt,
			Participants: rec.Participants,
		})
	}
	return candidates, nil
}

// FetchTranscript downloads the transcript for recordingID.
func (c *Client) FetchTranscript(ctx context.Context, recordingID string) (sources.Transcript, error) {
	var dto transcriptDTO
	path := "/recordings/" + url.PathEscape(recordingID) + "/transcript"
	if err := c.getJSON(ctx, "fetch transcript", path, nil, &dto); err != nil {
		return sources.Transcript{}, err
	}
	format := sources.Format(strings.ToLower(strings.TrimSpace(dto.Format)))
	switch format {
	case "":
		format = sources.FormatText
	case sources.FormatText, sources.FormatMarkdown, sources.FormatHTML:
	default:
		return sources.Transcript{}, services.Wrap(services.ErrPermanent, stage, "fetch transcript", fmt.Sprintf("Unsupported transcript format %q", dto.Format), nil)
	}
	tr := sources.Transcript{RecordingID: recordingID, Format: format, Content: dto.Content}
	for _, seg := range dto.Segments {
		tr.Segments = append(tr.Segments, sources.Segment{
			Speaker: seg.Speaker,
			Offset:  time.Duration(seg.StartSeconds * float64(time.Second)),
			Text:    seg.Text,
		})
	}
	return tr, nil
}

// TestConnection calls the health endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	var body map[string]any
	return c.getJSON(ctx, "test connection", "/health", nil, &body)
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	if c.endpoint == "" {
		return services.Wrap(services.ErrConfiguration, stage, op, "sources.bridge.endpoint is not set", nil)
	}
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stage, op, "Invalid bridge endpoint", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stage, op, "Bridge request timed out", err)
		}
		return services.Wrap(services.ErrTransient, stage, op, "Bridge request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		message := fmt.Sprintf("Bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		c.logger.Debug("bridge request rejected",
			logging.String("path", path),
			logging.Int("status", resp.StatusCode),
		)
		return services.Wrap(markerForStatus(resp.StatusCode), stage, op, message, nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, bodyLimit)).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, stage, op, "Bridge response could not be decoded", err)
	}
	return nil
}

func markerForStatus(status int) error {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return services.ErrPermanent
	case http.StatusUnauthorized, http.StatusForbidden:
		return services.ErrConfiguration
	default:
		return services.ErrTransient
	}
}
