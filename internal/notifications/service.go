package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"meetsync/internal/config"
	"meetsync/internal/logging"
)

const userAgent = "meetsync/0.1"

// Event identifies a notification type.
type Event string

const (
	EventTranscriptReady Event = "transcript_ready"
	EventSyncAbandoned   Event = "sync_abandoned"
	EventTest            Event = "test"
)

// Payload carries event specific fields. Keys follow the JSON names used on
// the NATS subject: recordId, meetingId, meetingTitle, source, recordingId,
// transcriptPath, error.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Service publishes pipeline events to transcript consumers.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Close() error
}

// NewService builds the configured notifiers. Without an ntfy topic or NATS
// URL a noop implementation is returned. Event toggles filter what reaches
// the backends; test events always pass.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	logger = logging.NewComponentLogger(logger, "notifications")
	var backends []Service

	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		backends = append(backends, &ntfyService{
			endpoint: topic,
			client:   &http.Client{Timeout: timeout},
		})
	}
	if url := strings.TrimSpace(cfg.Notifications.NATSURL); url != "" {
		backends = append(backends, newNATSPublisher(url, cfg.Notifications.NATSSubject, logger))
	}

	if len(backends) == 0 {
		return noopService{}
	}
	var svc Service = fanout(backends)
	if len(backends) == 1 {
		svc = backends[0]
	}
	return &filtered{
		next:      svc,
		completed: cfg.Notifications.Completed,
		abandoned: cfg.Notifications.Abandoned,
	}
}

// Configured reports whether cfg names at least one notification backend.
func Configured(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}
	return strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" || strings.TrimSpace(cfg.Notifications.NATSURL) != ""
}

type filtered struct {
	next      Service
	completed bool
	abandoned bool
}

func (f *filtered) Publish(ctx context.Context, event Event, payload Payload) error {
	switch event {
	case EventTranscriptReady:
		if !f.completed {
			return nil
		}
	case EventSyncAbandoned:
		if !f.abandoned {
			return nil
		}
	}
	return f.next.Publish(ctx, event, payload)
}

func (f *filtered) Close() error { return f.next.Close() }

type fanout []Service

func (f fanout) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, svc := range f {
		if err := svc.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) Close() error {
	var errs []error
	for _, svc := range f {
		if err := svc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, payload Payload) (message, bool) {
	title := payload.str("meetingTitle")
	if title == "" {
		title = payload.str("meetingId")
	}
	source := payload.str("source")
	switch event {
	case EventTranscriptReady:
		body := fmt.Sprintf("Transcript ready: %s (%s)", title, source)
		if path := payload.str("transcriptPath"); path != "" {
			body = fmt.Sprintf("%s\nFile: %s", body, path)
		}
		return message{
			title: "meetsync - Transcript Ready",
			body:  body,
			tags:  []string{"meetsync", "transcript", source},
		}, true
	case EventSyncAbandoned:
		body := fmt.Sprintf("Sync abandoned: %s (%s)", title, source)
		if reason := payload.str("error"); reason != "" {
			body = fmt.Sprintf("%s\nError: %s", body, reason)
		}
		return message{
			title:    "meetsync - Sync Abandoned",
			body:     body + "\nManual retry required",
			tags:     []string{"meetsync", "abandoned", "review"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "meetsync - Test",
			body:     "Notification system test",
			tags:     []string{"meetsync", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	data, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) Close() error { return nil }

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	tags := make([]string, 0, len(data.tags))
	for _, tag := range data.tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) Close() error                                  { return nil }
