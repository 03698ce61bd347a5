package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"meetsync/internal/logging"
)

// DefaultNATSSubject is used when no subject is configured.
const DefaultNATSSubject = "meetsync.transcripts.ready"

// Envelope is the JSON document published on the NATS subject.
type Envelope struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

type natsPublisher struct {
	url     string
	subject string
	logger  *slog.Logger

	mu   sync.Mutex
	conn natsConn
	dial func(url string) (natsConn, error)
	now  func() time.Time
}

func newNATSPublisher(url, subject string, logger *slog.Logger) *natsPublisher {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &natsPublisher{
		url:     url,
		subject: subject,
		logger:  logger,
		dial:    dialNATS,
		now:     time.Now,
	}
}

func dialNATS(url string) (natsConn, error) {
	return nats.Connect(url,
		nats.Name("meetsync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Publish sends the event as an Envelope. The connection
// is opened lazily so the daemon starts even when the broker is down.
func (p *natsPublisher) Publish(ctx context.Context, event Event, payload Payload) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Event: event, Timestamp: p.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode nats event: %w", err)
	}
	if err := conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish nats event: %w", err)
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		p.logger.Debug("nats flush incomplete", logging.Error(err))
	}
	return nil
}

func (p *natsPublisher) connection() (natsConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func (p *natsPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}
