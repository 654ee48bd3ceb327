// Package nats publishes domain events to a JetStream stream and consumes
// them back for the notification worker.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"payrecon/internal/common/events"
)

// Config holds NATS configuration
type Config struct {
	URL           string        `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	Name          string        `envconfig:"NATS_CLIENT_NAME" default:"payrecon"`
	Stream        string        `envconfig:"NATS_STREAM" default:"PAYRECON"`
	MaxReconnects int           `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
	ReconnectWait time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`
}

// SubjectPrefix is prepended to every domain event type.
const SubjectPrefix = "events."

const (
	eventRetention  = 14 * 24 * time.Hour
	eventMaxBytes   = 1 << 30
	duplicateWindow = 2 * time.Minute
	maxDeliver      = 5
	ackWait         = 30 * time.Second
	redeliverDelay  = 10 * time.Second
)

// Subject returns the subject an event type is published on.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

// Client is a NATS connection with its JetStream context.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// New connects to NATS and opens JetStream.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	logger.Info("NATS connection established", "url", conn.ConnectedUrl())
	return &Client{conn: conn, js: js, logger: logger}, nil
}

func (c *Client) Close() {
	c.conn.Close()
}

// HealthCheck reports whether the connection is up.
func (c *Client) HealthCheck() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

// EnsureEventStream creates or updates the stream that captures every
// domain event.
func (c *Client) EnsureEventStream(ctx context.Context, name string) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "payrecon domain events",
		Subjects:    []string{SubjectPrefix + ">"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      eventRetention,
		MaxBytes:    eventMaxBytes,
		Duplicates:  duplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring event stream %s: %w", name, err)
	}
	c.logger.Info("event stream ensured", "name", name)
	return stream, nil
}

// EnsureEventConsumer creates or updates a durable consumer on stream that
// receives only new events on subjects.
func (c *Client) EnsureEventConsumer(ctx context.Context, stream, name string, subjects ...string) (jetstream.Consumer, error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Name:           name,
		Durable:        name,
		FilterSubjects: subjects,
		MaxDeliver:     maxDeliver,
		AckWait:        ackWait,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s: %w", name, err)
	}
	c.logger.Info("event consumer ensured", "name", name, "stream", stream, "subjects", subjects)
	return consumer, nil
}

// Publisher publishes domain events.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends event on its subject. The event id is the JetStream message
// id, so a repeat inside the duplicate window is dropped by the server.
func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	subject := Subject(event.Type)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := p.client.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	p.logger.Debug("event published", "event_id", event.ID, "type", event.Type)
	return nil
}

// MessageHandler handles one consumed event. An error redelivers it.
type MessageHandler func(ctx context.Context, event *events.Event) error

// Consume delivers events from consumer to handler until ctx is done.
// Undecodable messages are terminated; handler failures are redelivered
// after a delay, up to the consumer's delivery limit.
func (c *Client) Consume(ctx context.Context, consumer jetstream.Consumer, handler MessageHandler) error {
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (c *Client) handle(ctx context.Context, msg jetstream.Msg, handler MessageHandler) {
	event, err := decodeEvent(msg.Data())
	if err != nil {
		c.logger.Error("dropping undecodable message", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}

	if err := handler(ctx, event); err != nil {
		c.logger.Error("error handling event", "error", err, "event_id", event.ID, "type", event.Type)
		_ = msg.NakWithDelay(redeliverDelay)
		return
	}
	if err := msg.Ack(); err != nil {
		c.logger.Error("error acknowledging message", "event_id", event.ID, "error", err)
	}
}

func decodeEvent(data []byte) (*events.Event, error) {
	var event events.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("event without id or type")
	}
	return &event, nil
}
