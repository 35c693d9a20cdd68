package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"bankflow/internal/common/backoff"
	"bankflow/internal/common/events"
)

// Config holds NATS configuration
type Config struct {
	URL           string        `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	Name          string        `envconfig:"NATS_CLIENT_NAME" default:"bankflow"`
	MaxReconnects int           `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
	ReconnectWait time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`
	Stream        string        `envconfig:"NATS_STREAM" default:"BANKFLOW"`
	SubjectPrefix string        `envconfig:"NATS_SUBJECT_PREFIX" default:"bankflow"`
	MaxDeliver    int           `envconfig:"NATS_MAX_DELIVER" default:"8"`
	AckWait       time.Duration `envconfig:"NATS_ACK_WAIT" default:"30s"`
}

// Client wraps NATS connection with JetStream support
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	retry  backoff.Config
	logger *slog.Logger
}

// New creates a new NATS client
func New(ctx context.Context, cfg Config, retry backoff.Config, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	logger.Info("NATS connection established", "url", conn.ConnectedUrl())

	c := &Client{conn: conn, js: js, cfg: cfg, retry: retry, logger: logger}
	if err := c.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	_ = c.conn.Drain()
}

// HealthCheck checks NATS connection health
func (c *Client) HealthCheck() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

// Subject maps a topic onto the stream's subject space.
func (c *Client) Subject(topic events.Topic) string {
	return c.cfg.SubjectPrefix + "." + string(topic)
}

func (c *Client) deadLetterSubject(topic events.Topic) string {
	return c.cfg.SubjectPrefix + ".dlq." + string(topic)
}

// ensureStream creates or updates the single stream holding every topic
// and its dead letters.
func (c *Client) ensureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.SubjectPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1 << 30,
		Replicas:  1,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	if _, err := c.js.CreateOrUpdateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("creating/updating stream %s: %w", c.cfg.Stream, err)
	}

	c.logger.Info("stream ensured", "name", c.cfg.Stream, "subjects", streamCfg.Subjects)
	return nil
}

// Publish publishes an event on its topic subject. The event id doubles as
// the JetStream message id, so a relay retrying the same event inside the
// duplicate window is stored once.
func (c *Client) Publish(ctx context.Context, event *events.Event) error {
	subject := c.Subject(event.Topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if _, err := c.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publishing event %s to %s: %w", event.ID, subject, err)
	}

	c.logger.Debug("event published",
		"event_id", event.ID,
		"topic", event.Topic,
		"subject", subject,
	)
	return nil
}

// Consume attaches a durable explicit-ack consumer for sub and runs handler
// on every delivery until ctx is done. A delivery is acked only after handler
// returns nil; failures are nak'ed with backoff and dead-lettered once
// MaxDeliver is reached.
func (c *Client) Consume(ctx context.Context, sub events.Subscription, handler events.Handler) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Name:          sub.Name(),
		Durable:       sub.Name(),
		FilterSubject: c.Subject(sub.Topic),
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("creating/updating consumer %s: %w", sub.Name(), err)
	}

	c.logger.Info("consumer ensured", "name", sub.Name(), "topic", sub.Topic)

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("getting message iterator: %w", err)
	}

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			c.logger.Error("error getting next message", "consumer", sub.Name(), "error", err)
			continue
		}
		c.deliver(ctx, sub, msg, handler)
	}
}

func (c *Client) deliver(ctx context.Context, sub events.Subscription, msg jetstream.Msg, handler events.Handler) {
	attempts := 1
	if md, err := msg.Metadata(); err == nil {
		attempts = int(md.NumDelivered)
	}

	var event events.Event
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.logger.Error("undecodable message", "consumer", sub.Name(), "error", err)
		c.deadLetter(ctx, sub, "", msg.Data(), attempts, err)
		_ = msg.Term()
		return
	}

	err := handler(events.ContextWithCause(ctx, &event), &event)
	if err == nil {
		if err := msg.Ack(); err != nil {
			c.logger.Error("error acknowledging message", "event_id", event.ID, "error", err)
		}
		return
	}

	c.logger.Error("error handling event",
		"consumer", sub.Name(),
		"event_id", event.ID,
		"attempt", attempts,
		"error", err,
	)

	if events.IsPermanent(err) || attempts >= c.cfg.MaxDeliver {
		c.deadLetter(ctx, sub, event.ID, msg.Data(), attempts, err)
		_ = msg.Term()
		return
	}

	_ = msg.NakWithDelay(c.retry.Delay(attempts - 1))
}

func (c *Client) deadLetter(ctx context.Context, sub events.Subscription, eventID string, payload []byte, attempts int, cause error) {
	data, err := json.Marshal(events.DeadLetter{
		Subscription: sub.Name(),
		Topic:        sub.Topic,
		EventID:      eventID,
		Payload:      string(payload),
		Attempts:     attempts,
		Error:        cause.Error(),
	})
	if err != nil {
		c.logger.Error("marshaling dead letter", "error", err)
		return
	}

	if _, err := c.js.Publish(ctx, c.deadLetterSubject(sub.Topic), data); err != nil {
		c.logger.Error("publishing dead letter", "consumer", sub.Name(), "event_id", eventID, "error", err)
		return
	}
	c.logger.Warn("event dead-lettered", "consumer", sub.Name(), "event_id", eventID, "attempts", attempts)
}
