// Package kafka is the Kafka transport for the event bus. Events are keyed by
// owner so every event for one owner lands on the same partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"bankflow/internal/common/backoff"
	"bankflow/internal/common/events"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	DLQSuffix   string   `envconfig:"KAFKA_DLQ_SUFFIX" default:".dlq"`
	MinBytes    int      `envconfig:"KAFKA_MIN_BYTES" default:"1"`
	MaxBytes    int      `envconfig:"KAFKA_MAX_BYTES" default:"10000000"`
	TopicPrefix string   `envconfig:"KAFKA_TOPIC_PREFIX" default:""`
}

// Bus publishes and consumes events over Kafka
type Bus struct {
	cfg    Config
	retry  backoff.Config
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// New creates a Kafka bus. Writers are created lazily per topic.
func New(cfg Config, retry backoff.Config, logger *slog.Logger) *Bus {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	return &Bus{
		cfg:     cfg,
		retry:   retry,
		logger:  logger,
		writers: make(map[string]*kafka.Writer),
	}
}

func (b *Bus) topicName(topic events.Topic) string {
	return b.cfg.TopicPrefix + string(topic)
}

func (b *Bus) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(b.cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		b.writers[topic] = w
	}
	return w
}

// Publish writes the event keyed by owner, retrying with backoff.
func (b *Bus) Publish(ctx context.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OwnerID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "topic", Value: []byte(event.Topic)},
		},
	}
	return b.write(ctx, b.topicName(event.Topic), msg)
}

func (b *Bus) write(ctx context.Context, topic string, msg kafka.Message) error {
	w := b.writer(topic)

	var lastErr error
	for attempt := 0; attempt < b.retry.MaxAttempts; attempt++ {
		lastErr = w.WriteMessages(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if attempt == b.retry.MaxAttempts-1 {
			break
		}

		delay := b.retry.Delay(attempt)
		b.logger.Warn("kafka publish retry",
			"topic", topic,
			"attempt", attempt+1,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("publishing to topic %s after %d attempts: %w", topic, b.retry.MaxAttempts, lastErr)
}

// Consume reads sub's topic within the consumer group named after the
// subscription, so each (group, topic) pair tracks its own offsets. Offsets
// are committed explicitly, only after the handler succeeded or the message
// was dead-lettered.
func (b *Bus) Consume(ctx context.Context, sub events.Subscription, handler events.Handler) error {
	reader := kafka.NewReader(b.readerConfig(sub))
	defer reader.Close()

	b.logger.Info("kafka consumer started", "group", sub.Name(), "topic", sub.Topic)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			b.logger.Error("kafka fetch error", "consumer", sub.Name(), "error", err)
			continue
		}

		err = b.hold(ctx, sub, msg.Offset, func() error {
			return b.process(ctx, sub, msg, handler)
		})
		if err != nil {
			return err
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			b.logger.Error("kafka commit error", "consumer", sub.Name(), "offset", msg.Offset, "error", err)
		}
	}
}

func (b *Bus) readerConfig(sub events.Subscription) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  sub.Name(),
		Topic:    b.topicName(sub.Topic),
		MinBytes: b.cfg.MinBytes,
		MaxBytes: b.cfg.MaxBytes,
	}
}

// hold repeats fn for one message until it succeeds or ctx is done. A message
// that could be neither handled nor dead-lettered stalls its partition and
// keeps its offset uncommitted; the other consumers keep running.
func (b *Bus) hold(ctx context.Context, sub events.Subscription, offset int64, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.retry.Delay(attempt)
		b.logger.Error("message neither handled nor dead-lettered",
			"consumer", sub.Name(),
			"offset", offset,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bus) process(ctx context.Context, sub events.Subscription, msg kafka.Message, handler events.Handler) error {
	var event events.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		b.logger.Error("undecodable message", "consumer", sub.Name(), "offset", msg.Offset, "error", err)
		return b.deadLetter(ctx, sub, "", msg, 1, err)
	}

	hctx := events.ContextWithCause(ctx, &event)

	var lastErr error
	for attempt := 0; attempt < b.retry.MaxAttempts; attempt++ {
		lastErr = handler(hctx, &event)
		if lastErr == nil {
			return nil
		}
		b.logger.Error("error handling event",
			"consumer", sub.Name(),
			"event_id", event.ID,
			"attempt", attempt+1,
			"error", lastErr,
		)
		if events.IsPermanent(lastErr) {
			return b.deadLetter(ctx, sub, event.ID, msg, attempt+1, lastErr)
		}
		if attempt == b.retry.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(b.retry.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return b.deadLetter(ctx, sub, event.ID, msg, b.retry.MaxAttempts, lastErr)
}

// deadLetter parks msg on the topic's DLQ. An error means the message was
// neither handled nor parked and its offset must not be committed.
func (b *Bus) deadLetter(ctx context.Context, sub events.Subscription, eventID string, msg kafka.Message, attempts int, cause error) error {
	data, err := json.Marshal(events.DeadLetter{
		Subscription: sub.Name(),
		Topic:        sub.Topic,
		EventID:      eventID,
		Payload:      string(msg.Value),
		Attempts:     attempts,
		Error:        cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("marshaling dead letter: %w", err)
	}

	topic := b.topicName(sub.Topic) + b.cfg.DLQSuffix
	if err := b.write(ctx, topic, kafka.Message{Key: msg.Key, Value: data}); err != nil {
		return fmt.Errorf("dead-lettering offset %d of %s: %w", msg.Offset, sub.Name(), err)
	}
	b.logger.Warn("event dead-lettered", "consumer", sub.Name(), "event_id", eventID, "dlq", topic)
	return nil
}

// Close flushes and closes all writers
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, w := range b.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
