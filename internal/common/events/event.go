package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the envelope every topic carries. ID is unique per published
// event and is the key consumers deduplicate on.
type Event struct {
	ID            string          `json:"event_id"`
	Topic         Topic           `json:"topic"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	OwnerID       string          `json:"owner_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event. Correlation and causation are taken from ctx:
// a request correlation id set by the HTTP layer, or the event being handled
// when called from a consumer.
func NewEvent(ctx context.Context, topic Topic, ownerID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	evt := &Event{
		ID:         ulid.Make().String(),
		Topic:      topic,
		Version:    1,
		OccurredAt: time.Now().UTC(),
		OwnerID:    ownerID,
		Data:       dataBytes,
	}

	if cause := CauseFrom(ctx); cause != nil {
		evt.CausationID = cause.ID
		evt.CorrelationID = cause.CorrelationID
		if evt.CorrelationID == "" {
			evt.CorrelationID = cause.ID
		}
	} else if id := CorrelationIDFrom(ctx); id != "" {
		evt.CorrelationID = id
	}

	return evt, nil
}

// DecodeData unmarshals the event data into v. Unknown fields are ignored.
func (e *Event) DecodeData(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return Permanent(fmt.Errorf("decoding %s event %s: %w", e.Topic, e.ID, err))
	}
	return nil
}

type ctxKey int

const (
	causeKey ctxKey = iota
	correlationKey
)

// ContextWithCause marks evt as the event being handled.
func ContextWithCause(ctx context.Context, evt *Event) context.Context {
	return context.WithValue(ctx, causeKey, evt)
}

// CauseFrom returns the event being handled, if any.
func CauseFrom(ctx context.Context) *Event {
	evt, _ := ctx.Value(causeKey).(*Event)
	return evt
}

// ContextWithCorrelationID stores a request correlation id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFrom returns the request correlation id, if any.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}
