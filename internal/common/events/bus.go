package events

import (
	"context"
	"errors"
)

// Publisher publishes events to the bus
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Handler applies one delivered event. Returning nil acknowledges the
// delivery; any other error leaves it for redelivery.
type Handler func(ctx context.Context, event *Event) error

// Subscription identifies a durable consumer: one group per stage, one
// consumer per topic within the group.
type Subscription struct {
	Group string
	Topic Topic
}

// Name is the durable consumer name for the subscription.
func (s Subscription) Name() string {
	return s.Group + "-" + string(s.Topic)
}

// Consumer runs a handler against a subscription until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, sub Subscription, handler Handler) error
}

// Route binds a handler to the topic it consumes.
type Route struct {
	Topic   Topic
	Handler Handler
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the delivery is dead-lettered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DeadLetter is what the bus publishes when it gives up on a delivery.
type DeadLetter struct {
	Subscription string `json:"subscription"`
	Topic        Topic  `json:"topic"`
	EventID      string `json:"event_id,omitempty"`
	Payload      string `json:"payload"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error"`
}
