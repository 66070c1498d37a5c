// Package pubsub provides a generic publish/subscribe event system used for
// registration notifications and log tailing.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// CreatedEvent carries a freshly written log entry.
	CreatedEvent EventType = "created"

	// RegisteredEvent is published after an object is added to the registry.
	RegisteredEvent EventType = "beanserver.registration.registered"
	// UnregisteredEvent is published after an object is removed.
	UnregisteredEvent EventType = "beanserver.registration.unregistered"
)

// Event represents a published event with a typed payload. Sequence numbers
// are assigned by the broker and increase monotonically per broker.
type Event[T any] struct {
	Type      EventType
	Sequence  uint64
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T) uint64
}
