// Package eventbus carries workflow and agent lifecycle events between the API, scheduler and workers.
package eventbus

import (
	"context"

	"github.com/dukex/flowpilot/pkg/events"
)

// Event is anything published on the bus. Its type travels as message metadata and picks
// the handler on the consuming side.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends an event. key partitions the topic; callers use the workflow or
// agent id so the events of one definition stay ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes consumed events by type. Handle registrations must happen before
// Subscribe; events of a type with no handler are acknowledged and dropped.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event, a pointer to the struct registered for its type.
// A returned error nacks the message for redelivery.
type EventHandler func(ctx context.Context, event Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
