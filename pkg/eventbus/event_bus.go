// Package eventbus carries domain happenings into the trigger service and publishes
// execution lifecycle notifications.
package eventbus

import (
	"context"

	"github.com/congrega/flows/pkg/events"
)

// Event is anything published on the bus; its type selects the topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events. key orders events of one execution or target.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives the decoded event, a pointer to the type events.New returns.
// Returning an error redelivers the message.
type EventHandler func(ctx context.Context, event any) error

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
