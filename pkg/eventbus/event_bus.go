// Package eventbus provides publish/subscribe for dripflow events over
// pluggable transports.
package eventbus

import (
	"context"

	"github.com/dripflow/dripflow/pkg/events"
)

// Event is anything publishable on the bus.
type Event interface {
	GetType() events.EventType
}

// EventHandler processes one decoded event.
type EventHandler func(ctx context.Context, event any) error

// EventBus decouples the engine from its transports: triggers arrive and
// lifecycle notifications leave through it.
type EventBus interface {
	Publish(ctx context.Context, topic, key string, event Event) error
	Subscribe(ctx context.Context, topic string) error
	Handle(eventType events.EventType, handler EventHandler)
	GenerateID() string
	Close() error
}
