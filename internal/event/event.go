package event

import (
	"context"
	"log"
	"sync"
	"time"
)

// Mutation event names published by the cart service.
const (
	ItemAdded        = "cart.item_added"
	ItemUpdated      = "cart.item_updated"
	ItemRemoved      = "cart.item_removed"
	CartCleared      = "cart.cleared"
	ConditionAdded   = "cart.condition_added"
	ConditionRemoved = "cart.condition_removed"
	CartMerged       = "cart.merged"
)

// Event is the stable payload shape handed to subscribers (read-model
// projection, analytics). Delivery and ordering guarantees are the
// subscriber's concern, not the engine's.
type Event struct {
	Name       string         `json:"name"`
	Identifier string         `json:"identifier"`
	Instance   string         `json:"instance"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, _ Event) error { return nil }

// LogPublisher writes events to the process log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt Event) error {
	log.Printf("[event] %s identifier=%s instance=%s", evt.Name, evt.Identifier, evt.Instance)
	return nil
}

// Recorder collects events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		names = append(names, evt.Name)
	}
	return names
}
