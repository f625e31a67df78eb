// Package events is a thin pub/sub layer over Redis. The API server
// publishes domain events and the SSE endpoint streams them to
// connected clients, so updates propagate across replicas.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const channel = "ballora:events"

// Event types published by the service layer.
const (
	TypeIdeaState       = "idea.state"
	TypeActivityUpdated = "activity.updated"
	TypeMessage         = "conversation.message"
)

// Event is a domain event fanned out to subscribers.
type Event struct {
	Type   string    `json:"type"`
	Ref    string    `json:"ref"`
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Hub publishes and subscribes to domain events via Redis.
type Hub struct {
	client *redis.Client
}

// New creates a Hub on an existing Redis client.
func New(client *redis.Client) *Hub {
	return &Hub{client: client}
}

// Publish sends an event to all subscribers. A zero At is stamped
// with the current time.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of events and a cancel function. The
// channel is closed when the context is done or cancel is called.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, func()) {
	sub := h.client.Subscribe(ctx, channel)
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("events: drop malformed event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		_ = sub.Close()
	}
	return out, cancel
}
