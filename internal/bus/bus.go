// Package bus provides event bus implementations for identifier events.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "stone.identified").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics for identifier events.
const (
	TopicStoneIdentified = "stone.identified"
	TopicStoneCollision  = "stone.collision"
)

// IdentifiedPayload is the payload of stone.identified and stone.collision.
type IdentifiedPayload struct {
	InternalID  string `json:"internal_id"`
	BasicID     string `json:"basic_id"`
	TripleID    string `json:"triple_id"`
	Fingerprint string `json:"fingerprint"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// DecodePayload converts an event payload into v. Events that crossed a
// wire carry their payload as generic JSON values.
func DecodePayload(event Event, v any) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
