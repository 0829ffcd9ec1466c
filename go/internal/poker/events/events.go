package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every message the server pushes to a client.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventType represents the type of an outbound event.
type EventType string

const (
	EventTypeSessionCreated    EventType = "sessionCreated"
	EventTypeSessionUpdated    EventType = "sessionUpdated"
	EventTypeSessionTerminated EventType = "sessionTerminated"
	EventTypeQueueUpdated      EventType = "queueUpdated"
	EventTypeError             EventType = "error"
)

// New builds an event envelope around the given payload.
func New(t EventType, now time.Time, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: now,
		Payload:   data,
	}, nil
}
