package events

import (
	"time"

	"github.com/google/uuid"
)

// Envelope carries the fields shared by every event on the bus.
// event_id is the idempotency key, correlation_id links the events
// of one saga run.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
}

func NewEnvelope(eventType, correlationID string) Envelope {
	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

func (e Envelope) Meta() Envelope { return e }

// Event is the decoded form of a bus message. Concrete types embed
// Envelope; consumers switch on the Go type, not on event_type strings.
type Event interface {
	Meta() Envelope
}
