package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Record is one staged outbound event. It is appended in the same
// transaction as the domain mutation it narrates; Published flips
// false -> true exactly once, after the broker acknowledged the event.
type Record struct {
	ID          string       `db:"id"`
	AggregateID string       `db:"aggregate_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Published   bool         `db:"published"`
	CreatedAt   time.Time    `db:"created_at"`
	PublishedAt sql.NullTime `db:"published_at"`
}

func NewRecord(aggregateID, eventType string, payload []byte) *Record {
	return &Record{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store is what the relay drains. Drain claims the current batch of
// unpublished records in creation order, invokes publish for each, and
// marks only the records whose publish returned nil. A failed record
// stays unpublished for the next poll.
type Store interface {
	Drain(ctx context.Context, publish func(rec *Record) error) (int, error)
}
