package order

import (
	"context"
	"time"

	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

// Tx is the set of operations available inside one order-side
// transaction. The domain mutation, its outbox append, and the
// processed-event mark commit together or not at all.
type Tx interface {
	InsertOrder(o *Order) error
	GetOrder(orderID string) (*Order, error)
	// UpdateStatus flips orderID from -> to and returns
	// ErrStatusMismatch if the current status is not `from`.
	UpdateStatus(orderID string, from, to Status) error
	// ListByStatusBefore returns orders in `status` whose last update
	// is older than cutoff, up to limit.
	ListByStatusBefore(status Status, cutoff time.Time, limit int) ([]*Order, error)

	AppendEvent(rec *outbox.Record) error
	IsProcessed(eventID string) (bool, error)
	MarkProcessed(eventID, eventType string) error
}

type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
