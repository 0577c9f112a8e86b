package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/events"
	"github.com/k-code-yt/kafka-order-saga/internal/metrics"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

const maxReserveAttempts = 3

// errReservationRejected aborts the reservation transaction so every
// reservation made for the order rolls back before the rejection is
// recorded. It never escapes HandleOrderCreated.
var errReservationRejected = errors.New("reservation rejected")

// Ledger consumes order lifecycle events and manages stock. Reserving
// is guarded by the product version (see Tx.CompareAndSetStock); losing
// the race 3 times degrades to a business rejection, identical to
// insufficient stock, never to a retryable error.
type Ledger struct {
	store             Store
	lowStockThreshold int
	log               *logrus.Entry
}

func NewLedger(store Store, lowStockThreshold int) *Ledger {
	return &Ledger{
		store:             store,
		lowStockThreshold: lowStockThreshold,
		log:               logrus.WithField("component", "inventory-ledger"),
	}
}

// Topics lists the inbound subscriptions of the ledger.
func (l *Ledger) Topics() []string {
	return []string{
		events.TopicOrderCreated,
		events.TopicOrderCancelled,
	}
}

func (l *Ledger) Handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case *events.OrderCreated:
		return l.HandleOrderCreated(ctx, e)
	case *events.OrderCancelled:
		return l.HandleOrderCancelled(ctx, e)
	default:
		l.log.WithField("event_type", ev.Meta().EventType).Warn("no handler for event, ignoring")
		return nil
	}
}

// HandleOrderCreated reserves stock for every item of the order in one
// transaction. If any item cannot be reserved the transaction rolls
// back (no partial reservations survive) and a second transaction
// records inventory.depleted for that order.
func (l *Ledger) HandleOrderCreated(ctx context.Context, e *events.OrderCreated) error {
	var rejected *events.OrderItem

	err := l.store.WithinTx(ctx, func(tx Tx) error {
		done, err := tx.IsProcessed(e.EventID)
		if err != nil || done {
			return err
		}

		for i := range e.Items {
			item := e.Items[i]
			stockAfter, err := l.reserve(tx, e.OrderID, item.ProductID, item.Quantity)
			if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrVersionConflict) {
				rejected = &item
				return errReservationRejected
			}
			if err != nil {
				return err
			}

			reserved := &events.InventoryReserved{
				Envelope:  events.NewEnvelope(events.TopicInventoryReserved, e.CorrelationID),
				OrderID:   e.OrderID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			}
			if err := l.stage(tx, e.OrderID, reserved); err != nil {
				return err
			}

			// Informational only: a low-stock warning never blocks or
			// fails the reservation.
			if stockAfter < l.lowStockThreshold {
				low := &events.InventoryLow{
					Envelope:     events.NewEnvelope(events.TopicInventoryLow, e.CorrelationID),
					ProductID:    item.ProductID,
					CurrentStock: stockAfter,
					Threshold:    l.lowStockThreshold,
				}
				if err := l.stage(tx, item.ProductID, low); err != nil {
					return err
				}
			}
		}

		return tx.MarkProcessed(e.EventID, e.EventType)
	})

	if errors.Is(err, errReservationRejected) {
		metrics.ReservationRejections.Inc()
		l.log.WithFields(logrus.Fields{
			"order_id":   e.OrderID,
			"product_id": rejected.ProductID,
			"quantity":   rejected.Quantity,
		}).Warn("reservation rejected")

		return l.store.WithinTx(ctx, func(tx Tx) error {
			done, err := tx.IsProcessed(e.EventID)
			if err != nil || done {
				return err
			}
			depleted := &events.InventoryDepleted{
				Envelope:  events.NewEnvelope(events.TopicInventoryDepleted, e.CorrelationID),
				OrderID:   e.OrderID,
				ProductID: rejected.ProductID,
			}
			if err := l.stage(tx, e.OrderID, depleted); err != nil {
				return err
			}
			return tx.MarkProcessed(e.EventID, e.EventType)
		})
	}
	return err
}

// reserve runs the read-check-CAS loop for one product. Returns the
// stock level after the reservation landed.
func (l *Ledger) reserve(tx Tx, orderID, productID string, qty int) (int, error) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		p, err := tx.GetProduct(productID)
		if errors.Is(err, ErrUnknownProduct) {
			l.log.WithField("product_id", productID).Error("reservation for unknown product")
			return 0, ErrInsufficientStock
		}
		if err != nil {
			return 0, err
		}

		if p.Stock < qty {
			l.log.WithFields(logrus.Fields{
				"product_id": productID,
				"requested":  qty,
				"available":  p.Stock,
			}).Warn("insufficient stock")
			return 0, ErrInsufficientStock
		}

		ok, err := tx.CompareAndSetStock(productID, p.Stock-qty, p.Version)
		if err != nil {
			return 0, err
		}
		if !ok {
			metrics.ReservationConflicts.Inc()
			l.log.WithFields(logrus.Fields{
				"product_id": productID,
				"attempt":    attempt + 1,
			}).Warn("concurrent stock update, retrying")
			continue
		}

		r := &StockReservation{
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  qty,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.InsertReservation(r); err != nil {
			return 0, err
		}

		l.log.WithFields(logrus.Fields{
			"order_id":   orderID,
			"product_id": productID,
			"quantity":   qty,
			"stock":      p.Stock - qty,
		}).Info("stock reserved")
		return p.Stock - qty, nil
	}
	return 0, ErrVersionConflict
}

// HandleOrderCancelled releases the order's reservations, but only for
// cancellation_source=payment_failed: inventory_depleted means no
// reservation survived to be released.
func (l *Ledger) HandleOrderCancelled(ctx context.Context, e *events.OrderCancelled) error {
	return l.store.WithinTx(ctx, func(tx Tx) error {
		done, err := tx.IsProcessed(e.EventID)
		if err != nil || done {
			return err
		}

		if e.CancellationSource != events.CancellationSource_PaymentFailed {
			l.log.WithFields(logrus.Fields{
				"order_id": e.OrderID,
				"source":   e.CancellationSource,
			}).Info("cancellation without reservation, nothing to release")
			return tx.MarkProcessed(e.EventID, e.EventType)
		}

		taken, err := tx.TakeReservations(e.OrderID)
		if err != nil {
			return err
		}
		for _, r := range taken {
			if err := tx.AddStock(r.ProductID, r.Quantity); err != nil {
				return fmt.Errorf("failed to release %d units of %s: %w", r.Quantity, r.ProductID, err)
			}
			l.log.WithFields(logrus.Fields{
				"order_id":   e.OrderID,
				"product_id": r.ProductID,
				"quantity":   r.Quantity,
			}).Info("stock released")
		}

		return tx.MarkProcessed(e.EventID, e.EventType)
	})
}

func (l *Ledger) stage(tx Tx, aggregateID string, ev events.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return tx.AppendEvent(outbox.NewRecord(aggregateID, ev.Meta().EventType, payload))
}
