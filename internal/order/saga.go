package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/events"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

// Saga drives the order lifecycle. Every handler runs in one store
// transaction: idempotency check, status mutation, outbox append, and
// processed mark commit together. Events that reference an unknown
// order or arrive in the wrong state are logged and dropped; no
// compensating transition is defined for them.
type Saga struct {
	store Store
	log   *logrus.Entry
}

func NewSaga(store Store) *Saga {
	return &Saga{
		store: store,
		log:   logrus.WithField("component", "order-saga"),
	}
}

// Topics lists the inbound subscriptions of the orchestrator.
func (s *Saga) Topics() []string {
	return []string{
		events.TopicCartCheckoutInitiated,
		events.TopicInventoryReserved,
		events.TopicInventoryDepleted,
		events.TopicPaymentProcessed,
		events.TopicPaymentFailed,
		events.TopicOrderFulfilled,
	}
}

func (s *Saga) Handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case *events.CartCheckoutInitiated:
		return s.handleCheckoutInitiated(ctx, e)
	case *events.InventoryReserved:
		return s.handleInventoryReserved(ctx, e)
	case *events.InventoryDepleted:
		return s.handleInventoryDepleted(ctx, e)
	case *events.PaymentProcessed:
		return s.handlePaymentProcessed(ctx, e)
	case *events.PaymentFailed:
		return s.handlePaymentFailed(ctx, e)
	case *events.OrderFulfilled:
		return s.handleOrderFulfilled(ctx, e)
	default:
		s.log.WithField("event_type", ev.Meta().EventType).Warn("no handler for event, ignoring")
		return nil
	}
}

func (s *Saga) handleCheckoutInitiated(ctx context.Context, e *events.CartCheckoutInitiated) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if done, err := alreadyProcessed(tx, e.Meta()); done || err != nil {
			return err
		}

		o := New(e.UserID, e.Items, e.TotalAmount)
		if err := tx.InsertOrder(o); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		created := &events.OrderCreated{
			Envelope:    events.NewEnvelope(events.TopicOrderCreated, e.CorrelationID),
			OrderID:     o.OrderID,
			UserID:      o.UserID,
			Items:       o.Items,
			TotalAmount: o.TotalAmount,
		}
		if err := stage(tx, o.OrderID, created); err != nil {
			return err
		}
		if err := tx.MarkProcessed(e.EventID, e.EventType); err != nil {
			return err
		}

		s.log.WithFields(logrus.Fields{
			"order_id":       o.OrderID,
			"user_id":        o.UserID,
			"correlation_id": e.CorrelationID,
		}).Info("order saga started")
		return nil
	})
}

func (s *Saga) handleInventoryReserved(ctx context.Context, e *events.InventoryReserved) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if done, err := alreadyProcessed(tx, e.Meta()); done || err != nil {
			return err
		}

		o, err := s.transition(tx, e.OrderID, Status_Pending, Status_ReservationConfirmed, e.Meta())
		if err != nil || o == nil {
			return err
		}

		confirmed := &events.OrderReservationConfirmed{
			Envelope:    events.NewEnvelope(events.TopicOrderReservationConfirmed, e.CorrelationID),
			OrderID:     o.OrderID,
			UserID:      o.UserID,
			TotalAmount: o.TotalAmount,
		}
		if err := stage(tx, o.OrderID, confirmed); err != nil {
			return err
		}
		if err := tx.MarkProcessed(e.EventID, e.EventType); err != nil {
			return err
		}

		s.log.WithField("order_id", o.OrderID).Info("reservation confirmed, triggering payment")
		return nil
	})
}

func (s *Saga) handleInventoryDepleted(ctx context.Context, e *events.InventoryDepleted) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if done, err := alreadyProcessed(tx, e.Meta()); done || err != nil {
			return err
		}

		o, err := s.transition(tx, e.OrderID, Status_Pending, Status_Cancelled, e.Meta())
		if err != nil || o == nil {
			return err
		}

		cancelled := &events.OrderCancelled{
			Envelope:           events.NewEnvelope(events.TopicOrderCancelled, e.CorrelationID),
			OrderID:            o.OrderID,
			UserID:             o.UserID,
			Reason:             fmt.Sprintf("insufficient stock for product %s", e.ProductID),
			CancellationSource: events.CancellationSource_InventoryDepleted,
		}
		if err := stage(tx, o.OrderID, cancelled); err != nil {
			return err
		}
		if err := tx.MarkProcessed(e.EventID, e.EventType); err != nil {
			return err
		}

		s.log.WithField("order_id", o.OrderID).Info("order cancelled, inventory depleted, no charge")
		return nil
	})
}

func (s *Saga) handlePaymentProcessed(ctx context.Context, e *events.PaymentProcessed) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if done, err := alreadyProcessed(tx, e.Meta()); done || err != nil {
			return err
		}

		o, err := s.transition(tx, e.OrderID, Status_ReservationConfirmed, Status_Paid, e.Meta())
		if err != nil || o == nil {
			return err
		}

		confirmed := &events.OrderConfirmed{
			Envelope: events.NewEnvelope(events.TopicOrderConfirmed, e.CorrelationID),
			OrderID:  o.OrderID,
			UserID:   o.UserID,
		}
		if err := stage(tx, o.OrderID, confirmed); err != nil {
			return err
		}
		if err := tx.MarkProcessed(e.EventID, e.EventType); err != nil {
			return err
		}

		s.log.WithField("order_id", o.OrderID).Info("order paid")
		return nil
	})
}

func (s *Saga) handlePaymentFailed(ctx context.Context, e *events.PaymentFailed) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if done, err := alreadyProcessed(tx, e.Meta()); done || err != nil {
			return err
		}

		o, err := tx.GetOrder(e.OrderID)
		if errors.Is(err, ErrUnknownOrder) {
			s.dropped(e.Meta(), e.OrderID, "order not found")
			return nil
		}
		if err != nil {
			return err
		}

		// Normally RESERVATION_CONFIRMED; accept PENDING defensively in
		// case payment.failed outruns inventory.reserved.
		from := o.Status
		if from != Status_ReservationConfirmed && from != Status_Pending {
			s.dropped(e.Meta(), e.OrderID, string(o.Status))
			return nil
		}
		if err := tx.UpdateStatus(o.OrderID, from, Status_Cancelled); err != nil {
			return err
		}

		reason := e.Reason
		if reason == "" {
			reason = "payment processing failed"
		}
		cancelled := &events.OrderCancelled{
			Envelope:           events.NewEnvelope(events.TopicOrderCancelled, e.CorrelationID),
			OrderID:            o.OrderID,
			UserID:             o.UserID,
			Reason:             reason,
			CancellationSource: events.CancellationSource_PaymentFailed,
		}
		if err := stage(tx, o.OrderID, cancelled); err != nil {
			return err
		}
		if err := tx.MarkProcessed(e.EventID, e.EventType); err != nil {
			return err
		}

		s.log.WithFields(logrus.Fields{
			"order_id": o.OrderID,
			"reason":   reason,
		}).Info("order cancelled, payment failed")
		return nil
	})
}

func (s *Saga) handleOrderFulfilled(ctx context.Context, e *events.OrderFulfilled) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if done, err := alreadyProcessed(tx, e.Meta()); done || err != nil {
			return err
		}

		o, err := s.transition(tx, e.OrderID, Status_Paid, Status_Fulfilled, e.Meta())
		if err != nil || o == nil {
			return err
		}
		if err := tx.MarkProcessed(e.EventID, e.EventType); err != nil {
			return err
		}

		s.log.WithField("order_id", o.OrderID).Info("order fulfilled")
		return nil
	})
}

// transition loads the order and applies from -> to. A nil order with a
// nil error means the event was dropped (unknown order or wrong state).
func (s *Saga) transition(tx Tx, orderID string, from, to Status, env events.Envelope) (*Order, error) {
	o, err := tx.GetOrder(orderID)
	if errors.Is(err, ErrUnknownOrder) {
		s.dropped(env, orderID, "order not found")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if o.Status != from {
		s.dropped(env, orderID, string(o.Status))
		return nil, nil
	}
	if err := tx.UpdateStatus(orderID, from, to); err != nil {
		return nil, err
	}
	o.Status = to
	return o, nil
}

func (s *Saga) dropped(env events.Envelope, orderID, state string) {
	s.log.WithFields(logrus.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"order_id":   orderID,
		"state":      state,
	}).Warn("event does not match order state, dropping")
}

func alreadyProcessed(tx Tx, env events.Envelope) (bool, error) {
	done, err := tx.IsProcessed(env.EventID)
	if err != nil {
		return false, err
	}
	return done, nil
}

func stage(tx Tx, aggregateID string, ev events.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return tx.AppendEvent(outbox.NewRecord(aggregateID, ev.Meta().EventType, payload))
}
