package order

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/events"
)

const sweepBatchSize = 50

// ReservationSweeper cancels orders stuck in RESERVATION_CONFIRMED
// longer than the TTL, i.e. payment never arrived. The cancellation is
// staged with cancellation_source=payment_failed so the inventory
// ledger releases the stock that is still reserved for the order.
type ReservationSweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	log      *logrus.Entry
}

func NewReservationSweeper(store Store, ttl, interval time.Duration) *ReservationSweeper {
	return &ReservationSweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		log:      logrus.WithField("component", "reservation-sweeper"),
	}
}

func (s *ReservationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("ttl", s.ttl).Info("reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Errorf("reservation sweep failed: %v", err)
			}
		}
	}
}

func (s *ReservationSweeper) SweepOnce(ctx context.Context) (int, error) {
	var cancelled int
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		orders, err := tx.ListByStatusBefore(Status_ReservationConfirmed, time.Now().UTC().Add(-s.ttl), sweepBatchSize)
		if err != nil {
			return err
		}

		for _, o := range orders {
			if err := tx.UpdateStatus(o.OrderID, Status_ReservationConfirmed, Status_Cancelled); err != nil {
				return err
			}

			ev := &events.OrderCancelled{
				Envelope:           events.NewEnvelope(events.TopicOrderCancelled, ""),
				OrderID:            o.OrderID,
				UserID:             o.UserID,
				Reason:             "payment timed out",
				CancellationSource: events.CancellationSource_PaymentFailed,
			}
			if err := stage(tx, o.OrderID, ev); err != nil {
				return err
			}

			s.log.WithField("order_id", o.OrderID).Warn("payment timed out, order cancelled")
			cancelled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}
