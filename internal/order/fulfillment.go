package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/events"
)

const fulfillmentBatchSize = 50

// FulfillmentPoller ships orders that have been PAID for longer than
// the configured delay: PAID -> FULFILLED plus an order.fulfilled event
// with a generated tracking number, all in one transaction.
type FulfillmentPoller struct {
	store    Store
	delay    time.Duration
	interval time.Duration
	log      *logrus.Entry
}

func NewFulfillmentPoller(store Store, delay, interval time.Duration) *FulfillmentPoller {
	return &FulfillmentPoller{
		store:    store,
		delay:    delay,
		interval: interval,
		log:      logrus.WithField("component", "fulfillment-poller"),
	}
}

func (p *FulfillmentPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("delay", p.delay).Info("fulfillment poller started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.log.Errorf("fulfillment poll failed: %v", err)
			}
		}
	}
}

func (p *FulfillmentPoller) PollOnce(ctx context.Context) (int, error) {
	var shipped int
	err := p.store.WithinTx(ctx, func(tx Tx) error {
		orders, err := tx.ListByStatusBefore(Status_Paid, time.Now().UTC().Add(-p.delay), fulfillmentBatchSize)
		if err != nil {
			return err
		}

		for _, o := range orders {
			if err := tx.UpdateStatus(o.OrderID, Status_Paid, Status_Fulfilled); err != nil {
				return err
			}

			fulfilled := &events.OrderFulfilled{
				Envelope:       events.NewEnvelope(events.TopicOrderFulfilled, ""),
				OrderID:        o.OrderID,
				UserID:         o.UserID,
				TrackingNumber: newTrackingNumber(),
				ShippedAt:      time.Now().UTC(),
			}
			if err := stage(tx, o.OrderID, fulfilled); err != nil {
				return err
			}

			p.log.WithFields(logrus.Fields{
				"order_id": o.OrderID,
				"tracking": fulfilled.TrackingNumber,
			}).Info("order shipped")
			shipped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return shipped, nil
}

func newTrackingNumber() string {
	return fmt.Sprintf("TRK-%s", strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10]))
}
