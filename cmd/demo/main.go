// Demo runs the whole saga in one process over the in-memory bus and
// stores: a checkout that pays and ships, a checkout whose payment is
// declined (stock released), and a checkout for more units than exist
// (rejected before payment). Watch the event log, then the final order
// and stock report.
package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/events"
	"github.com/k-code-yt/kafka-order-saga/internal/inbox"
	"github.com/k-code-yt/kafka-order-saga/internal/inventory"
	"github.com/k-code-yt/kafka-order-saga/internal/order"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
	"github.com/k-code-yt/kafka-order-saga/internal/payment"
)

const (
	relayInterval    = 50 * time.Millisecond
	fulfillmentDelay = 200 * time.Millisecond
)

func main() {
	logrus.SetLevel(logrus.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mbus := bus.NewMemoryBus()

	// Order service: saga consumer, outbox relay, fulfillment poller.
	orderOutbox := outbox.NewMemoryStore()
	orderStore := order.NewMemoryStore(orderOutbox)
	saga := order.NewSaga(orderStore)

	go outbox.NewRelay(orderOutbox, mbus, relayInterval).Run(ctx)
	go order.NewFulfillmentPoller(orderStore, fulfillmentDelay, relayInterval).Run(ctx)

	orderConsumer := inbox.NewConsumer(mbus, inbox.NewMemoryLedger(), "order-service")
	go orderConsumer.Run(ctx, saga.Topics(), "order-service-group", saga.Handle)

	// Inventory service: ledger consumer and its own outbox relay.
	invOutbox := outbox.NewMemoryStore()
	invStore := inventory.NewMemoryStore(invOutbox)
	ledger := inventory.NewLedger(invStore, 10)

	catalog := inventory.DefaultCatalog()
	if err := inventory.Seed(ctx, invStore, catalog); err != nil {
		logrus.Fatalf("unable to seed products: %v", err)
	}

	go outbox.NewRelay(invOutbox, mbus, relayInterval).Run(ctx)

	invConsumer := inbox.NewConsumer(mbus, inbox.NewMemoryLedger(), "inventory-service")
	go invConsumer.Run(ctx, ledger.Topics(), "inventory-service-group", ledger.Handle)

	// Payment collaborator. A 50% success rate keeps both outcomes
	// likely across a handful of checkouts.
	paySvc := payment.NewService(payment.NewProcessor(0.5), mbus)
	payConsumer := inbox.NewConsumer(mbus, inbox.NewMemoryLedger(), "payment-service")
	go payConsumer.Run(ctx, paySvc.Topics(), "payment-service-group", paySvc.Handle)

	// Four normal checkouts plus one that asks for more units than the
	// catalog holds.
	checkouts := []*events.CartCheckoutInitiated{
		checkout("user-1", "PROD-LAPTOP", 1, 1299.99),
		checkout("user-2", "PROD-PHONE", 2, 899.99),
		checkout("user-3", "PROD-HEADPHONES", 1, 199.99),
		checkout("user-4", "PROD-MONITOR", 3, 449.99),
		checkout("user-5", "PROD-KEYBOARD", 500, 129.99),
	}
	for _, co := range checkouts {
		b, err := events.Encode(co)
		if err != nil {
			logrus.Fatalf("unable to encode checkout: %v", err)
		}
		if err := mbus.Publish(ctx, events.TopicCartCheckoutInitiated, co.UserID, b); err != nil {
			logrus.Fatalf("unable to publish checkout: %v", err)
		}
	}

	// Let the sagas run to completion, then report.
	time.Sleep(3 * time.Second)
	cancel()
	time.Sleep(100 * time.Millisecond)

	logrus.Info("---- final orders ----")
	for _, o := range orderStore.Orders() {
		logrus.WithFields(logrus.Fields{
			"order_id": o.OrderID,
			"user_id":  o.UserID,
			"status":   o.Status,
			"total":    o.TotalAmount,
		}).Info("order")
	}

	logrus.Info("---- final stock ----")
	for _, seeded := range catalog {
		p, err := invStore.GetProduct(seeded.ProductID)
		if err != nil {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"product_id": p.ProductID,
			"stock":      p.Stock,
			"version":    p.Version,
		}).Info("product")
	}

	if open := invStore.Reservations(); len(open) > 0 {
		logrus.WithField("count", len(open)).Warn("reservations left open (orders still mid-flight)")
	}
}

func checkout(userID, productID string, qty int, price float64) *events.CartCheckoutInitiated {
	return &events.CartCheckoutInitiated{
		Envelope: events.NewEnvelope(events.TopicCartCheckoutInitiated, ""),
		UserID:   userID,
		Items: []events.OrderItem{
			{ProductID: productID, Quantity: qty, Price: price},
		},
		TotalAmount: float64(qty) * price,
	}
}
