package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/events"
	"github.com/k-code-yt/kafka-order-saga/internal/inbox"
	"github.com/k-code-yt/kafka-order-saga/internal/inventory"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
	"github.com/k-code-yt/kafka-order-saga/internal/payment"
)

const (
	flowWait = 5 * time.Second
	flowTick = 10 * time.Millisecond
)

// flowEnv wires all three services over the in-memory bus, the same
// topology the demo binary runs.
type flowEnv struct {
	bus        *bus.MemoryBus
	orderStore *MemoryStore
	invStore   *inventory.MemoryStore
}

func startFlow(t *testing.T, withPayment bool) *flowEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mbus := bus.NewMemoryBus()

	orderOutbox := outbox.NewMemoryStore()
	orderStore := NewMemoryStore(orderOutbox)
	saga := NewSaga(orderStore)
	go outbox.NewRelay(orderOutbox, mbus, flowTick).Run(ctx)
	go inbox.NewConsumer(mbus, inbox.NewMemoryLedger(), "order-service").
		Run(ctx, saga.Topics(), "order-group", saga.Handle)

	invOutbox := outbox.NewMemoryStore()
	invStore := inventory.NewMemoryStore(invOutbox)
	ledger := inventory.NewLedger(invStore, 2)
	go outbox.NewRelay(invOutbox, mbus, flowTick).Run(ctx)
	go inbox.NewConsumer(mbus, inbox.NewMemoryLedger(), "inventory-service").
		Run(ctx, ledger.Topics(), "inventory-group", ledger.Handle)

	if withPayment {
		svc := payment.NewService(payment.NewProcessor(1.0), mbus)
		go inbox.NewConsumer(mbus, inbox.NewMemoryLedger(), "payment-service").
			Run(ctx, svc.Topics(), "payment-group", svc.Handle)
	}

	err := invStore.WithinTx(ctx, func(tx inventory.Tx) error {
		now := time.Now().UTC()
		return tx.InsertProduct(&inventory.Product{
			ProductID: "PROD-A", Name: "widget", Price: 10.0,
			Stock: 10, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	// The consumers above subscribe from their own goroutines; the bus
	// drops messages published before a subscriber registers. Give the
	// subscriptions a moment to land before callers start publishing.
	time.Sleep(100 * time.Millisecond)

	return &flowEnv{bus: mbus, orderStore: orderStore, invStore: invStore}
}

func (e *flowEnv) checkout(t *testing.T, qty int) {
	t.Helper()
	ev := &events.CartCheckoutInitiated{
		Envelope: events.NewEnvelope(events.TopicCartCheckoutInitiated, "corr-flow"),
		UserID:   "user-1",
		Items: []events.OrderItem{
			{ProductID: "PROD-A", Quantity: qty, Price: 10.0},
		},
		TotalAmount: float64(qty) * 10.0,
	}
	raw, err := events.Encode(ev)
	require.NoError(t, err)
	require.NoError(t, e.bus.Publish(context.Background(), events.TopicCartCheckoutInitiated, ev.UserID, raw))
}

func (e *flowEnv) waitForOrder(t *testing.T) *Order {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(e.orderStore.Orders()) == 1
	}, flowWait, flowTick, "order never created")
	return e.orderStore.Orders()[0]
}

func (e *flowEnv) waitForStatus(t *testing.T, orderID string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		o, err := e.orderStore.GetOrder(orderID)
		return err == nil && o.Status == want
	}, flowWait, flowTick, "order %s never reached %s", orderID, want)
}

func (e *flowEnv) stock(t *testing.T) int {
	t.Helper()
	p, err := e.invStore.GetProduct("PROD-A")
	require.NoError(t, err)
	return p.Stock
}

func TestFlowCheckoutToPaid(t *testing.T) {
	env := startFlow(t, true)

	env.checkout(t, 2)
	o := env.waitForOrder(t)
	env.waitForStatus(t, o.OrderID, Status_Paid)

	assert.Equal(t, 8, env.stock(t))
	assert.Len(t, env.invStore.Reservations(), 1, "paid orders keep their reservation")
}

func TestFlowPaymentFailureReleasesStock(t *testing.T) {
	env := startFlow(t, false)

	env.checkout(t, 3)
	o := env.waitForOrder(t)
	env.waitForStatus(t, o.OrderID, Status_ReservationConfirmed)
	assert.Equal(t, 7, env.stock(t))

	failed := &events.PaymentFailed{
		Envelope: events.NewEnvelope(events.TopicPaymentFailed, "corr-flow"),
		OrderID:  o.OrderID,
		UserID:   o.UserID,
		Reason:   "card_declined",
	}
	raw, err := events.Encode(failed)
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(context.Background(), events.TopicPaymentFailed, o.OrderID, raw))

	env.waitForStatus(t, o.OrderID, Status_Cancelled)

	require.Eventually(t, func() bool {
		return env.stock(t) == 10
	}, flowWait, flowTick, "cancelled order never returned its stock")
	assert.Empty(t, env.invStore.Reservations())
}

func TestFlowDepletedStockCancelsOrder(t *testing.T) {
	env := startFlow(t, true)

	env.checkout(t, 50)
	o := env.waitForOrder(t)
	env.waitForStatus(t, o.OrderID, Status_Cancelled)

	assert.Equal(t, 10, env.stock(t), "rejected order must not touch stock")
	assert.Empty(t, env.invStore.Reservations())
}

func TestFlowFulfillmentAfterPayment(t *testing.T) {
	env := startFlow(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewFulfillmentPoller(env.orderStore, 20*time.Millisecond, flowTick).Run(ctx)

	env.checkout(t, 1)
	o := env.waitForOrder(t)
	env.waitForStatus(t, o.OrderID, Status_Fulfilled)

	assert.Equal(t, 9, env.stock(t))
}
