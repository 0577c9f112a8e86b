package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/events"
)

// stubBus records publishes; Subscribe hands back a channel the test
// feeds directly.
type stubBus struct {
	mu         sync.Mutex
	published  map[string][][]byte
	publishErr error
	deliveries chan bus.Delivery
}

func newStubBus() *stubBus {
	return &stubBus{
		published:  make(map[string][][]byte),
		deliveries: make(chan bus.Delivery, 16),
	}
}

func (b *stubBus) Publish(_ context.Context, topic string, _ string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[topic] = append(b.published[topic], append([]byte(nil), value...))
	return nil
}

func (b *stubBus) setPublishErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *stubBus) Subscribe(_ context.Context, _ []string, _ string) (<-chan bus.Delivery, error) {
	return b.deliveries, nil
}

func (b *stubBus) dlq() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[events.TopicDLQ]
}

func newTestConsumer(b *stubBus) (*Consumer, *[]time.Duration) {
	c := NewConsumer(b, NewMemoryLedger(), "test-service")
	slept := &[]time.Duration{}
	c.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return c, slept
}

func delivery(t *testing.T, ev events.Event) bus.Delivery {
	t.Helper()
	raw, err := events.Encode(ev)
	require.NoError(t, err)
	return bus.Delivery{Topic: ev.Meta().EventType, Key: []byte("k"), Value: raw}
}

func TestHandlerSuccessMarksProcessed(t *testing.T) {
	b := newStubBus()
	c, _ := newTestConsumer(b)
	ev := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, ""), OrderID: "ORD-1"}

	calls := 0
	handler := func(ctx context.Context, ev events.Event) error {
		calls++
		return nil
	}

	c.handleDelivery(context.Background(), delivery(t, ev), handler)
	assert.Equal(t, 1, calls)

	done, err := c.ledger.IsProcessed(context.Background(), ev.EventID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, b.dlq())
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	b := newStubBus()
	c, _ := newTestConsumer(b)
	ev := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, ""), OrderID: "ORD-1"}

	calls := 0
	handler := func(ctx context.Context, ev events.Event) error {
		calls++
		return nil
	}

	d := delivery(t, ev)
	c.handleDelivery(context.Background(), d, handler)
	c.handleDelivery(context.Background(), d, handler)
	assert.Equal(t, 1, calls, "redelivery must not reach the handler")
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	b := newStubBus()
	c, slept := newTestConsumer(b)
	ev := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, ""), OrderID: "ORD-1"}

	calls := 0
	handler := func(ctx context.Context, ev events.Event) error {
		calls++
		if calls == 1 {
			return errors.New("transient db error")
		}
		return nil
	}

	c.handleDelivery(context.Background(), delivery(t, ev), handler)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
	assert.Empty(t, b.dlq())

	done, _ := c.ledger.IsProcessed(context.Background(), ev.EventID)
	assert.True(t, done)
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	b := newStubBus()
	c, slept := newTestConsumer(b)
	ev := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, "corr-9"), OrderID: "ORD-1"}

	calls := 0
	handler := func(ctx context.Context, ev events.Event) error {
		calls++
		return errors.New("db is down")
	}

	d := delivery(t, ev)
	c.handleDelivery(context.Background(), d, handler)
	assert.Equal(t, maxAttempts, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)

	msgs := b.dlq()
	require.Len(t, msgs, 1)
	decoded, err := events.Decode(msgs[0])
	require.NoError(t, err)
	dl, ok := decoded.(*events.DeadLetter)
	require.True(t, ok)
	assert.Equal(t, events.TopicOrderConfirmed, dl.OriginalTopic)
	assert.Equal(t, events.TopicOrderConfirmed, dl.OriginalEventType)
	assert.Equal(t, maxAttempts, dl.RetryCount)
	assert.Contains(t, dl.ErrorReason, "db is down")
	assert.Equal(t, string(d.Value), dl.Payload)
	assert.Equal(t, "corr-9", dl.CorrelationID, "dead letter keeps the saga lineage")

	// Poison message protection: a redelivery must not retry again.
	c.handleDelivery(context.Background(), d, handler)
	assert.Equal(t, maxAttempts, calls)
	assert.Len(t, b.dlq(), 1)
}

func TestFailedDLQPublishLeavesEventUnprocessed(t *testing.T) {
	b := newStubBus()
	b.setPublishErr(errors.New("broker unavailable"))
	c, _ := newTestConsumer(b)
	ev := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, ""), OrderID: "ORD-1"}

	calls := 0
	handler := func(ctx context.Context, ev events.Event) error {
		calls++
		return errors.New("db is down")
	}

	d := delivery(t, ev)
	c.handleDelivery(context.Background(), d, handler)
	assert.Equal(t, maxAttempts, calls)
	assert.Empty(t, b.dlq())

	// No DLQ copy exists, so the event must stay unprocessed for
	// redelivery to retry the DLQ hop.
	done, err := c.ledger.IsProcessed(context.Background(), ev.EventID)
	require.NoError(t, err)
	assert.False(t, done, "event without a DLQ copy must not be marked processed")

	// Broker recovers: redelivery retries the handler, dead-letters, and
	// only then marks the event processed.
	b.setPublishErr(nil)
	c.handleDelivery(context.Background(), d, handler)
	assert.Equal(t, 2*maxAttempts, calls)
	assert.Len(t, b.dlq(), 1)

	done, err = c.ledger.IsProcessed(context.Background(), ev.EventID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMalformedMessageDeadLetteredWithoutRetry(t *testing.T) {
	b := newStubBus()
	c, slept := newTestConsumer(b)

	calls := 0
	handler := func(ctx context.Context, ev events.Event) error {
		calls++
		return nil
	}

	d := bus.Delivery{Topic: events.TopicOrderCreated, Key: []byte("k"), Value: []byte(`{"event_type":`)}
	c.handleDelivery(context.Background(), d, handler)

	assert.Zero(t, calls, "malformed payload must not reach the handler")
	assert.Empty(t, *slept)

	msgs := b.dlq()
	require.Len(t, msgs, 1)
	decoded, err := events.Decode(msgs[0])
	require.NoError(t, err)
	dl := decoded.(*events.DeadLetter)
	assert.Equal(t, events.TopicOrderCreated, dl.OriginalTopic)
	assert.Zero(t, dl.RetryCount)
}

func TestRunDispatchesDeliveries(t *testing.T) {
	b := newStubBus()
	c, _ := newTestConsumer(b)
	ev := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, ""), OrderID: "ORD-1"}

	handled := make(chan events.Event, 1)
	handler := func(ctx context.Context, ev events.Event) error {
		handled <- ev
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, []string{events.TopicOrderConfirmed}, "g1", handler)

	b.deliveries <- delivery(t, ev)

	select {
	case got := <-handled:
		assert.Equal(t, ev.EventID, got.Meta().EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never reached the handler")
	}
}
