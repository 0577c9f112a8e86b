package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-code-yt/kafka-order-saga/internal/events"
)

type capturedPublish struct {
	topic string
	key   string
	value []byte
}

type stubPublisher struct {
	mu        sync.Mutex
	published []capturedPublish
}

func (p *stubPublisher) Publish(_ context.Context, topic string, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, capturedPublish{topic: topic, key: key, value: value})
	return nil
}

// sequencedRand returns the given values in order.
func sequencedRand(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestChargeOutcomes(t *testing.T) {
	p := NewProcessor(0.8)

	p.rand = sequencedRand(0.5)
	ok, reason := p.Charge(100)
	assert.True(t, ok)
	assert.Empty(t, reason)

	p.rand = sequencedRand(0.95, 0.0)
	ok, reason = p.Charge(100)
	assert.False(t, ok)
	assert.Equal(t, "insufficient_funds", reason)
}

func TestChargeReasonFollowsInjectedSource(t *testing.T) {
	p := NewProcessor(0.8)

	// First roll decides the decline, second picks the reason.
	for i, want := range failureReasons {
		p.rand = sequencedRand(0.95, float64(i)/float64(len(failureReasons)))
		ok, reason := p.Charge(100)
		assert.False(t, ok)
		assert.Equal(t, want, reason)
	}

	// A roll of 1.0 must still land on the last reason.
	p.rand = sequencedRand(0.95, 1.0)
	_, reason := p.Charge(100)
	assert.Equal(t, failureReasons[len(failureReasons)-1], reason)
}

func TestServicePublishesPaymentProcessed(t *testing.T) {
	pub := &stubPublisher{}
	proc := NewProcessor(1.0)
	proc.rand = func() float64 { return 0.5 }
	svc := NewService(proc, pub)

	ev := &events.OrderReservationConfirmed{
		Envelope:    events.NewEnvelope(events.TopicOrderReservationConfirmed, "corr-1"),
		OrderID:     "ORD-1",
		UserID:      "user-1",
		TotalAmount: 42.50,
	}
	require.NoError(t, svc.Handle(context.Background(), ev))

	require.Len(t, pub.published, 1)
	assert.Equal(t, events.TopicPaymentProcessed, pub.published[0].topic)
	assert.Equal(t, "ORD-1", pub.published[0].key)

	decoded, err := events.Decode(pub.published[0].value)
	require.NoError(t, err)
	paid := decoded.(*events.PaymentProcessed)
	assert.Equal(t, "ORD-1", paid.OrderID)
	assert.Equal(t, 42.50, paid.Amount)
	assert.Equal(t, "corr-1", paid.CorrelationID)
	assert.NotEmpty(t, paid.PaymentID)
}

func TestServicePublishesPaymentFailed(t *testing.T) {
	pub := &stubPublisher{}
	proc := NewProcessor(0.0)
	proc.rand = func() float64 { return 0.5 }
	svc := NewService(proc, pub)

	ev := &events.OrderReservationConfirmed{
		Envelope: events.NewEnvelope(events.TopicOrderReservationConfirmed, "corr-1"),
		OrderID:  "ORD-1",
		UserID:   "user-1",
	}
	require.NoError(t, svc.Handle(context.Background(), ev))

	require.Len(t, pub.published, 1)
	assert.Equal(t, events.TopicPaymentFailed, pub.published[0].topic)

	decoded, err := events.Decode(pub.published[0].value)
	require.NoError(t, err)
	failed := decoded.(*events.PaymentFailed)
	assert.Equal(t, "ORD-1", failed.OrderID)
	assert.Contains(t, failureReasons, failed.Reason)
}

func TestServiceIgnoresOtherEvents(t *testing.T) {
	pub := &stubPublisher{}
	svc := NewService(NewProcessor(1.0), pub)

	other := &events.OrderConfirmed{Envelope: events.NewEnvelope(events.TopicOrderConfirmed, ""), OrderID: "ORD-1"}
	require.NoError(t, svc.Handle(context.Background(), other))
	assert.Empty(t, pub.published)
}
