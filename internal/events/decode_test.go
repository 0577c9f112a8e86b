package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTypedEvent(t *testing.T) {
	src := &OrderCreated{
		Envelope: NewEnvelope(TopicOrderCreated, "corr-1"),
		OrderID:  "ORD-AAA",
		UserID:   "user-1",
		Items: []OrderItem{
			{ProductID: "PROD-X", Quantity: 2, Price: 9.99},
		},
		TotalAmount: 19.98,
	}
	raw, err := Encode(src)
	require.NoError(t, err)

	ev, err := Decode(raw)
	require.NoError(t, err)

	created, ok := ev.(*OrderCreated)
	require.True(t, ok, "expected *OrderCreated, got %T", ev)
	assert.Equal(t, src.EventID, created.EventID)
	assert.Equal(t, "corr-1", created.CorrelationID)
	assert.Equal(t, "ORD-AAA", created.OrderID)
	require.Len(t, created.Items, 1)
	assert.Equal(t, 2, created.Items[0].Quantity)
}

func TestDecodeEveryVariant(t *testing.T) {
	for _, ev := range []Event{
		&CartCheckoutInitiated{Envelope: NewEnvelope(TopicCartCheckoutInitiated, "")},
		&OrderCreated{Envelope: NewEnvelope(TopicOrderCreated, "")},
		&OrderReservationConfirmed{Envelope: NewEnvelope(TopicOrderReservationConfirmed, "")},
		&OrderConfirmed{Envelope: NewEnvelope(TopicOrderConfirmed, "")},
		&OrderCancelled{Envelope: NewEnvelope(TopicOrderCancelled, "")},
		&OrderFulfilled{Envelope: NewEnvelope(TopicOrderFulfilled, "")},
		&InventoryReserved{Envelope: NewEnvelope(TopicInventoryReserved, "")},
		&InventoryLow{Envelope: NewEnvelope(TopicInventoryLow, "")},
		&InventoryDepleted{Envelope: NewEnvelope(TopicInventoryDepleted, "")},
		&PaymentProcessed{Envelope: NewEnvelope(TopicPaymentProcessed, "")},
		&PaymentFailed{Envelope: NewEnvelope(TopicPaymentFailed, "")},
		&DeadLetter{Envelope: NewEnvelope(TopicDLQ, "")},
	} {
		raw, err := Encode(ev)
		require.NoError(t, err)

		decoded, err := Decode(raw)
		require.NoError(t, err, ev.Meta().EventType)
		assert.IsType(t, ev, decoded, ev.Meta().EventType)
		assert.Equal(t, ev.Meta().EventID, decoded.Meta().EventID)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	raw := []byte(`{"event_id":"e-1","event_type":"order.telepathy","timestamp":"2025-01-01T00:00:00Z"}`)

	ev, err := Decode(raw)
	require.NoError(t, err)

	unknown, ok := ev.(*Unknown)
	require.True(t, ok, "expected *Unknown, got %T", ev)
	assert.Equal(t, "order.telepathy", unknown.EventType)
	assert.Equal(t, raw, unknown.Raw)
}

func TestDecodeMissingEventID(t *testing.T) {
	_, err := Decode([]byte(`{"event_type":"order.created"}`))
	assert.Error(t, err)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}
