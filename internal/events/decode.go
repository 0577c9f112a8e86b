package events

import (
	"encoding/json"
	"fmt"
)

// Decode parses a raw bus message into its typed variant. The envelope
// is decoded once here; handlers never look at event_type strings.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.EventID == "" {
		return nil, fmt.Errorf("envelope is missing event_id")
	}

	var ev Event
	switch env.EventType {
	case TopicCartCheckoutInitiated:
		ev = &CartCheckoutInitiated{}
	case TopicOrderCreated:
		ev = &OrderCreated{}
	case TopicOrderReservationConfirmed:
		ev = &OrderReservationConfirmed{}
	case TopicOrderConfirmed:
		ev = &OrderConfirmed{}
	case TopicOrderCancelled:
		ev = &OrderCancelled{}
	case TopicOrderFulfilled:
		ev = &OrderFulfilled{}
	case TopicInventoryReserved:
		ev = &InventoryReserved{}
	case TopicInventoryLow:
		ev = &InventoryLow{}
	case TopicInventoryDepleted:
		ev = &InventoryDepleted{}
	case TopicPaymentProcessed:
		ev = &PaymentProcessed{}
	case TopicPaymentFailed:
		ev = &PaymentFailed{}
	case TopicDLQ:
		ev = &DeadLetter{}
	default:
		return &Unknown{Envelope: env, Raw: raw}, nil
	}

	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.EventType, err)
	}
	return ev, nil
}

// Encode marshals a typed event for publication.
func Encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Meta().EventType, err)
	}
	return b, nil
}
