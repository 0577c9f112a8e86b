package events

import "time"

// Topic names. Each event type is published to the topic of the same
// name, keyed by its aggregate id (order_id or product_id).
const (
	TopicCartCheckoutInitiated      = "cart.checkout_initiated"
	TopicOrderCreated               = "order.created"
	TopicOrderReservationConfirmed  = "order.reservation_confirmed"
	TopicOrderConfirmed             = "order.confirmed"
	TopicOrderCancelled             = "order.cancelled"
	TopicOrderFulfilled             = "order.fulfilled"
	TopicInventoryReserved          = "inventory.reserved"
	TopicInventoryLow               = "inventory.low"
	TopicInventoryDepleted          = "inventory.depleted"
	TopicPaymentProcessed           = "payment.processed"
	TopicPaymentFailed              = "payment.failed"
	TopicDLQ                        = "dlq.events"
)

// CancellationSource tells the inventory ledger whether a reservation
// exists for a cancelled order and must be released.
type CancellationSource string

const (
	CancellationSource_PaymentFailed     CancellationSource = "payment_failed"
	CancellationSource_InventoryDepleted CancellationSource = "inventory_depleted"
)

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type CartCheckoutInitiated struct {
	Envelope
	UserID      string      `json:"user_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
}

type OrderCreated struct {
	Envelope
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
}

type OrderReservationConfirmed struct {
	Envelope
	OrderID     string  `json:"order_id"`
	UserID      string  `json:"user_id"`
	TotalAmount float64 `json:"total_amount"`
}

type OrderConfirmed struct {
	Envelope
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type OrderCancelled struct {
	Envelope
	OrderID            string             `json:"order_id"`
	UserID             string             `json:"user_id"`
	Reason             string             `json:"reason"`
	CancellationSource CancellationSource `json:"cancellation_source"`
}

type OrderFulfilled struct {
	Envelope
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedAt      time.Time `json:"shipped_at"`
}

type InventoryReserved struct {
	Envelope
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type InventoryLow struct {
	Envelope
	ProductID    string `json:"product_id"`
	CurrentStock int    `json:"current_stock"`
	Threshold    int    `json:"threshold"`
}

type InventoryDepleted struct {
	Envelope
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
}

type PaymentProcessed struct {
	Envelope
	PaymentID string  `json:"payment_id"`
	OrderID   string  `json:"order_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Method    string  `json:"method"`
}

type PaymentFailed struct {
	Envelope
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

// DeadLetter wraps an event that exhausted its retry budget (or could
// not be decoded at all). Payload preserves the original message bytes.
type DeadLetter struct {
	Envelope
	OriginalTopic     string `json:"original_topic"`
	OriginalEventType string `json:"original_event_type"`
	ErrorReason       string `json:"error_reason"`
	RetryCount        int    `json:"retry_count"`
	Payload           string `json:"payload"`
}

// Unknown is the decoded form of an envelope whose event_type has no
// registered variant. Raw keeps the full message for inspection.
type Unknown struct {
	Envelope
	Raw []byte `json:"-"`
}
