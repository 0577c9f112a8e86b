package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/k-code-yt/kafka-order-saga/internal/events"
)

type Status string

const (
	Status_Pending              Status = "PENDING"
	Status_ReservationConfirmed Status = "RESERVATION_CONFIRMED"
	Status_Paid                 Status = "PAID"
	Status_Fulfilled            Status = "FULFILLED"
	Status_Cancelled            Status = "CANCELLED"
)

// transitions is the full lifecycle graph. FULFILLED and CANCELLED are
// terminal; nothing skips an intermediate state.
var transitions = map[Status][]Status{
	Status_Pending:              {Status_ReservationConfirmed, Status_Cancelled},
	Status_ReservationConfirmed: {Status_Paid, Status_Cancelled},
	Status_Paid:                 {Status_Fulfilled},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrStatusMismatch = errors.New("order status does not match expected")
	ErrUnknownOrder   = errors.New("order not found")
)

type Order struct {
	OrderID     string             `db:"order_id"`
	UserID      string             `db:"user_id"`
	Status      Status             `db:"status"`
	Items       []events.OrderItem `db:"-"`
	TotalAmount float64            `db:"total_amount"`
	CreatedAt   time.Time          `db:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at"`
}

func New(userID string, items []events.OrderItem, totalAmount float64) *Order {
	now := time.Now().UTC()
	return &Order{
		OrderID:     newOrderID(),
		UserID:      userID,
		Status:      Status_Pending,
		Items:       items,
		TotalAmount: totalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newOrderID() string {
	return fmt.Sprintf("ORD-%s", strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12]))
}
