package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownProduct    = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVersionConflict   = errors.New("stock version conflict")
)

// Product carries an optimistic-lock version: every successful stock
// mutation increments it, and a write only lands if it observed the
// current value. That check is the sole oversell guard; no row locks
// are held across the read-then-write.
type Product struct {
	ProductID string    `db:"product_id"`
	Name      string    `db:"name"`
	Price     float64   `db:"price"`
	Stock     int       `db:"stock"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func NewProduct(name string, price float64, stock int) *Product {
	now := time.Now().UTC()
	return &Product{
		ProductID: fmt.Sprintf("PROD-%s", strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])),
		Name:      name,
		Price:     price,
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StockReservation is the compensating record: one row per successful
// reservation, consumed exactly once on release.
type StockReservation struct {
	OrderID   string    `db:"order_id"`
	ProductID string    `db:"product_id"`
	Quantity  int       `db:"quantity"`
	CreatedAt time.Time `db:"created_at"`
}
