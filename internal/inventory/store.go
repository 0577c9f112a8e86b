package inventory

import (
	"context"
	"time"

	"github.com/k-code-yt/kafka-order-saga/internal/dbpostgres"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

// Tx is one inventory-side transaction. Stock mutations apply
// statement-by-statement (the version check races are resolved per
// statement, not at commit), while the whole set rolls back together
// if the closure errors.
type Tx interface {
	InsertProduct(p *Product) error
	GetProduct(productID string) (*Product, error)
	// CompareAndSetStock writes newStock and bumps the version iff the
	// product's version still equals observedVersion. Returns false
	// when the guard fails (a concurrent writer won the race).
	CompareAndSetStock(productID string, newStock, observedVersion int) (bool, error)
	// AddStock returns qty units unconditionally and bumps the version.
	AddStock(productID string, qty int) error
	InsertReservation(r *StockReservation) error
	// TakeReservations removes and returns every reservation held for
	// orderID. A second call for the same order returns nothing.
	TakeReservations(orderID string) ([]*StockReservation, error)

	AppendEvent(rec *outbox.Record) error
	IsProcessed(eventID string) (bool, error)
	MarkProcessed(eventID, eventType string) error
}

type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// DefaultCatalog is the dev/demo product set. The ids are fixed so
// re-seeding stays idempotent across restarts.
func DefaultCatalog() []*Product {
	now := time.Now().UTC()
	mk := func(id, name string, price float64, stock int) *Product {
		return &Product{ProductID: id, Name: name, Price: price, Stock: stock, CreatedAt: now, UpdatedAt: now}
	}
	return []*Product{
		mk("PROD-LAPTOP", "Laptop", 1299.99, 50),
		mk("PROD-PHONE", "Smartphone", 899.99, 100),
		mk("PROD-HEADPHONES", "Headphones", 199.99, 200),
		mk("PROD-MONITOR", "Monitor", 449.99, 75),
		mk("PROD-KEYBOARD", "Mechanical Keyboard", 129.99, 150),
	}
}

// Seed inserts products, ignoring ones that already exist by id. Each
// product gets its own transaction so two instances seeding at once
// only race per row; the loser's duplicate-key error is tolerated.
func Seed(ctx context.Context, store Store, products []*Product) error {
	for _, p := range products {
		err := store.WithinTx(ctx, func(tx Tx) error {
			if _, err := tx.GetProduct(p.ProductID); err == nil {
				return nil
			}
			return tx.InsertProduct(p)
		})
		if err != nil && !dbpostgres.IsDuplicateKeyErr(err) {
			return err
		}
	}
	return nil
}
