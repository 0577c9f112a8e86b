package inventory

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/k-code-yt/kafka-order-saga/internal/dbpostgres"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return dbpostgres.TxClosure(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(&postgresTx{ctx: ctx, tx: tx})
	})
}

type postgresTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *postgresTx) InsertProduct(p *Product) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO products (product_id, name, price, stock, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ProductID, p.Name, p.Price, p.Stock, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *postgresTx) GetProduct(productID string) (*Product, error) {
	p := &Product{}
	err := t.tx.GetContext(t.ctx, p,
		`SELECT product_id, name, price, stock, version, created_at, updated_at
		 FROM products WHERE product_id = $1`, productID)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownProduct
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (t *postgresTx) CompareAndSetStock(productID string, newStock, observedVersion int) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE products SET stock = $1, version = version + 1, updated_at = $2
		 WHERE product_id = $3 AND version = $4`,
		newStock, time.Now().UTC(), productID, observedVersion)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (t *postgresTx) AddStock(productID string, qty int) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE products SET stock = stock + $1, version = version + 1, updated_at = $2
		 WHERE product_id = $3`,
		qty, time.Now().UTC(), productID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUnknownProduct
	}
	return nil
}

func (t *postgresTx) InsertReservation(r *StockReservation) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO stock_reservations (order_id, product_id, quantity, created_at)
		 VALUES ($1, $2, $3, $4)`,
		r.OrderID, r.ProductID, r.Quantity, r.CreatedAt)
	return err
}

func (t *postgresTx) TakeReservations(orderID string) ([]*StockReservation, error) {
	recs := []*StockReservation{}
	err := t.tx.SelectContext(t.ctx, &recs,
		`DELETE FROM stock_reservations WHERE order_id = $1
		 RETURNING order_id, product_id, quantity, created_at`, orderID)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (t *postgresTx) AppendEvent(rec *outbox.Record) error {
	return outbox.AppendTx(t.ctx, t.tx, rec)
}

func (t *postgresTx) IsProcessed(eventID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(t.ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

func (t *postgresTx) MarkProcessed(eventID, eventType string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC())
	return err
}
