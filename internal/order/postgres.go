package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/k-code-yt/kafka-order-saga/internal/dbpostgres"
	"github.com/k-code-yt/kafka-order-saga/internal/events"
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

type orderRow struct {
	OrderID     string    `db:"order_id"`
	UserID      string    `db:"user_id"`
	Status      string    `db:"status"`
	Items       []byte    `db:"items"`
	TotalAmount float64   `db:"total_amount"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *orderRow) toDomain() (*Order, error) {
	items := []events.OrderItem{}
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to decode order items: %w", err)
		}
	}
	return &Order{
		OrderID:     r.OrderID,
		UserID:      r.UserID,
		Status:      Status(r.Status),
		Items:       items,
		TotalAmount: r.TotalAmount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (t *postgresTx) InsertOrder(o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO orders (order_id, user_id, status, items, total_amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.OrderID, o.UserID, o.Status, items, o.TotalAmount, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *postgresTx) GetOrder(orderID string) (*Order, error) {
	row := &orderRow{}
	err := t.tx.GetContext(t.ctx, row,
		`SELECT order_id, user_id, status, items, total_amount, created_at, updated_at
		 FROM orders WHERE order_id = $1`, orderID)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownOrder
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (t *postgresTx) UpdateStatus(orderID string, from, to Status) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE order_id = $3 AND status = $4`,
		to, time.Now().UTC(), orderID, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStatusMismatch
	}
	return nil
}

func (t *postgresTx) ListByStatusBefore(status Status, cutoff time.Time, limit int) ([]*Order, error) {
	rows := []*orderRow{}
	err := t.tx.SelectContext(t.ctx, &rows,
		`SELECT order_id, user_id, status, items, total_amount, created_at, updated_at
		 FROM orders WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC LIMIT $3`,
		status, cutoff, limit)
	if err != nil {
		return nil, err
	}
	orders := make([]*Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
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
