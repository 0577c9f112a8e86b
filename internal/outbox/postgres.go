package outbox

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/k-code-yt/kafka-order-saga/internal/dbpostgres"
)

// PostgresStore reads and marks outbox rows. Appending happens through
// AppendTx from inside the domain stores' transactions.
type PostgresStore struct {
	db        *sqlx.DB
	tableName string
	batchSize int
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:        db,
		tableName: "outbox_events",
		batchSize: 100,
	}
}

// AppendTx stages a record inside the caller's transaction.
func AppendTx(ctx context.Context, tx *sqlx.Tx, rec *Record) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload, published, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5)`,
		rec.ID, rec.AggregateID, rec.EventType, rec.Payload, rec.CreatedAt)
	return err
}

// Drain claims unpublished rows with SKIP LOCKED so concurrent relay
// instances never publish the same row twice within one poll. Rows are
// ordered by creation time, which preserves per-aggregate order.
func (s *PostgresStore) Drain(ctx context.Context, publish func(rec *Record) error) (int, error) {
	var published int
	err := dbpostgres.TxClosure(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		recs := []*Record{}
		err := tx.SelectContext(ctx, &recs,
			`SELECT id, aggregate_id, event_type, payload, published, created_at, published_at
			 FROM outbox_events
			 WHERE published = FALSE
			 ORDER BY created_at ASC
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED`, s.batchSize)
		if err != nil {
			return err
		}

		var done []string
		for _, rec := range recs {
			if err := publish(rec); err != nil {
				// leave unpublished for the next poll
				continue
			}
			done = append(done, rec.ID)
		}

		if len(done) == 0 {
			return nil
		}
		q, args, err := sqlx.In(
			"UPDATE outbox_events SET published = TRUE, published_at = ? WHERE id IN (?)",
			time.Now().UTC(), done)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return err
		}
		published = len(done)
		return nil
	})
	return published, err
}
