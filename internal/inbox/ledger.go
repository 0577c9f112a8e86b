package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Ledger is the durable idempotency record: an event_id present here
// has already produced its side effects. Marking is idempotent so the
// consumer wrapper and a handler transaction can both mark safely.
type Ledger interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

type PostgresLedger struct {
	db        *sqlx.DB
	tableName string
}

func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{
		db:        db,
		tableName: "processed_events",
	}
}

func (l *PostgresLedger) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC())
	return err
}

// MemoryLedger backs the demo binary and tests.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]string)}
}

func (l *MemoryLedger) IsProcessed(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[eventID]
	return ok, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, eventID, eventType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = eventType
	return nil
}
