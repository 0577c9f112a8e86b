package order

import (
	"context"
	"sync"
	"time"

	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

// MemoryStore backs the demo binary and tests. One lock serializes
// whole transactions; writes are staged and applied only when the
// closure returns nil, so a failing handler leaves no partial state.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]*Order
	outbox    *outbox.MemoryStore
	processed map[string]string
}

func NewMemoryStore(ob *outbox.MemoryStore) *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*Order),
		outbox:    ob,
		processed: make(map[string]string),
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		s:            s,
		ctx:          ctx,
		staged:       make(map[string]*Order),
		stagedProced: make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, o := range tx.staged {
		cp := *o
		s.orders[id] = &cp
	}
	for id, et := range tx.stagedProced {
		s.processed[id] = et
	}
	for _, rec := range tx.stagedEvents {
		s.outbox.Append(ctx, rec)
	}
	return nil
}

// Orders returns a snapshot of all committed orders.
func (s *MemoryStore) Orders() []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// GetOrder reads committed state outside any transaction.
func (s *MemoryStore) GetOrder(orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	cp := *o
	return &cp, nil
}

type memoryTx struct {
	s            *MemoryStore
	ctx          context.Context
	staged       map[string]*Order
	stagedEvents []*outbox.Record
	stagedProced map[string]string
}

func (t *memoryTx) get(orderID string) (*Order, bool) {
	if o, ok := t.staged[orderID]; ok {
		return o, true
	}
	if o, ok := t.s.orders[orderID]; ok {
		cp := *o
		return &cp, true
	}
	return nil, false
}

func (t *memoryTx) InsertOrder(o *Order) error {
	cp := *o
	t.staged[o.OrderID] = &cp
	return nil
}

func (t *memoryTx) GetOrder(orderID string) (*Order, error) {
	o, ok := t.get(orderID)
	if !ok {
		return nil, ErrUnknownOrder
	}
	return o, nil
}

func (t *memoryTx) UpdateStatus(orderID string, from, to Status) error {
	o, ok := t.get(orderID)
	if !ok {
		return ErrUnknownOrder
	}
	if o.Status != from {
		return ErrStatusMismatch
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	t.staged[orderID] = o
	return nil
}

func (t *memoryTx) ListByStatusBefore(status Status, cutoff time.Time, limit int) ([]*Order, error) {
	var out []*Order
	for _, o := range t.s.orders {
		if o.Status != status || !o.UpdatedAt.Before(cutoff) {
			continue
		}
		cp := *o
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) AppendEvent(rec *outbox.Record) error {
	cp := *rec
	t.stagedEvents = append(t.stagedEvents, &cp)
	return nil
}

func (t *memoryTx) IsProcessed(eventID string) (bool, error) {
	if _, ok := t.stagedProced[eventID]; ok {
		return true, nil
	}
	_, ok := t.s.processed[eventID]
	return ok, nil
}

func (t *memoryTx) MarkProcessed(eventID, eventType string) error {
	t.stagedProced[eventID] = eventType
	return nil
}
