package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

// MemoryStore backs the demo binary and tests. Stock mutations apply
// immediately under a short per-operation lock (mirroring how the
// conditional UPDATE resolves per statement in Postgres), and each
// transaction keeps an undo journal that reverts its stock writes if
// the closure errors. Outbox appends and processed marks only land on
// commit.
type MemoryStore struct {
	mu           sync.Mutex
	products     map[string]*Product
	reservations []*StockReservation
	outbox       *outbox.MemoryStore
	processed    map[string]string
}

func NewMemoryStore(ob *outbox.MemoryStore) *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]*Product),
		outbox:    ob,
		processed: make(map[string]string),
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		s:            s,
		stagedProced: make(map[string]string),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, et := range tx.stagedProced {
		s.processed[id] = et
	}
	for _, rec := range tx.stagedEvents {
		s.outbox.Append(ctx, rec)
	}
	return nil
}

// GetProduct reads committed state outside any transaction.
func (s *MemoryStore) GetProduct(productID string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, ErrUnknownProduct
	}
	cp := *p
	return &cp, nil
}

// Reservations returns a snapshot of the open reservations.
func (s *MemoryStore) Reservations() []*StockReservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StockReservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

type memoryTx struct {
	s            *MemoryStore
	undo         []func()
	stagedEvents []*outbox.Record
	stagedProced map[string]string
}

func (t *memoryTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memoryTx) InsertProduct(p *Product) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cp := *p
	t.s.products[p.ProductID] = &cp
	id := p.ProductID
	t.undo = append(t.undo, func() { delete(t.s.products, id) })
	return nil
}

func (t *memoryTx) GetProduct(productID string) (*Product, error) {
	return t.s.GetProduct(productID)
}

func (t *memoryTx) CompareAndSetStock(productID string, newStock, observedVersion int) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[productID]
	if !ok {
		return false, ErrUnknownProduct
	}
	if p.Version != observedVersion {
		return false, nil
	}
	prevStock, prevVersion := p.Stock, p.Version
	p.Stock = newStock
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.undo = append(t.undo, func() {
		if cur, ok := t.s.products[productID]; ok {
			cur.Stock = prevStock
			cur.Version = prevVersion
		}
	})
	return true, nil
}

func (t *memoryTx) AddStock(productID string, qty int) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[productID]
	if !ok {
		return ErrUnknownProduct
	}
	p.Stock += qty
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.undo = append(t.undo, func() {
		if cur, ok := t.s.products[productID]; ok {
			cur.Stock -= qty
			cur.Version--
		}
	})
	return nil
}

func (t *memoryTx) InsertReservation(r *StockReservation) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cp := *r
	t.s.reservations = append(t.s.reservations, &cp)
	t.undo = append(t.undo, func() {
		for i, held := range t.s.reservations {
			if held == &cp {
				t.s.reservations = append(t.s.reservations[:i], t.s.reservations[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (t *memoryTx) TakeReservations(orderID string) ([]*StockReservation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var taken []*StockReservation
	var kept []*StockReservation
	for _, r := range t.s.reservations {
		if r.OrderID == orderID {
			taken = append(taken, r)
			continue
		}
		kept = append(kept, r)
	}
	t.s.reservations = kept
	t.undo = append(t.undo, func() {
		t.s.reservations = append(t.s.reservations, taken...)
	})

	out := make([]*StockReservation, 0, len(taken))
	for _, r := range taken {
		cp := *r
		out = append(out, &cp)
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
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.processed[eventID]
	return ok, nil
}

func (t *memoryTx) MarkProcessed(eventID, eventType string) error {
	t.stagedProced[eventID] = eventType
	return nil
}
