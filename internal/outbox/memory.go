package outbox

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// MemoryStore is the in-process outbox used by the demo binary and
// tests. Records survive relay restarts for as long as the store lives,
// which is what the crash-recovery tests exercise.
type MemoryStore struct {
	mu   sync.Mutex
	recs []*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *MemoryStore) Drain(_ context.Context, publish func(rec *Record) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var published int
	for _, rec := range s.recs {
		if rec.Published {
			continue
		}
		cp := *rec
		if err := publish(&cp); err != nil {
			continue
		}
		rec.Published = true
		rec.PublishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		published++
	}
	return published, nil
}

// Unpublished reports the records still awaiting publication.
func (s *MemoryStore) Unpublished() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.recs {
		if !rec.Published {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// All returns a snapshot of every record, in append order.
func (s *MemoryStore) All() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}
