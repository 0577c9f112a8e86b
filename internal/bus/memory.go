package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus used by the demo binary and tests. It
// keeps Kafka's visible semantics: per-key publish order, one delivery
// per consumer group, and nothing stopping a caller from publishing the
// same message twice.
type MemoryBus struct {
	mu      sync.Mutex
	subs    []*memorySub
	offsets map[string]int64
}

type memorySub struct {
	groupID string
	topics  map[string]struct{}
	ch      chan Delivery
	done    <-chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		offsets: make(map[string]int64),
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	offset := b.offsets[topic]
	b.offsets[topic] = offset + 1

	seen := map[string]struct{}{}
	var targets []*memorySub
	for _, s := range b.subs {
		if _, ok := s.topics[topic]; !ok {
			continue
		}
		// one delivery per consumer group
		if _, dup := seen[s.groupID]; dup {
			continue
		}
		seen[s.groupID] = struct{}{}
		targets = append(targets, s)
	}
	b.mu.Unlock()

	d := Delivery{
		Topic:  topic,
		Offset: offset,
		Key:    []byte(key),
		Value:  append([]byte(nil), value...),
	}
	for _, s := range targets {
		select {
		case s.ch <- d:
		case <-s.done:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics []string, groupID string) (<-chan Delivery, error) {
	sub := &memorySub{
		groupID: groupID,
		topics:  make(map[string]struct{}, len(topics)),
		ch:      make(chan Delivery, 1024),
		done:    ctx.Done(),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}
