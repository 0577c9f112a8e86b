package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPublish struct {
	topic string
	key   string
	value []byte
}

// stubPublisher records publishes and can be told to fail per topic.
type stubPublisher struct {
	mu        sync.Mutex
	published []capturedPublish
	failTopic string
}

func (p *stubPublisher) Publish(_ context.Context, topic string, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == p.failTopic {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, capturedPublish{topic: topic, key: key, value: value})
	return nil
}

func (p *stubPublisher) all() []capturedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedPublish(nil), p.published...)
}

func TestDrainPublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &stubPublisher{}
	relay := NewRelay(store, pub, DefaultPollInterval)

	store.Append(ctx, NewRecord("ORD-1", "order.created", []byte(`{"a":1}`)))
	store.Append(ctx, NewRecord("ORD-2", "order.created", []byte(`{"a":2}`)))

	n, err := relay.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, store.Unpublished())

	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, "order.created", got[0].topic)
	assert.Equal(t, "ORD-1", got[0].key)
	assert.Equal(t, []byte(`{"a":1}`), got[0].value)

	for _, rec := range store.All() {
		assert.True(t, rec.Published)
		assert.True(t, rec.PublishedAt.Valid)
	}
}

func TestFailedPublishStaysUnpublished(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &stubPublisher{failTopic: "order.cancelled"}
	relay := NewRelay(store, pub, DefaultPollInterval)

	store.Append(ctx, NewRecord("ORD-1", "order.created", []byte(`{}`)))
	store.Append(ctx, NewRecord("ORD-1", "order.cancelled", []byte(`{}`)))

	n, err := relay.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending := store.Unpublished()
	require.Len(t, pending, 1)
	assert.Equal(t, "order.cancelled", pending[0].EventType)

	// Broker recovers: the next poll picks up where the last one failed.
	pub.mu.Lock()
	pub.failTopic = ""
	pub.mu.Unlock()

	n, err = relay.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, store.Unpublished())
}

func TestDrainKeepsAppendOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &stubPublisher{}
	relay := NewRelay(store, pub, DefaultPollInterval)

	types := []string{"order.created", "order.reservation_confirmed", "order.confirmed", "order.fulfilled"}
	for _, et := range types {
		store.Append(ctx, NewRecord("ORD-1", et, []byte(`{}`)))
	}

	_, err := relay.DrainOnce(ctx)
	require.NoError(t, err)

	got := pub.all()
	require.Len(t, got, len(types))
	for i, et := range types {
		assert.Equal(t, et, got[i].topic)
	}
}

func TestDrainIsNoopWhenEmpty(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(NewMemoryStore(), &stubPublisher{}, DefaultPollInterval)

	n, err := relay.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
