package bus

import "context"

// Delivery is one raw message pulled from the bus. Value is the JSON
// envelope; Key is the aggregate id the message was partitioned by.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

type Publisher interface {
	// Publish sends value to topic keyed by key and returns only after
	// the broker acknowledged the message.
	Publish(ctx context.Context, topic string, key string, value []byte) error
}

// Bus is the transport contract: at-least-once delivery, ordering only
// within a partition (per key), no ordering across topics.
type Bus interface {
	Publisher
	// Subscribe joins groupID on topics and returns a stream of
	// deliveries. The channel closes when ctx is done.
	Subscribe(ctx context.Context, topics []string, groupID string) (<-chan Delivery, error)
}
