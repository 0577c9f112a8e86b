package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/config"
)

// Bus adapts confluent-kafka-go to the bus.Bus contract. Messages are
// keyed by aggregate id, so per-aggregate ordering holds within a
// partition; delivery is at-least-once.
type Bus struct {
	cfg      *config.KafkaConfig
	producer *kafka.Producer
	log      *logrus.Entry
}

func NewBus(cfg *config.KafkaConfig, clientID string) (*Bus, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"client.id":         clientID,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &Bus{
		cfg:      cfg,
		producer: p,
		log:      logrus.WithField("component", "kafka-bus"),
	}, nil
}

// Publish produces one message and blocks until the broker
// acknowledged it. The outbox relay relies on that ack before marking
// a record published.
func (b *Bus) Publish(ctx context.Context, topic string, key string, value []byte) error {
	deliveryCH := make(chan kafka.Event, 1)
	err := b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, deliveryCH)
	if err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryCH:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery to %s failed: %w", topic, m.TopicPartition.Error)
		}
		b.log.WithFields(logrus.Fields{
			"topic":  topic,
			"PRTN":   m.TopicPartition.Partition,
			"OFFSET": m.TopicPartition.Offset,
		}).Debug("delivery success")
		return nil
	}
}

// Subscribe joins the consumer group and pumps messages into the
// returned channel until ctx is cancelled. Offsets auto-commit; the
// idempotency ledger absorbs redelivery after a crash.
func (b *Bus) Subscribe(ctx context.Context, topics []string, groupID string) (<-chan bus.Delivery, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.cfg.BootstrapServers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": true,
		"session.timeout.ms": b.cfg.SessionTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	if err := c.SubscribeTopics(topics, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan bus.Delivery)
	go func() {
		defer func() {
			c.Close()
			close(out)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := c.ReadMessage(time.Second)
			if err != nil {
				if kErr, ok := err.(kafka.Error); ok && kErr.IsTimeout() {
					continue
				}
				b.log.Errorf("consumer error: %v", err)
				continue
			}

			d := bus.Delivery{
				Topic:     *msg.TopicPartition.Topic,
				Partition: msg.TopicPartition.Partition,
				Offset:    int64(msg.TopicPartition.Offset),
				Key:       msg.Key,
				Value:     msg.Value,
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *Bus) Close() {
	b.producer.Flush(5000)
	b.producer.Close()
}
