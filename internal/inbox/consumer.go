package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/events"
	"github.com/k-code-yt/kafka-order-saga/internal/metrics"
)

// Handler processes one decoded event. A nil return means the event's
// side effects are durably committed and it may be marked processed.
type Handler func(ctx context.Context, ev events.Event) error

const maxAttempts = 3

var defaultRetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// Consumer wraps raw bus deliveries with idempotency, bounded retries,
// and dead-letter routing. Retrying blocks only the current message;
// the next message on the partition is not polled until this one either
// succeeds or exhausts its budget.
type Consumer struct {
	bus         bus.Bus
	ledger      Ledger
	retryDelays []time.Duration
	sleep       func(time.Duration)
	log         *logrus.Entry
}

func NewConsumer(b bus.Bus, ledger Ledger, serviceName string) *Consumer {
	return &Consumer{
		bus:         b,
		ledger:      ledger,
		retryDelays: defaultRetryDelays,
		sleep:       time.Sleep,
		log:         logrus.WithField("service", serviceName),
	}
}

// Run subscribes to topics under groupID and dispatches every delivery
// to handler until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, topics []string, groupID string, handler Handler) error {
	deliveries, err := c.bus.Subscribe(ctx, topics, groupID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d bus.Delivery, handler Handler) {
	metrics.EventsConsumed.WithLabelValues(d.Topic).Inc()

	ev, err := events.Decode(d.Value)
	if err != nil {
		// A parse failure is deterministic: no retries, straight to the
		// dead-letter topic so the message is preserved for inspection.
		c.log.WithFields(logrus.Fields{
			"topic":  d.Topic,
			"offset": d.Offset,
		}).Errorf("failed to decode message: %v", err)
		if dlqErr := c.publishDeadLetter(ctx, d, "", "", err.Error(), 0); dlqErr != nil {
			c.log.Errorf("failed to dead-letter malformed message: %v", dlqErr)
		}
		return
	}

	env := ev.Meta()
	log := c.log.WithFields(logrus.Fields{
		"topic":          d.Topic,
		"event_id":       env.EventID,
		"event_type":     env.EventType,
		"correlation_id": env.CorrelationID,
	})

	processed, err := c.ledger.IsProcessed(ctx, env.EventID)
	if err != nil {
		log.Errorf("idempotency check failed: %v", err)
		// Fall through: the handler's own transactional mark still
		// protects against duplicate side effects.
	}
	if processed {
		metrics.EventsDuplicate.WithLabelValues(d.Topic).Inc()
		log.Info("event already processed, skipping")
		return
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = handler(ctx, ev)
		if err == nil {
			if mErr := c.ledger.MarkProcessed(ctx, env.EventID, env.EventType); mErr != nil {
				log.Errorf("failed to mark event processed: %v", mErr)
			}
			log.Info("event processed")
			return
		}

		if attempt < maxAttempts-1 {
			metrics.HandlerRetries.WithLabelValues(d.Topic).Inc()
			wait := c.retryDelays[attempt]
			log.Warnf("handler failed (attempt %d/%d): %v, retrying in %s",
				attempt+1, maxAttempts, err, wait)
			c.sleep(wait)
		}
	}

	// Retry budget exhausted: preserve the message on the DLQ, then mark
	// it processed so a poison message cannot block the partition. The
	// mark only happens once the DLQ copy is durable; if the DLQ publish
	// fails the event stays unprocessed and redelivery retries the hop.
	log.Errorf("handler failed after %d attempts: %v, sending to DLQ", maxAttempts, err)
	if dlqErr := c.publishDeadLetter(ctx, d, env.EventType, env.CorrelationID, err.Error(), maxAttempts); dlqErr != nil {
		log.Errorf("failed to dead-letter event, leaving unprocessed for redelivery: %v", dlqErr)
		return
	}
	if mErr := c.ledger.MarkProcessed(ctx, env.EventID, env.EventType); mErr != nil {
		log.Errorf("failed to mark dead-lettered event processed: %v", mErr)
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, d bus.Delivery, eventType, correlationID, reason string, retries int) error {
	dl := &events.DeadLetter{
		Envelope:          events.NewEnvelope(events.TopicDLQ, correlationID),
		OriginalTopic:     d.Topic,
		OriginalEventType: eventType,
		ErrorReason:       reason,
		RetryCount:        retries,
		Payload:           string(d.Value),
	}

	b, err := events.Encode(dl)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter event: %w", err)
	}
	if err := c.bus.Publish(ctx, events.TopicDLQ, string(d.Key), b); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	metrics.DLQPublished.WithLabelValues(d.Topic, reason).Inc()
	return nil
}
