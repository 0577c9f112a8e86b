package outbox

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/metrics"
)

const DefaultPollInterval = 2 * time.Second

// Relay drains unpublished outbox rows to the bus on a fixed schedule.
// It runs independently of the transactions that append rows: a crash
// between commit and publish only delays the event until the next poll.
// Duplicate publication after a crash between publish and mark is
// absorbed by the downstream idempotency ledger.
type Relay struct {
	store    Store
	pub      bus.Publisher
	interval time.Duration
	log      *logrus.Entry
}

func NewRelay(store Store, pub bus.Publisher, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Relay{
		store:    store,
		pub:      pub,
		interval: interval,
		log:      logrus.WithField("component", "outbox-relay"),
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval).Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.DrainOnce(ctx); err != nil {
				r.log.Errorf("outbox drain failed: %v", err)
			}
		}
	}
}

// DrainOnce publishes the current batch of unpublished records. The
// event_type doubles as the topic name; the aggregate id is the
// partition key, so per-aggregate order survives the hop to the bus.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	n, err := r.store.Drain(ctx, func(rec *Record) error {
		if pubErr := r.pub.Publish(ctx, rec.EventType, rec.AggregateID, rec.Payload); pubErr != nil {
			metrics.OutboxErrors.Inc()
			r.log.WithFields(logrus.Fields{
				"record_id":    rec.ID,
				"aggregate_id": rec.AggregateID,
				"event_type":   rec.EventType,
			}).Errorf("publish failed, will retry next poll: %v", pubErr)
			return pubErr
		}
		metrics.OutboxPublished.Inc()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.WithField("count", n).Info("published outbox records")
	}
	return n, nil
}
