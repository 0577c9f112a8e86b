package payment

import (
	"context"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/bus"
	"github.com/k-code-yt/kafka-order-saga/internal/events"
)

// Processor simulates the external payment collaborator: an 80%
// success rate with a random decline reason on failure. Used by the
// demo binary and end-to-end tests; production talks to a real PSP.
type Processor struct {
	SuccessRate float64
	rand        func() float64
}

var failureReasons = []string{
	"insufficient_funds",
	"card_declined",
	"expired_card",
}

func NewProcessor(successRate float64) *Processor {
	return &Processor{
		SuccessRate: successRate,
		rand:        rand.Float64,
	}
}

// Charge returns (true, "") on success or (false, reason) on decline.
// Both rolls come from the injected source so tests control the reason
// as well as the outcome.
func (p *Processor) Charge(amount float64) (bool, string) {
	if p.rand() > p.SuccessRate {
		idx := int(p.rand() * float64(len(failureReasons)))
		if idx >= len(failureReasons) {
			idx = len(failureReasons) - 1
		}
		return false, failureReasons[idx]
	}
	return true, ""
}

// Service reacts to order.reservation_confirmed by charging and
// publishing the outcome event. As an external collaborator it
// publishes straight to the bus rather than through an outbox.
type Service struct {
	processor *Processor
	pub       bus.Publisher
	log       *logrus.Entry
}

func NewService(processor *Processor, pub bus.Publisher) *Service {
	return &Service{
		processor: processor,
		pub:       pub,
		log:       logrus.WithField("component", "payment-service"),
	}
}

func (s *Service) Topics() []string {
	return []string{events.TopicOrderReservationConfirmed}
}

func (s *Service) Handle(ctx context.Context, ev events.Event) error {
	e, ok := ev.(*events.OrderReservationConfirmed)
	if !ok {
		s.log.WithField("event_type", ev.Meta().EventType).Warn("no handler for event, ignoring")
		return nil
	}

	ok, reason := s.processor.Charge(e.TotalAmount)
	var outcome events.Event
	var topic string
	if ok {
		topic = events.TopicPaymentProcessed
		outcome = &events.PaymentProcessed{
			Envelope:  events.NewEnvelope(events.TopicPaymentProcessed, e.CorrelationID),
			PaymentID: uuid.New().String(),
			OrderID:   e.OrderID,
			UserID:    e.UserID,
			Amount:    e.TotalAmount,
			Currency:  "USD",
			Method:    "credit_card",
		}
		s.log.WithFields(logrus.Fields{
			"order_id": e.OrderID,
			"amount":   e.TotalAmount,
		}).Info("payment processed")
	} else {
		topic = events.TopicPaymentFailed
		outcome = &events.PaymentFailed{
			Envelope: events.NewEnvelope(events.TopicPaymentFailed, e.CorrelationID),
			OrderID:  e.OrderID,
			UserID:   e.UserID,
			Reason:   reason,
		}
		s.log.WithFields(logrus.Fields{
			"order_id": e.OrderID,
			"reason":   reason,
		}).Warn("payment failed")
	}

	b, err := events.Encode(outcome)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, topic, e.OrderID, b)
}
