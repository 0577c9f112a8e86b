package metrics

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_consumed_total",
			Help: "Events pulled from the bus, by topic",
		},
		[]string{"topic"},
	)

	EventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_duplicate_total",
			Help: "Events skipped because their event_id was already processed",
		},
		[]string{"topic"},
	)

	HandlerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_handler_retries_total",
			Help: "Handler retry attempts, by topic",
		},
		[]string{"topic"},
	)

	DLQPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_dlq_published_total",
			Help: "Events routed to the dead-letter topic",
		},
		[]string{"topic", "reason"},
	)

	OutboxPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_outbox_published_total",
			Help: "Outbox records successfully published and marked",
		},
	)

	OutboxErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_outbox_publish_errors_total",
			Help: "Outbox publish attempts that failed and will be retried",
		},
	)

	ReservationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_reservation_conflicts_total",
			Help: "Optimistic-lock conflicts during stock reservation",
		},
	)

	ReservationRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_reservation_rejections_total",
			Help: "Reservations rejected for insufficient stock or exhausted retries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsConsumed,
		EventsDuplicate,
		HandlerRetries,
		DLQPublished,
		OutboxPublished,
		OutboxErrors,
		ReservationConflicts,
		ReservationRejections,
	)
}

// Serve exposes /metrics and /health on the given port.
func Serve(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status": "healthy", "alloc": %d, "num_gc": %d}`, m.Alloc, m.NumGC)
	})

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			logrus.Errorf("metrics server stopped: %v", err)
		}
	}()
}
