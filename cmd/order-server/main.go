package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/config"
	"github.com/k-code-yt/kafka-order-saga/internal/dbpostgres"
	"github.com/k-code-yt/kafka-order-saga/internal/inbox"
	"github.com/k-code-yt/kafka-order-saga/internal/kafka"
	"github.com/k-code-yt/kafka-order-saga/internal/metrics"
	"github.com/k-code-yt/kafka-order-saga/internal/order"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

const consumerGroup = "order-service-group"

func main() {
	cfg := config.Load(".env")
	logrus.SetFormatter(&logrus.JSONFormatter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := dbpostgres.NewDBConn(cfg.Postgres.ConnString())
	if err != nil {
		logrus.Fatalf("unable to connect to postgres: %v", err)
	}
	defer db.Close()
	logrus.Info("connected to postgres")

	kbus, err := kafka.NewBus(cfg.Kafka, "order-server")
	if err != nil {
		logrus.Fatalf("unable to create kafka bus: %v", err)
	}
	defer kbus.Close()

	metrics.Serve(cfg.MetricsPort)

	store := order.NewPostgresStore(db)
	saga := order.NewSaga(store)

	relay := outbox.NewRelay(outbox.NewPostgresStore(db), kbus, cfg.OutboxPollInterval)
	go relay.Run(ctx)

	sweeper := order.NewReservationSweeper(store, cfg.ReservationTTL, cfg.SweepInterval)
	go sweeper.Run(ctx)

	poller := order.NewFulfillmentPoller(store, cfg.FulfillmentDelay, cfg.SweepInterval)
	go poller.Run(ctx)

	consumer := inbox.NewConsumer(kbus, inbox.NewPostgresLedger(db), "order-server")
	go func() {
		if err := consumer.Run(ctx, saga.Topics(), consumerGroup, saga.Handle); err != nil && err != context.Canceled {
			logrus.Errorf("consumer stopped: %v", err)
		}
	}()

	logrus.Info("order server started")

	sigCH := make(chan os.Signal, 1)
	signal.Notify(sigCH, syscall.SIGINT, syscall.SIGTERM)
	<-sigCH
	logrus.Info("shutting down order server")
	cancel()
	time.Sleep(time.Second)
}
