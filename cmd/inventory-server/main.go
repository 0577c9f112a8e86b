package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k-code-yt/kafka-order-saga/internal/config"
	"github.com/k-code-yt/kafka-order-saga/internal/dbpostgres"
	"github.com/k-code-yt/kafka-order-saga/internal/inbox"
	"github.com/k-code-yt/kafka-order-saga/internal/inventory"
	"github.com/k-code-yt/kafka-order-saga/internal/kafka"
	"github.com/k-code-yt/kafka-order-saga/internal/metrics"
	"github.com/k-code-yt/kafka-order-saga/internal/outbox"
)

const consumerGroup = "inventory-service-group"

func main() {
	seed := flag.Bool("seed", false, "Seed the product catalog before serving")
	flag.Parse()

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

	store := inventory.NewPostgresStore(db)
	if *seed {
		if err := inventory.Seed(ctx, store, inventory.DefaultCatalog()); err != nil {
			logrus.Fatalf("unable to seed products: %v", err)
		}
		logrus.Info("product catalog seeded")
	}

	kbus, err := kafka.NewBus(cfg.Kafka, "inventory-server")
	if err != nil {
		logrus.Fatalf("unable to create kafka bus: %v", err)
	}
	defer kbus.Close()

	metrics.Serve(cfg.MetricsPort)

	ledger := inventory.NewLedger(store, cfg.LowStockThreshold)

	relay := outbox.NewRelay(outbox.NewPostgresStore(db), kbus, cfg.OutboxPollInterval)
	go relay.Run(ctx)

	consumer := inbox.NewConsumer(kbus, inbox.NewPostgresLedger(db), "inventory-server")
	go func() {
		if err := consumer.Run(ctx, ledger.Topics(), consumerGroup, ledger.Handle); err != nil && err != context.Canceled {
			logrus.Errorf("consumer stopped: %v", err)
		}
	}()

	logrus.Info("inventory server started")

	sigCH := make(chan os.Signal, 1)
	signal.Notify(sigCH, syscall.SIGINT, syscall.SIGTERM)
	<-sigCH
	logrus.Info("shutting down inventory server")
	cancel()
	time.Sleep(time.Second)
}
