package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type KafkaConfig struct {
	BootstrapServers string
	SessionTimeoutMS int
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type ServiceConfig struct {
	Kafka    *KafkaConfig
	Postgres *PostgresConfig

	OutboxPollInterval time.Duration
	ReservationTTL     time.Duration
	SweepInterval      time.Duration
	FulfillmentDelay   time.Duration
	LowStockThreshold  int
	MetricsPort        string
}

// Load reads .env (if present) and builds the service config from the
// environment with local-dev defaults.
func Load(envPath string) *ServiceConfig {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			logrus.WithField("path", envPath).Warn("no .env file found, using environment")
		}
	}

	return &ServiceConfig{
		Kafka: &KafkaConfig{
			BootstrapServers: getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"),
			SessionTimeoutMS: getEnvInt("KAFKA_SESSION_TIMEOUT_MS", 30000),
		},
		Postgres: &PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   getEnv("POSTGRES_DB", "order_saga"),
		},
		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		ReservationTTL:     getEnvDuration("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		FulfillmentDelay:   getEnvDuration("FULFILLMENT_DELAY", time.Minute),
		LowStockThreshold:  getEnvInt("LOW_STOCK_THRESHOLD", 10),
		MetricsPort:        getEnv("METRICS_PORT", "2112"),
	}
}

func (c *PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName,
	)
}

func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid int %q, using default", v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid duration %q, using default", v)
		return fallback
	}
	return d
}
