// Worker relays telemetry batches from Kafka to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"retail-platform/telemetry/internal/config"
	"retail-platform/telemetry/internal/logging"
	"retail-platform/telemetry/internal/telemetry/relay"
	"retail-platform/telemetry/internal/telemetry/retry"
	"retail-platform/telemetry/internal/telemetry/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadPartial()
	if err != nil {
		return err
	}
	logger, _, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		return err
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		return fmt.Errorf("LOKI_URL is required")
	}

	loki, err := transport.NewLoki(cfg.LokiURL, "", nil, logger)
	if err != nil {
		return err
	}
	defer loki.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker: relaying", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)
	r := &relay.Relay{
		Reader: reader,
		Pusher: loki,
		Retry:  retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute},
		Logger: logger,
	}
	err = r.Run(ctx)
	logger.Info("worker: stopped")
	return err
}
