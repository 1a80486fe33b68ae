package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"ledger/internal/amqp"
	"ledger/internal/cli"
	"ledger/internal/log"
	"ledger/internal/worker"
)

const prefetch = 10

func main() {
	os.Exit(run())
}

// run returns the process exit code so that deferred cleanup runs first.
func run() int {
	if err := cli.LoadEnvFile(); err != nil {
		log.New(log.DefaultConfig()).Warn("Failed to load .env", "error", err)
	}

	cfg := cli.LoadAndValidateConfig(log.New(log.DefaultConfig()))
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentWorker)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the audit worker")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := cli.InitStorage(ctx, logger, cfg.DatabaseURL)
	defer repo.Close()

	consumer, err := amqp.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, prefetch, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP consumer", "error", err)
		return 1
	}
	defer consumer.Close()

	audit := worker.NewAuditWorker(repo, logger)
	logger.Info("Starting ledger audit worker", log.FieldOperation, log.OpStartup, "queue", cfg.AMQPRoutingKey)

	err = consumer.Consume(ctx, audit.HandleTransactionCreated)
	stats := audit.Stats()
	logger.Info("Audit worker stopped",
		"checked", stats.Checked,
		"missing", stats.Missing,
		"mismatched", stats.Mismatched)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		return 1
	}
	return 0
}
