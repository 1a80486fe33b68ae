package main

import (
	"context"
	"os"

	"ledger/internal/amqp"
	"ledger/internal/cli"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/services"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so that deferred cleanup runs first.
func run() int {
	if err := cli.LoadEnvFile(); err != nil {
		log.New(log.DefaultConfig()).Warn("Failed to load .env", "error", err)
	}

	cfg := cli.LoadAndValidateConfig(log.New(log.DefaultConfig()))
	logger := cli.SetupLogger(cfg)

	ctx := context.Background()
	repo := cli.InitStorage(ctx, logger, cfg.DatabaseURL)
	defer repo.Close()

	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		p, err := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
		if err != nil {
			// Events are optional; the ledger keeps serving without them.
			logger.Warn("AMQP publisher unavailable, events disabled", "error", err)
		} else {
			defer p.Close()
			publisher = p
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "routing_key", cfg.AMQPRoutingKey)
		}
	}

	clientIP, err := cli.NewClientIPResolver(cfg)
	if err != nil {
		logger.Error("Invalid trusted proxy configuration", "error", err)
		return 1
	}

	svc := services.NewTransactionService(repo, publisher, cfg.Mode(), logger)
	srv := apphttp.NewServer(":"+cfg.Port, svc, repo, clientIP, logger)

	logger.Info("Starting ledger server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		log.FieldAmountMode, cfg.Mode().String(),
		log.FieldDialect, repo.Dialect().String())

	if err := cli.Serve(ctx, logger, srv, cfg.ShutdownTimeout); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		return 1
	}
	logger.Info("Server stopped gracefully")
	return 0
}
