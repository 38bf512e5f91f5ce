package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/aws"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/config"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		logger.Error("failed to init aws clients", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.RecordTTL)
	h := NewHandler(store, cfg.InProgressLease, logger)

	// If RUN_LOCAL=true, run a single pass and exit.
	if cfg.RunLocal {
		if _, err := h.Handle(context.Background(), events.CloudWatchEvent{ID: "local"}); err != nil {
			logger.Error("local reaper run failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	lambda.Start(h.Handle)
}
