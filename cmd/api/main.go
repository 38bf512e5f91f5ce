package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/aws"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/config"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/handlers"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/logging"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/middleware"
)

func setupRouter(cfg handlers.HandlerConfig, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestLog(logger), gin.Recovery())

	handlers.RegisterHealthRoutes(r)
	handlers.RegisterAuthRoutes(r, cfg)

	return r
}

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
	capturer := idempotency.NewCapturer(store, logger, cfg.CaptureTimeout)

	var metrics *aws.MetricsRecorder
	if cfg.MetricsNamespace != "" {
		metrics = aws.NewMetricsRecorder(clients.CloudWatch, cfg.MetricsNamespace, logger)
	}

	r := setupRouter(handlers.HandlerConfig{
		DynamoDBClient: clients.DynamoDB,
		SQSClient:      clients.SQS,
		UsersTable:     cfg.UsersTable,
		QueueURL:       cfg.VerificationQueueURL,
		Idempotency: middleware.Idempotency(middleware.IdempotencyConfig{
			Gate:     idempotency.NewInterceptor(store),
			Recorder: capturer,
			Metrics:  metrics,
			Logger:   logger,
		}),
		Logger: logger,
	}, logger)

	if cfg.RunLocal {
		if err := runLocal(cfg, r, capturer, metrics, logger); err != nil {
			logger.Error("local server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)
	h := newInvocationHandler(adapter.ProxyWithContext, capturer, metrics, cfg.MetricsFlushInterval, logger)
	lambda.Start(h.Handle)
}

// runLocal serves HTTP until SIGINT/SIGTERM, then drains requests, pending captures
// and metrics.
func runLocal(cfg *config.Config, r *gin.Engine, capturer *idempotency.Capturer, metrics *aws.MetricsRecorder, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		metrics.Run(ctx, cfg.MetricsFlushInterval)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("running local server", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			<-metricsDone
			return err
		}
	case <-ctx.Done():
	}
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := capturer.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	<-metricsDone
	return errors.Join(errs...)
}
