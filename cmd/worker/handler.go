package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/idempotency"
)

// Handler runs one reaper pass per EventBridge schedule tick.
type Handler struct {
	reaper  *idempotency.Reaper
	lease   time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewHandler wires a reaper over store with the given in_progress lease.
func NewHandler(store idempotency.StaleStore, lease time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		reaper:  idempotency.NewReaper(store, lease, logger),
		lease:   lease,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Handle is the Lambda entrypoint. The event time is used as "now" when present so
// retried deliveries of the same tick use the same cutoff.
func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (ReapSummary, error) {
	now := ev.Time
	if now.IsZero() {
		now = h.nowFunc()
	}

	report, err := h.reaper.Run(ctx, now)
	summary := ReapSummary{
		Cutoff:  now.Add(-h.lease).Unix(),
		Scanned: report.Scanned,
		Reaped:  report.Reaped,
		Skipped: report.Skipped,
	}
	if err != nil {
		return summary, fmt.Errorf("reap stale idempotency records: %w", err)
	}

	h.logger.Info("reaper run finished",
		slog.String("event_id", ev.ID),
		slog.Int("scanned", summary.Scanned),
		slog.Int("reaped", summary.Reaped),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}
