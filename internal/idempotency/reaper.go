package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// AbandonedMessage is stored on records the reaper fails.
const AbandonedMessage = "request abandoned before completion"

// StaleStore is what the Reaper needs from the record store.
type StaleStore interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]Record, error)
	Update(ctx context.Context, key, scope string, c Completion) error
}

// Reaper fails in_progress records older than the lease so their keys stop answering
// "in flight" forever after a crashed handler.
type Reaper struct {
	store  StaleStore
	lease  time.Duration
	logger *slog.Logger
}

// ReapReport summarizes one reaper pass.
type ReapReport struct {
	Scanned int
	Reaped  int
	Skipped int // finished between scan and update
}

// NewReaper returns a Reaper; a lease <= 0 disables it.
func NewReaper(store StaleStore, lease time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, lease: lease, logger: logger}
}

// Run performs one pass relative to now.
func (r *Reaper) Run(ctx context.Context, now time.Time) (ReapReport, error) {
	var report ReapReport
	if r.lease <= 0 {
		return report, nil
	}

	stale, err := r.store.ListStale(ctx, now.Add(-r.lease))
	if err != nil {
		return report, err
	}
	report.Scanned = len(stale)

	body := `{"reason":"in_progress lease expired"}`
	for _, rec := range stale {
		err := r.store.Update(ctx, rec.IdempotencyKey, rec.Scope, Completion{
			Status:             StatusFailed,
			ResponseStatusCode: http.StatusGatewayTimeout,
			ResponseMessage:    AbandonedMessage,
			ResponseBody:       body,
			FinishedAt:         now.Unix(),
		})
		switch {
		case err == nil:
			report.Reaped++
			r.logger.Info("reaped stale idempotency record",
				slog.String("idempotency_key", rec.IdempotencyKey),
				slog.String("scope", rec.Scope),
				slog.Int64("created_at", rec.CreatedAt),
			)
		case errors.Is(err, ErrNotInProgress):
			report.Skipped++
		default:
			return report, err
		}
	}
	return report, nil
}
