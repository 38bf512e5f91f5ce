package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultCaptureTimeout = 5 * time.Second

// Capturer writes handler outcomes back onto in_progress records. Writes run detached
// from the response path; Flush and Close wait for them.
type Capturer struct {
	store   RecordStore
	logger  *slog.Logger
	timeout time.Duration
	nowFunc func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewCapturer returns a Capturer. timeout bounds each store write.
func NewCapturer(store RecordStore, logger *slog.Logger, timeout time.Duration) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	return &Capturer{
		store:   store,
		logger:  logger,
		timeout: timeout,
		nowFunc: time.Now,
	}
}

// Capture schedules the write of out for ticket and returns immediately. It returns false
// when the ticket was already captured. ctx is used for values only; its cancellation does
// not abort the write. After Close, captures run inline.
func (c *Capturer) Capture(ctx context.Context, t *Ticket, out Outcome) bool {
	if t == nil || !t.claim() {
		return false
	}
	completion := c.completion(out)
	detached := context.WithoutCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.persist(detached, t, completion)
		return true
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.persist(detached, t, completion)
	}()
	return true
}

func (c *Capturer) completion(out Outcome) Completion {
	status := StatusFailed
	if out.Succeeded() {
		status = StatusCompleted
	}
	body := string(out.Body)
	if body == "" {
		body = "{}"
	}
	return Completion{
		Status:             status,
		ResponseStatusCode: out.StatusCode,
		ResponseMessage:    out.Message,
		ResponseBody:       body,
		FinishedAt:         c.nowFunc().Unix(),
	}
}

func (c *Capturer) persist(ctx context.Context, t *Ticket, completion Completion) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.store.Update(ctx, t.Key, t.Scope, completion)
	if err == nil {
		c.logger.Debug("idempotency outcome captured",
			slog.String("idempotency_key", t.Key),
			slog.String("scope", t.Scope),
			slog.String("status", string(completion.Status)),
			slog.Int("response_status_code", completion.ResponseStatusCode),
		)
		return
	}
	level := slog.LevelError
	if errors.Is(err, ErrNotInProgress) {
		// Typically the reaper already failed the record.
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "idempotency capture failed",
		slog.String("idempotency_key", t.Key),
		slog.String("scope", t.Scope),
		slog.String("status", string(completion.Status)),
		slog.String("error", err.Error()),
	)
}

// Flush blocks until every detached capture scheduled so far has finished or ctx is done.
// On ctx expiry the waiter goroutine lingers until the pending captures end; each of them
// is bounded by the capture timeout.
func (c *Capturer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops detaching new captures and waits for pending ones, for graceful shutdown.
func (c *Capturer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Flush(ctx)
}
