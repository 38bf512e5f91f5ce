package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

const lambdaFlushTimeout = 3 * time.Second

type proxyFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

type flusher interface {
	Flush(ctx context.Context) error
}

// invocationHandler proxies one API Gateway event and drains pending captures before
// returning, since a frozen Lambda environment would never finish them. Metrics flush at
// most once per interval.
type invocationHandler struct {
	proxy    proxyFunc
	capturer flusher
	metrics  flusher
	interval time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	mu        sync.Mutex
	lastFlush time.Time
}

func newInvocationHandler(proxy proxyFunc, capturer, metrics flusher, interval time.Duration, logger *slog.Logger) *invocationHandler {
	return &invocationHandler{
		proxy:    proxy,
		capturer: capturer,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func (h *invocationHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp, err := h.proxy(ctx, req)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lambdaFlushTimeout)
	defer cancel()
	if ferr := h.capturer.Flush(flushCtx); ferr != nil {
		h.logger.Error("idempotency captures not flushed", slog.String("error", ferr.Error()))
	}
	if h.metricsDue() {
		if ferr := h.metrics.Flush(flushCtx); ferr != nil {
			h.logger.Warn("metrics flush failed", slog.String("error", ferr.Error()))
		}
	}
	return resp, err
}

func (h *invocationHandler) metricsDue() bool {
	if h.metrics == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFunc()
	if now.Sub(h.lastFlush) < h.interval {
		return false
	}
	h.lastFlush = now
	return true
}
