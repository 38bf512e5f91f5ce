package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/response"
)

const (
	// HeaderIdempotencyKey carries the client-chosen key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed is set on responses served from a stored record.
	HeaderReplayed = "Idempotency-Replayed"

	MsgMissingKey        = "missing Idempotency-Key header"
	MsgUnfingerprintable = "request payload cannot be fingerprinted"
	MsgConflict          = "Idempotency-Key is reused with different payload"
	MsgInFlight          = "request is in progress, retry later"
	MsgUnavailable       = "idempotency storage unavailable"
)

// Metric names incremented per decision.
const (
	MetricPassthrough   = "Passthrough"
	MetricProceed       = "Proceed"
	MetricReplay        = "Replay"
	MetricReplayFailure = "ReplayFailure"
	MetricMissingKey    = "MissingKey"
	MetricBadPayload    = "BadPayload"
	MetricConflict      = "Conflict"
	MetricInFlight      = "InFlight"
	MetricStorageError  = "StorageError"
)

// Gate decides whether a request may run.
type Gate interface {
	Begin(ctx context.Context, req idempotency.Request, key string) (idempotency.Result, error)
}

// Recorder persists the outcome of an admitted request.
type Recorder interface {
	Capture(ctx context.Context, t *idempotency.Ticket, out idempotency.Outcome) bool
}

// Counter counts decisions. *aws.MetricsRecorder satisfies it.
type Counter interface {
	Incr(name string)
}

// IdempotencyConfig wires the Idempotency middleware.
type IdempotencyConfig struct {
	Gate     Gate
	Recorder Recorder
	Metrics  Counter
	Logger   *slog.Logger
}

// Idempotency guards mutating routes with the Idempotency-Key protocol: new keys run the
// handler once and capture its outcome, known keys replay it, and conflicting or in-flight
// keys are rejected without running the handler.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	incr := func(name string) {
		if cfg.Metrics != nil {
			cfg.Metrics.Incr(name)
		}
	}

	return func(c *gin.Context) {
		if !idempotency.IsMutating(c.Request.Method) {
			incr(MetricPassthrough)
			c.Next()
			return
		}

		req, err := describe(c)
		if err != nil {
			response.Abort(c, http.StatusBadRequest, "unreadable request body", nil)
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		res, err := cfg.Gate.Begin(c.Request.Context(), req, key)
		if err != nil {
			reject(c, err, key, logger, incr)
			return
		}

		switch res.Decision {
		case idempotency.DecisionPassThrough:
			incr(MetricPassthrough)
			c.Next()
		case idempotency.DecisionReplay:
			incr(MetricReplay)
			c.Header(HeaderReplayed, "true")
			rec := res.Record
			response.Success(c, rec.ResponseStatusCode, json.RawMessage(rec.ResponseBody), rec.ResponseMessage)
			c.Abort()
		case idempotency.DecisionReplayFailure:
			incr(MetricReplayFailure)
			c.Header(HeaderReplayed, "true")
			rec := res.Record
			response.Abort(c, rec.ResponseStatusCode, rec.ResponseMessage, json.RawMessage(rec.ResponseBody))
		case idempotency.DecisionProceed:
			incr(MetricProceed)
			proceed(c, cfg.Recorder, res.Ticket)
		}
	}
}

func reject(c *gin.Context, err error, key string, logger *slog.Logger, incr func(string)) {
	switch {
	case errors.Is(err, idempotency.ErrMissingKey):
		incr(MetricMissingKey)
		response.Abort(c, http.StatusBadRequest, MsgMissingKey, nil)
	case errors.Is(err, idempotency.ErrUnfingerprintable):
		incr(MetricBadPayload)
		response.Abort(c, http.StatusBadRequest, MsgUnfingerprintable, gin.H{"detail": err.Error()})
	case errors.Is(err, idempotency.ErrKeyReuseConflict):
		incr(MetricConflict)
		response.Abort(c, http.StatusConflict, MsgConflict, nil)
	case errors.Is(err, idempotency.ErrRequestInFlight):
		incr(MetricInFlight)
		response.Abort(c, http.StatusTooEarly, MsgInFlight, nil)
	default:
		incr(MetricStorageError)
		logger.Error("idempotency check failed",
			slog.String("idempotency_key", key),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		response.Abort(c, http.StatusInternalServerError, MsgUnavailable, nil)
	}
}

// proceed runs the rest of the chain and hands whatever it produced to the recorder,
// including a 500 failure when the handler panics before writing a response.
func proceed(c *gin.Context, recorder Recorder, ticket *idempotency.Ticket) {
	tee := &teeWriter{ResponseWriter: c.Writer}
	c.Writer = tee
	ctx := c.Request.Context()

	defer func() {
		c.Writer = tee.ResponseWriter
		if r := recover(); r != nil {
			out := idempotency.Outcome{
				StatusCode: http.StatusInternalServerError,
				Message:    http.StatusText(http.StatusInternalServerError),
				Body:       json.RawMessage(`{}`),
			}
			// The client already has the handler's response; record that, not a 500.
			if tee.Written() {
				out = outcomeOf(c, tee)
			}
			recorder.Capture(ctx, ticket, out)
			panic(r)
		}
	}()

	c.Next()
	recorder.Capture(ctx, ticket, outcomeOf(c, tee))
}

// outcomeOf prefers the envelope recorded by the response package and falls back to the
// raw bytes the handler wrote.
func outcomeOf(c *gin.Context, tee *teeWriter) idempotency.Outcome {
	if w, ok := response.Recorded(c); ok {
		return idempotency.Outcome{StatusCode: w.Code, Message: w.Message, Body: w.Payload}
	}
	status := tee.Status()
	body := tee.body.Bytes()
	if len(body) == 0 {
		body = nil
	} else if !json.Valid(body) {
		raw, _ := json.Marshal(string(body))
		body = raw
	}
	return idempotency.Outcome{
		StatusCode: status,
		Message:    http.StatusText(status),
		Body:       body,
	}
}

// describe builds the idempotency view of the request and restores the body for handlers.
// JSON bodies are decoded with UseNumber; anything else fingerprints as text.
func describe(c *gin.Context) (idempotency.Request, error) {
	var raw []byte
	if c.Request.Body != nil {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return idempotency.Request{}, err
		}
		_ = c.Request.Body.Close()
		c.Request.Body = io.NopCloser(bytes.NewReader(b))
		raw = b
	}

	var body any
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil || dec.More() {
			body = string(raw)
		}
	}

	params := make(map[string]string, len(c.Params))
	for _, p := range c.Params {
		params[p.Key] = p.Value
	}

	return idempotency.Request{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Route:  c.FullPath(),
		Body:   body,
		Params: params,
		Query:  c.Request.URL.Query(),
	}, nil
}

// teeWriter passes writes through while keeping a copy of the body.
type teeWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
