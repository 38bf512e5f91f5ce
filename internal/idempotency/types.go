package idempotency

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Status of an idempotency record. It only moves forward:
// in_progress -> completed or in_progress -> failed.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is the shape persisted in the idempotency DynamoDB table.
// (idempotency_key, scope) is the table's composite primary key.
type Record struct {
	IdempotencyKey     string `dynamodbav:"idempotency_key"` // PK
	Scope              string `dynamodbav:"scope"`           // SK
	RequestFingerprint string `dynamodbav:"request_fingerprint"`
	Status             Status `dynamodbav:"status"`

	// Response fields stay empty while Status is in_progress.
	ResponseStatusCode int    `dynamodbav:"response_status_code,omitempty"`
	ResponseMessage    string `dynamodbav:"response_message,omitempty"`
	ResponseBody       string `dynamodbav:"response_body,omitempty"` // raw JSON

	CreatedAt  int64 `dynamodbav:"created_at"` // epoch seconds
	UpdatedAt  int64 `dynamodbav:"updated_at"`
	FinishedAt int64 `dynamodbav:"finished_at,omitempty"`
	ExpiresAt  int64 `dynamodbav:"expires_at,omitempty"` // DynamoDB TTL attribute
}

// Completion is the terminal outcome written onto an in_progress record.
type Completion struct {
	Status             Status
	ResponseStatusCode int
	ResponseMessage    string
	ResponseBody       string
	FinishedAt         int64
}

// Outcome is what a handler produced: status code, message and JSON body.
type Outcome struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
}

// Succeeded reports whether the outcome is a handler success.
func (o Outcome) Succeeded() bool {
	return o.StatusCode > 0 && o.StatusCode < http.StatusBadRequest
}

// Request is the normalized descriptor of an inbound request.
type Request struct {
	Method string
	// Path is the concrete request path, Route the matched route template.
	Path   string
	Route  string
	Body   any
	Params map[string]string
	Query  map[string][]string
}

// Decision is the interceptor's verdict for a request that may proceed or be replayed.
type Decision int

const (
	// DecisionPassThrough: method is not subject to idempotency bookkeeping.
	DecisionPassThrough Decision = iota
	// DecisionProceed: a new in_progress record was created; run the handler and capture.
	DecisionProceed
	// DecisionReplay: replay a completed response.
	DecisionReplay
	// DecisionReplayFailure: replay a failed response.
	DecisionReplayFailure
)

func (d Decision) String() string {
	switch d {
	case DecisionPassThrough:
		return "PassThrough"
	case DecisionProceed:
		return "Proceed"
	case DecisionReplay:
		return "Replay"
	case DecisionReplayFailure:
		return "ReplayFailure"
	default:
		return "Unknown"
	}
}

// Result is returned by Interceptor.Begin.
type Result struct {
	Decision Decision
	Ticket   *Ticket // DecisionProceed only
	Record   *Record // replay decisions only
}

// Ticket is the request-scoped handle linking an admitted request to its record.
// It is handed from the interceptor to the capturer and can be captured once.
type Ticket struct {
	Key         string
	Scope       string
	Fingerprint string

	captured atomic.Bool
}

// NewTicket returns a ticket for (key, scope).
func NewTicket(key, scope, fingerprint string) *Ticket {
	return &Ticket{Key: key, Scope: scope, Fingerprint: fingerprint}
}

// claim marks the ticket captured and reports whether this call won.
func (t *Ticket) claim() bool {
	return t.captured.CompareAndSwap(false, true)
}

// Captured reports whether the ticket has been handed to the capturer.
func (t *Ticket) Captured() bool {
	return t.captured.Load()
}
