// Package response writes the API's JSON envelope and remembers, on the gin context,
// what was written so the idempotency middleware can capture it.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	DefaultSuccessMessage = "Success!"
	DefaultErrorMessage   = "Unexpected Error!"

	writtenKey = "response.written"
)

type successEnvelope struct {
	Status  string          `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Status  string          `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// Written is the handler-level view of a response: the envelope's code, message and
// the raw JSON of its data (or error) member.
type Written struct {
	Code    int
	Message string
	Payload json.RawMessage
}

// Success writes {"status":"success","code","message","data"}. A nil data is sent as {}.
func Success(c *gin.Context, code int, data any, message string) {
	if code == 0 {
		code = http.StatusOK
	}
	if message == "" {
		message = DefaultSuccessMessage
	}
	payload, err := marshalPayload(data)
	if err != nil {
		Error(c, http.StatusInternalServerError, "encode response: "+err.Error(), nil)
		return
	}
	record(c, Written{Code: code, Message: message, Payload: payload})
	c.JSON(code, successEnvelope{Status: StatusSuccess, Code: code, Message: message, Data: payload})
}

// Error writes {"status":"error","code","message","error"}. A nil detail is sent as {}.
func Error(c *gin.Context, code int, message string, detail any) {
	if code == 0 {
		code = http.StatusInternalServerError
	}
	if message == "" {
		message = DefaultErrorMessage
	}
	payload, err := marshalPayload(detail)
	if err != nil {
		payload = json.RawMessage(`{}`)
	}
	record(c, Written{Code: code, Message: message, Payload: payload})
	c.JSON(code, errorEnvelope{Status: StatusError, Code: code, Message: message, Error: payload})
}

// Abort writes an error envelope and stops the handler chain.
func Abort(c *gin.Context, code int, message string, detail any) {
	Error(c, code, message, detail)
	c.Abort()
}

// Recorded returns the last envelope written for this request, if any.
func Recorded(c *gin.Context) (Written, bool) {
	v, ok := c.Get(writtenKey)
	if !ok {
		return Written{}, false
	}
	w, ok := v.(Written)
	return w, ok
}

func record(c *gin.Context, w Written) {
	c.Set(writtenKey, w)
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 || !json.Valid(p) {
			return json.RawMessage(`{}`), nil
		}
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
