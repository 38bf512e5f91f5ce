package validation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRegisterRequest_Valid(t *testing.T) {
	v := New()

	req := RegisterRequest{
		Email:    "ada@example.com",
		Password: "s3cretpass",
		Name:     "Ada",
		Phone:    "+14155550100",
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestRegisterRequest_WeakPassword(t *testing.T) {
	v := New()

	for name, pw := range map[string]string{
		"letters only":   "onlyletters",
		"digits only":    "1234567890",
		"contains email": "ada.lovelace99",
	} {
		req := RegisterRequest{Email: "ada.lovelace@example.com", Password: pw, Name: "Ada"}
		if err := v.Struct(req); err == nil {
			t.Fatalf("%s: expected validation error, got nil", name)
		}
	}
}

func TestRegisterRequest_MissingFields(t *testing.T) {
	v := New()

	req := RegisterRequest{
		// Email and Name missing
		Password: "short1",
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestVerifyRequest_CodeRange(t *testing.T) {
	v := New()

	if err := v.Struct(VerifyRequest{Email: "ada@example.com", Code: 123456}); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if err := v.Struct(VerifyRequest{Email: "ada@example.com", Code: 12345}); err == nil {
		t.Fatal("expected error for 5-digit code")
	}
}

func TestBindAndValidate_WritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"not-an-email","password":"abc1","name":"A"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req RegisterRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected error")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var env struct {
		Status string `json:"status"`
		Error  struct {
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != "error" {
		t.Fatalf("expected error envelope, got %q", env.Status)
	}
	if env.Error.Fields["Email"] != "email" || env.Error.Fields["Password"] != "min" {
		t.Fatalf("unexpected field errors: %v", env.Error.Fields)
	}
}

func TestBindAndValidate_MalformedJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req RegisterRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected error")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
