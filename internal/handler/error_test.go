package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pixelift/pixelift/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.EPAYMENT, http.StatusPaymentRequired},
		{domain.EFORBIDDEN, http.StatusForbidden},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EGONE, http.StatusGone},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.EUPSTREAM, http.StatusBadGateway},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_new", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
			t.Errorf("ErrorCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorResponse_IncludesReason(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/enhance/ai", nil)

	ErrorResponse(rec, req, testLogger(), domain.NeedsSignup("op", "Create an account to continue."))

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected status 402, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error.Code != domain.EPAYMENT {
		t.Errorf("expected code payment, got %q", body.Error.Code)
	}
	if body.Error.Reason != domain.ReasonNeedsSignup {
		t.Errorf("expected reason needs_signup, got %q", body.Error.Reason)
	}
	if body.Error.Message != "Create an account to continue." {
		t.Errorf("unexpected message: %q", body.Error.Message)
	}
}

func TestErrorResponse_OmitsEmptyReason(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)

	ErrorResponse(rec, req, testLogger(), domain.Invalid("op", "bad input"))

	var body map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if _, ok := body["error"]["reason"]; ok {
		t.Error("expected no reason field for a plain validation error")
	}
}

func TestErrorResponse_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/images", nil)

	ErrorResponse(rec, req, testLogger(), domain.Internal(io.ErrUnexpectedEOF, "op", "db exploded"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}

	var body map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if msg := body["error"]["message"]; msg == "db exploded" {
		t.Error("internal message must not leak to the client")
	}
}

func TestValidationErrorResponse_ListsFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", nil)

	ValidationErrorResponse(rec, req, testLogger(), domain.NewValidationError("op", "tier", "unknown tier"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}

	var body struct {
		Error struct {
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error.Fields["tier"] != "unknown tier" {
		t.Errorf("expected field error, got %v", body.Error.Fields)
	}
}
