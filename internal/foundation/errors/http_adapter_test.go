package errors

import (
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: http.StatusOK},
		{name: "validation", err: ValidationError("bad id").Build(), expected: http.StatusBadRequest},
		{name: "not found", err: NotFoundError("unknown block").Build(), expected: http.StatusNotFound},
		{name: "transport", err: TransportError("down").Build(), expected: http.StatusBadGateway},
		{name: "sandbox", err: SandboxError("init").Build(), expected: http.StatusServiceUnavailable},
		{name: "unclassified", err: stdErrors.New("x"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.StatusCodeFor(tt.err); got != tt.expected {
				t.Errorf("StatusCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/blocks/missing", nil)

	adapter.WriteErrorResponse(rec, req, NotFoundError("block not found").WithContext("block_id", "missing").Build())

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body HTTPErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Code != "not_found" || body.Error != "block not found" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Details["block_id"] != "missing" {
		t.Errorf("expected block_id detail, got %v", body.Details)
	}
}
