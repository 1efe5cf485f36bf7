package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("invalid_order", "bad\ninput", http.StatusBadRequest).
		WithFields(map[string]string{"contact.email": "invalid email"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_order" || body["message"] != "bad input" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["trace_id"] != "abc123" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	fields, ok := body["fields"].(map[string]any)
	if !ok || fields["contact.email"] != "invalid email" {
		t.Fatalf("expected field map, got %v", body["fields"])
	}
}

func TestWriteErrorDetailsCannotOverrideEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("x", "y", 0).WithDetails(map[string]any{"status": 200, "extra": true}))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != float64(500) || body["extra"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}
