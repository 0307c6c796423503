package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ledgerlink/billing/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, BadRequest("invalid_date_range", "start must not be after end\n").
		WithDetails(map[string]any{"field": "start"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "invalid_date_range" || body["message"] != "start must not be after end" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["trace_id"] != "trace-1" || body["field"] != "start" {
		t.Fatalf("expected trace id and details, got %v", body)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if err := NewError("boom", "boom", 0); err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", err.Status)
	}
}

func TestWriteBodyKeepsSerialisedReport(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBody(rec, http.StatusOK, "text/csv; charset=utf-8", "Order ID,Service ID\n")
	if rec.Header().Get("Content-Type") != "text/csv; charset=utf-8" || rec.Body.String() != "Order ID,Service ID\n" {
		t.Fatalf("unexpected response %q %q", rec.Header().Get("Content-Type"), rec.Body.String())
	}
}

func TestWithDetailsDoesNotAlias(t *testing.T) {
	base := BadRequest("invalid_rule", "rule is invalid").WithDetails(map[string]any{"field": "weight"})
	extended := base.WithDetails(map[string]any{"operator": "contains"})
	if len(base.Details) != 1 || len(extended.Details) != 2 {
		t.Fatalf("expected independent detail maps, got %v and %v", base.Details, extended.Details)
	}
}
