package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ledgerlink/billing/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", spanCtx.TraceID())
	}
	if spanCtx.SpanID().String() != "0000000000000001" || !spanCtx.IsSampled() || !spanCtx.IsRemote() {
		t.Fatalf("unexpected span context %+v", spanCtx)
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/zz"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareSetsResponseHeader(t *testing.T) {
	var traceID string
	handler := TraceMiddleware("ledger-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ := requestctx.Trace(r.Context())
		traceID = info.TraceID
		if info.ProjectID != "ledger-prod" {
			t.Errorf("unexpected project id %q", info.ProjectID)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if traceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected incoming trace to be continued, got %q", traceID)
	}
	if !strings.HasPrefix(rec.Header().Get(cloudTraceHeader), traceID+"/") {
		t.Fatalf("unexpected response trace header %q", rec.Header().Get(cloudTraceHeader))
	}
}

func TestRequestLoggerRecordsRouteAndCustomer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware())
	router.Get("/api/v1/customers/{customerID}/billing-report", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/customers/C-1/billing-report", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 4xx, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/api/v1/customers/{customerID}/billing-report" {
		t.Fatalf("unexpected route %v", fields["route"])
	}
	if fields["customer_id"] != "C-1" {
		t.Fatalf("unexpected customer id %v", fields["customer_id"])
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"internal_server_error"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := NewEventLogger(zap.New(core))

	logEvent(context.Background(), "billing.report_generated", map[string]any{"reportId": "r1", "orders": 2})
	logEvent(context.Background(), "billing.report_notify_failed", map[string]any{"reportId": "r1"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["reportId"] != "r1" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failure events, got %s", entries[1].Level)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	logEvent := NewEventLogger(zap.New(fallbackCore))

	ctx := WithLogger(context.Background(), zap.New(requestCore))
	logEvent(ctx, "billing.report_generated", nil)

	if requestLogs.Len() != 1 || fallbackLogs.Len() != 0 {
		t.Fatalf("expected request logger to be used (request=%d fallback=%d)", requestLogs.Len(), fallbackLogs.Len())
	}
}
