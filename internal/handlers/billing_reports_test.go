package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/services"
)

type reportCall struct {
	customerID string
	start      time.Time
	end        time.Time
	format     domain.ReportFormat
}

type stubReportService struct {
	calls  []reportCall
	body   string
	object string
	err    error
}

func (s *stubReportService) Generate(context.Context, string, time.Time, time.Time) (*domain.BillingReport, error) {
	return nil, errors.New("not used")
}

func (s *stubReportService) GenerateBillingReport(_ context.Context, customerID string, start, end time.Time, format domain.ReportFormat) (string, error) {
	s.calls = append(s.calls, reportCall{customerID, start, end, format})
	return s.body, s.err
}

func (s *stubReportService) ExportBillingReport(_ context.Context, customerID string, start, end time.Time, format domain.ReportFormat) (string, string, error) {
	s.calls = append(s.calls, reportCall{customerID, start, end, format})
	return s.body, s.object, s.err
}

func newReportRouter(svc services.BillingReportService, opts ...BillingReportOption) http.Handler {
	return NewRouter(WithCustomerRoutes(NewBillingReportHandlers(svc, opts...).Routes))
}

func TestBillingReportReturnsCSV(t *testing.T) {
	svc := &stubReportService{body: "Order ID,Service ID,Service Name,Amount\nT-1,S-1,Labels,1.00"}
	router := newReportRouter(svc, WithDefaultReportFormat(domain.ReportFormatCSV))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/customers/C-1/billing-report?start=2024-03-01&end=2024-03-31", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="billing_C-1_20240301_20240331.csv"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rr.Body.String() != svc.body {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	call := svc.calls[0]
	if call.customerID != "C-1" || call.format != domain.ReportFormatCSV {
		t.Fatalf("unexpected call %+v", call)
	}
	if !call.start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) || call.end.Day() != 31 || call.end.Hour() != 23 {
		t.Fatalf("expected whole-day range, got %s..%s", call.start, call.end)
	}
}

func TestBillingReportExport(t *testing.T) {
	svc := &stubReportService{body: "{}", object: "reports/C-1/20240301_20240331/R1.json"}
	router := newReportRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/customers/C-1/billing-report?start=2024-03-01&end=2024-03-31&format=json&export=true", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body exportedReportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Object != svc.object || body.Format != "json" || body.CustomerID != "C-1" {
		t.Fatalf("unexpected export response %+v", body)
	}
}

func TestBillingReportRejectsBadInput(t *testing.T) {
	svc := &stubReportService{}
	router := newReportRouter(svc)

	cases := map[string]string{
		"/api/v1/customers/C-1/billing-report?end=2024-03-31":                                   string(services.ReportInvalidRange),
		"/api/v1/customers/C-1/billing-report?start=03/01/2024&end=2024-03-31":                  string(services.ReportInvalidRange),
		"/api/v1/customers/C-1/billing-report?start=2024-03-01&end=2024-03-31&format=xml":       string(services.ReportInvalidFormat),
		"/api/v1/customers/C-1/billing-report?start=2024-03-01&end=2024-03-31&export=sometimes": "invalid_request",
	}
	for target, code := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != code {
			t.Fatalf("%s: expected error %s, got %v", target, code, body["error"])
		}
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service must not be called for invalid input")
	}
}

func TestBillingReportMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&services.ReportValidationError{Code: services.ReportCustomerNotFound, Message: "customer C-9 not found"}, http.StatusNotFound},
		{&services.ReportValidationError{Code: services.ReportNoServices, Message: "no services"}, http.StatusBadRequest},
		{repositories.NewStoreError("orders.list", repositories.StoreErrorUnavailable, "down", nil), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{services.ErrExportUnavailable, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		var events []string
		router := newReportRouter(&stubReportService{err: tc.err}, WithReportLogger(func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/customers/C-9/billing-report?start=2024-03-01&end=2024-03-31", nil))
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if errors.Is(tc.err, services.ErrReportInvalidInput) != (len(events) == 0) {
			t.Fatalf("%v: unexpected failure logging %v", tc.err, events)
		}
	}
}

func TestBillingReportRateLimitPerCustomer(t *testing.T) {
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubReportService{body: "{}"}
	router := newReportRouter(svc, WithReportRateLimit(1, time.Minute, func() time.Time { return now }))

	get := func(customer string) int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/customers/"+customer+"/billing-report?start=2024-03-01&end=2024-03-31", nil))
		return rr.Code
	}
	if code := get("C-1"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := get("C-1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
	if code := get("C-2"); code != http.StatusOK {
		t.Fatalf("other customer: expected 200, got %d", code)
	}
	now = now.Add(time.Minute)
	if code := get("C-1"); code != http.StatusOK {
		t.Fatalf("after window: expected 200, got %d", code)
	}
}

var _ services.BillingReportService = (*stubReportService)(nil)
