package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	domain "github.com/ledgerlink/billing/internal/domain"
)

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
)

func closedAt(day int) *time.Time {
	ts := time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC)
	return &ts
}

type reportFixture struct {
	store     *memoryStore
	notifier  *recordingNotifier
	generator *BillingReportGenerator
	events    []string
}

func newReportFixture(t *testing.T, advanced bool) *reportFixture {
	t.Helper()
	fx := &reportFixture{store: newMemoryStore(), notifier: &recordingNotifier{}}
	fx.store.customers["C-1"] = domain.Customer{ID: "C-1", Name: "Acme Outdoor"}
	fx.store.customers["C-2"] = domain.Customer{ID: "C-2", Name: "Idle Co"}

	logger := func(_ context.Context, event string, _ map[string]any) {
		fx.events = append(fx.events, event)
	}
	costs, err := NewServiceCostCalculator(ServiceCostCalculatorDeps{CustomerServices: fx.store, Products: fx.store, Logger: logger})
	if err != nil {
		t.Fatalf("NewServiceCostCalculator: %v", err)
	}
	validator, err := NewRuleValidator()
	if err != nil {
		t.Fatalf("NewRuleValidator: %v", err)
	}
	engine, err := NewAdvancedRuleEngine(AdvancedRuleEngineDeps{Validator: validator, Logger: logger})
	if err != nil {
		t.Fatalf("NewAdvancedRuleEngine: %v", err)
	}
	fx.generator, err = NewBillingReportGenerator(BillingReportGeneratorDeps{
		Customers:                fx.store,
		Orders:                   fx.store,
		CustomerServices:         fx.store,
		RuleGroups:               fx.store,
		Costs:                    costs,
		Advanced:                 engine,
		ApplyAdvancedAdjustments: advanced,
		Notifier:                 fx.notifier,
		IDGenerator:              func() string { return "RPT-1" },
		Now:                      func() time.Time { return periodEnd },
		Logger:                   logger,
	})
	if err != nil {
		t.Fatalf("NewBillingReportGenerator: %v", err)
	}
	return fx
}

func TestGenerateQuantityService(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Pick & Pack", "2.00")}
	fx.store.orders = []domain.Order{
		{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(5), TotalItemQty: intPtr(5)},
	}

	report, err := fx.generator.Generate(context.Background(), "C-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(report.OrderCosts) != 1 {
		t.Fatalf("expected one order, got %d", len(report.OrderCosts))
	}
	if !report.TotalAmount.Equal(dec("10")) {
		t.Fatalf("expected total 10.00, got %s", report.TotalAmount)
	}
	if report.ID != "RPT-1" || report.CustomerName != "Acme Outdoor" || !report.GeneratedAt.Equal(periodEnd) {
		t.Fatalf("unexpected report metadata: %+v", report)
	}
}

func TestGenerateAppliesRuleGroupsAndDedupesSingles(t *testing.T) {
	fx := newReportFixture(t, false)
	handling := domain.CustomerService{
		ID:         "CS-1",
		CustomerID: "C-1",
		Service:    domain.Service{ID: "S-1", Name: "Handling", ChargeType: domain.ChargeTypeSingle},
		UnitPrice:  decPtr("15.00"),
	}
	handlingDup := handling
	handlingDup.ID = "CS-2"
	international := domain.CustomerService{
		ID:         "CS-3",
		CustomerID: "C-1",
		Service:    domain.Service{ID: "S-3", Name: "International Surcharge", ChargeType: domain.ChargeTypeSingle},
		UnitPrice:  decPtr("7.50"),
	}
	fx.store.services = []domain.CustomerService{handling, handlingDup, international}
	fx.store.groups["CS-3"] = []domain.RuleGroup{{
		ID:            "G-1",
		LogicOperator: domain.LogicAnd,
		Rules:         []domain.Rule{{ID: "R-1", Field: domain.FieldShipToCountry, Operator: domain.OpNotIn, Value: "US"}},
	}}
	february := time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)
	fx.store.orders = []domain.Order{
		{TransactionID: "T-2", CustomerID: "C-1", CloseDate: closedAt(10), ShipToCountry: strPtr("CA")},
		{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(3), ShipToCountry: strPtr("US")},
		{TransactionID: "T-3", CustomerID: "C-1", CloseDate: &february, ShipToCountry: strPtr("CA")},
	}

	report, err := fx.generator.Generate(context.Background(), "C-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	type line struct {
		Order   string
		Service string
		Amount  string
	}
	var got []line
	for _, order := range report.OrderCosts {
		for _, cost := range order.ServiceCosts {
			got = append(got, line{order.OrderID, cost.ServiceID, cost.Amount.StringFixed(2)})
		}
	}
	want := []line{
		{"T-1", "S-1", "15.00"},
		{"T-2", "S-1", "15.00"},
		{"T-2", "S-3", "7.50"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected lines (-want +got):\n%s", diff)
	}
	if !report.TotalAmount.Equal(dec("37.5")) {
		t.Fatalf("expected total 37.50, got %s", report.TotalAmount)
	}
	if !report.ServiceTotals["S-1"].Equal(dec("30")) {
		t.Fatalf("expected S-1 total 30.00, got %s", report.ServiceTotals["S-1"])
	}
}

func TestGenerateSkipsMalformedOrders(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Labels", "1.00")}
	fx.store.orders = []domain.Order{
		{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(1), TotalItemQty: intPtr(2)},
		{TransactionID: "T-2", CustomerID: "C-1", CloseDate: closedAt(2), TotalItemQty: intPtr(4), SKUQuantity: `{"sku":`},
		{TransactionID: "T-3", CustomerID: "C-1", CloseDate: closedAt(3), TotalItemQty: intPtr(1)},
	}

	report, err := fx.generator.Generate(context.Background(), "C-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(report.OrderCosts) != 2 || !report.TotalAmount.Equal(dec("3")) {
		t.Fatalf("expected two priced orders totalling 3.00, got %d / %s", len(report.OrderCosts), report.TotalAmount)
	}
	if len(report.SkippedOrders) != 1 || report.SkippedOrders[0].OrderID != "T-2" {
		t.Fatalf("expected T-2 skipped, got %+v", report.SkippedOrders)
	}
	found := false
	for _, event := range fx.events {
		if event == "billing.order_skipped" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected skipped order to be logged, got %v", fx.events)
	}
}

func TestGenerateValidation(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Labels", "1.00")}

	cases := []struct {
		name       string
		customerID string
		start, end time.Time
		code       ReportValidationCode
	}{
		{"blank customer", " ", periodStart, periodEnd, ReportCustomerRequired},
		{"unknown customer", "C-404", periodStart, periodEnd, ReportCustomerNotFound},
		{"inverted range", "C-1", periodEnd, periodStart, ReportInvalidRange},
		{"no services", "C-2", periodStart, periodEnd, ReportNoServices},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.generator.Generate(context.Background(), tc.customerID, tc.start, tc.end)
			if !errors.Is(err, ErrReportInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			var validationErr *ReportValidationError
			if !errors.As(err, &validationErr) || validationErr.Code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, err)
			}
		})
	}
}

func TestGenerateStopsOnCancellation(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Labels", "1.00")}
	fx.store.orders = []domain.Order{{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(1)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := fx.generator.Generate(ctx, "C-1", periodStart, periodEnd)
	if !errors.Is(err, context.Canceled) || report != nil {
		t.Fatalf("expected cancellation without a partial report, got %v / %+v", err, report)
	}
}

func TestGenerateAdvancedAdjustments(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		fx := newReportFixture(t, enabled)
		fx.store.services = []domain.CustomerService{quantityService("CS-1", "Freight", "4.00")}
		calcs, err := domain.DecodeCalculations([]byte(`[{"type":"percentage","value":25}]`))
		if err != nil {
			t.Fatalf("DecodeCalculations: %v", err)
		}
		fx.store.groups["CS-1"] = []domain.RuleGroup{{
			ID:            "G-1",
			LogicOperator: domain.LogicAnd,
			Rules: []domain.Rule{{
				ID:       "R-1",
				Field:    domain.FieldWeightLb,
				Operator: domain.OpGreaterThan,
				Value:    "20",
				Advanced: &domain.AdvancedExtension{Calculations: calcs},
			}},
		}}
		fx.store.orders = []domain.Order{{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(4), WeightLb: decPtr("30"), TotalItemQty: intPtr(2)}}

		report, err := fx.generator.Generate(context.Background(), "C-1", periodStart, periodEnd)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		want := dec("8")
		if enabled {
			want = dec("10")
		}
		if !report.TotalAmount.Equal(want) {
			t.Fatalf("advanced=%v: expected %s, got %s", enabled, want, report.TotalAmount)
		}
	}
}

func TestGenerateBillingReportFormats(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Pick & Pack", "2.00")}
	fx.store.orders = []domain.Order{
		{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(5), TotalItemQty: intPtr(5)},
	}

	body, err := fx.generator.GenerateBillingReport(context.Background(), "C-1", periodStart, periodEnd, "JSON")
	if err != nil {
		t.Fatalf("GenerateBillingReport: %v", err)
	}
	var doc struct {
		CustomerID    string `json:"customer_id"`
		TotalAmount   string `json:"total_amount"`
		ServiceTotals map[string]struct {
			Name   string `json:"name"`
			Amount string `json:"amount"`
		} `json:"service_totals"`
		Orders []struct {
			OrderID  string `json:"order_id"`
			Services []struct {
				Amount string `json:"amount"`
			} `json:"services"`
		} `json:"orders"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("decode json report: %v", err)
	}
	if doc.CustomerID != "C-1" || doc.TotalAmount != "10.00" || doc.Orders[0].Services[0].Amount != "10.00" {
		t.Fatalf("unexpected json report: %s", body)
	}
	if doc.ServiceTotals["S-CS-1"].Name != "Pick & Pack" {
		t.Fatalf("expected service totals keyed by service id, got %+v", doc.ServiceTotals)
	}

	csvBody, err := fx.generator.GenerateBillingReport(context.Background(), "C-1", periodStart, periodEnd, domain.ReportFormatCSV)
	if err != nil {
		t.Fatalf("GenerateBillingReport csv: %v", err)
	}
	if want := "Order ID,Service ID,Service Name,Amount\nT-1,S-CS-1,Pick & Pack,10.00"; csvBody != want {
		t.Fatalf("expected csv %q, got %q", want, csvBody)
	}

	if len(fx.notifier.events) != 2 || fx.notifier.events[1].Format != domain.ReportFormatCSV {
		t.Fatalf("expected one notification per rendered report, got %+v", fx.notifier.events)
	}

	if _, err := fx.generator.GenerateBillingReport(context.Background(), "C-1", periodStart, periodEnd, "xml"); !errors.Is(err, ErrReportInvalidInput) {
		t.Fatalf("expected unsupported format to be rejected, got %v", err)
	}
}

func TestGenerateBillingReportTotalsMatchLines(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Labels", "0.333")}
	fx.store.orders = []domain.Order{
		{TransactionID: "T-1", CustomerID: "C-1", CloseDate: closedAt(5), TotalItemQty: intPtr(1)},
		{TransactionID: "T-2", CustomerID: "C-1", CloseDate: closedAt(6), TotalItemQty: intPtr(1)},
	}

	report, err := fx.generator.Generate(context.Background(), "C-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !report.TotalAmount.Equal(dec("0.66")) || !report.ServiceTotals["S-CS-1"].Equal(dec("0.66")) {
		t.Fatalf("expected totals of 0.66, got total %s service %s", report.TotalAmount, report.ServiceTotals["S-CS-1"])
	}

	body, err := fx.generator.GenerateBillingReport(context.Background(), "C-1", periodStart, periodEnd, domain.ReportFormatJSON)
	if err != nil {
		t.Fatalf("GenerateBillingReport: %v", err)
	}
	var doc struct {
		TotalAmount   string `json:"total_amount"`
		ServiceTotals map[string]struct {
			Amount string `json:"amount"`
		} `json:"service_totals"`
		Orders []struct {
			TotalAmount string `json:"total_amount"`
			Services    []struct {
				Amount string `json:"amount"`
			} `json:"services"`
		} `json:"orders"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("decode json report: %v", err)
	}
	sum := dec("0")
	for _, order := range doc.Orders {
		if order.TotalAmount != "0.33" || order.Services[0].Amount != "0.33" {
			t.Fatalf("expected order lines of 0.33, got %s", body)
		}
		sum = sum.Add(dec(order.TotalAmount))
	}
	if doc.TotalAmount != sum.StringFixed(2) || doc.ServiceTotals["S-CS-1"].Amount != sum.StringFixed(2) {
		t.Fatalf("expected totals to equal the sum of order lines %s, got %s", sum.StringFixed(2), body)
	}
}

func TestGenerateBillingReportIgnoresNotifierFailure(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.notifier.err = errors.New("topic unavailable")
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Labels", "1.00")}

	body, err := fx.generator.GenerateBillingReport(context.Background(), "C-1", periodStart, periodEnd, "")
	if err != nil {
		t.Fatalf("expected notifier failure to be ignored, got %v", err)
	}
	if !strings.Contains(body, `"total_amount": "0.00"`) {
		t.Fatalf("expected empty report body, got %s", body)
	}
}

func TestParseReportDate(t *testing.T) {
	start, err := ParseReportDate("2024-02-01", false)
	if err != nil || !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s (%v)", start, err)
	}
	end, err := ParseReportDate("2024-02-29", true)
	if err != nil || end.Day() != 29 || end.Hour() != 23 || end.Minute() != 59 {
		t.Fatalf("unexpected end %s (%v)", end, err)
	}
	ts, err := ParseReportDate("2024-02-01T10:00:00+02:00", true)
	if err != nil || !ts.Equal(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s (%v)", ts, err)
	}
	if _, err := ParseReportDate("01/02/2024", false); !errors.Is(err, ErrReportInvalidInput) {
		t.Fatalf("expected invalid date, got %v", err)
	}
}

type recordingExporter struct {
	format domain.ReportFormat
	body   string
	err    error
}

func (e *recordingExporter) Export(_ context.Context, report *domain.BillingReport, format domain.ReportFormat, body []byte) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.format, e.body = format, string(body)
	return "reports/" + report.CustomerID + "/" + report.ID + "." + format.Extension(), nil
}

func TestExportBillingReport(t *testing.T) {
	fx := newReportFixture(t, false)
	fx.store.services = []domain.CustomerService{quantityService("CS-1", "Labels", "1.00")}

	if _, _, err := fx.generator.ExportBillingReport(context.Background(), "C-1", periodStart, periodEnd, "csv"); !errors.Is(err, ErrExportUnavailable) {
		t.Fatalf("expected ErrExportUnavailable without exporter, got %v", err)
	}

	exporter := &recordingExporter{}
	fx.generator.exporter = exporter
	body, path, err := fx.generator.ExportBillingReport(context.Background(), "C-1", periodStart, periodEnd, "csv")
	if err != nil {
		t.Fatalf("ExportBillingReport: %v", err)
	}
	if path != "reports/C-1/RPT-1.csv" || exporter.body != body || exporter.format != domain.ReportFormatCSV {
		t.Fatalf("unexpected export path=%s format=%s", path, exporter.format)
	}
	if len(fx.notifier.events) != 1 {
		t.Fatalf("expected notification after export, got %d", len(fx.notifier.events))
	}

	exporter.err = errors.New("bucket gone")
	if _, _, err := fx.generator.ExportBillingReport(context.Background(), "C-1", periodStart, periodEnd, "json"); !errors.Is(err, exporter.err) {
		t.Fatalf("expected exporter error, got %v", err)
	}
	if len(fx.notifier.events) != 1 {
		t.Fatalf("failed exports must not notify")
	}
}
