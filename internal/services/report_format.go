package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/ledgerlink/billing/internal/domain"
)

const reportDateLayout = "2006-01-02"

var csvHeader = []string{"Order ID", "Service ID", "Service Name", "Amount"}

// ParseReportFormat normalises a requested format. Blank means JSON.
func ParseReportFormat(raw string) (domain.ReportFormat, error) {
	format := domain.ReportFormat(strings.ToLower(strings.TrimSpace(raw)))
	if format == "" {
		return domain.ReportFormatJSON, nil
	}
	if !format.Valid() {
		return "", reportInvalid(ReportInvalidFormat, "unsupported report format %q", raw)
	}
	return format, nil
}

// ParseReportDate accepts RFC 3339 timestamps or calendar dates. A calendar date used as the end
// of a range covers the whole day.
func ParseReportDate(raw string, endOfDay bool) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, reportInvalid(ReportInvalidRange, "date is required")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(reportDateLayout, value)
	if err != nil {
		return time.Time{}, reportInvalid(ReportInvalidRange, "invalid date %q: expected YYYY-MM-DD or RFC 3339", raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

type reportDocument struct {
	ReportID      string                          `json:"report_id,omitempty"`
	CustomerID    string                          `json:"customer_id"`
	StartDate     string                          `json:"start_date"`
	EndDate       string                          `json:"end_date"`
	Orders        []orderDocument                 `json:"orders"`
	ServiceTotals map[string]serviceTotalDocument `json:"service_totals"`
	TotalAmount   string                          `json:"total_amount"`
	SkippedOrders []skippedOrderDocument          `json:"skipped_orders,omitempty"`
}

type orderDocument struct {
	OrderID     string                `json:"order_id"`
	Services    []serviceCostDocument `json:"services"`
	TotalAmount string                `json:"total_amount"`
}

type serviceCostDocument struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Amount      string `json:"amount"`
}

type serviceTotalDocument struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type skippedOrderDocument struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// RenderReport serialises the report. Amounts are rendered with two decimal places; lines are
// already rounded to cents, so the rendered totals equal the sum of the rendered lines.
func RenderReport(report *domain.BillingReport, format domain.ReportFormat) (string, error) {
	if report == nil {
		return "", fmt.Errorf("render report: report is nil")
	}
	switch format {
	case domain.ReportFormatJSON, "":
		return renderReportJSON(report)
	case domain.ReportFormatCSV:
		return renderReportCSV(report)
	}
	return "", reportInvalid(ReportInvalidFormat, "unsupported report format %q", string(format))
}

func renderReportJSON(report *domain.BillingReport) (string, error) {
	doc := reportDocument{
		ReportID:      report.ID,
		CustomerID:    report.CustomerID,
		StartDate:     report.Period.Start.Format(time.RFC3339),
		EndDate:       report.Period.End.Format(time.RFC3339),
		Orders:        make([]orderDocument, 0, len(report.OrderCosts)),
		ServiceTotals: make(map[string]serviceTotalDocument, len(report.ServiceTotals)),
		TotalAmount:   report.TotalAmount.StringFixed(2),
	}
	for _, order := range report.OrderCosts {
		entry := orderDocument{
			OrderID:     order.OrderID,
			Services:    make([]serviceCostDocument, 0, len(order.ServiceCosts)),
			TotalAmount: order.Total.StringFixed(2),
		}
		for _, cost := range order.ServiceCosts {
			entry.Services = append(entry.Services, serviceCostDocument{
				ServiceID:   cost.ServiceID,
				ServiceName: cost.ServiceName,
				Amount:      cost.Amount.StringFixed(2),
			})
		}
		doc.Orders = append(doc.Orders, entry)
	}
	for serviceID, amount := range report.ServiceTotals {
		name := report.ServiceNames[serviceID]
		if name == "" {
			name = "Service " + serviceID
		}
		doc.ServiceTotals[serviceID] = serviceTotalDocument{Name: name, Amount: amount.StringFixed(2)}
	}
	for _, skipped := range report.SkippedOrders {
		doc.SkippedOrders = append(doc.SkippedOrders, skippedOrderDocument{OrderID: skipped.OrderID, Reason: skipped.Reason})
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return string(body), nil
}

func renderReportCSV(report *domain.BillingReport) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	for _, order := range report.OrderCosts {
		for _, cost := range order.ServiceCosts {
			record := []string{order.OrderID, cost.ServiceID, cost.ServiceName, cost.Amount.StringFixed(2)}
			if err := w.Write(record); err != nil {
				return "", fmt.Errorf("render report: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
