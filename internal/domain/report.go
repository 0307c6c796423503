package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportFormat selects the serialization of a billing report.
type ReportFormat string

const (
	ReportFormatJSON ReportFormat = "json"
	ReportFormatCSV  ReportFormat = "csv"
)

// Valid reports whether the format is supported.
func (f ReportFormat) Valid() bool {
	return f == ReportFormatJSON || f == ReportFormatCSV
}

// Extension returns the file extension used when exporting the format.
func (f ReportFormat) Extension() string {
	if f == ReportFormatCSV {
		return "csv"
	}
	return "json"
}

// ContentType returns the MIME type of the serialized format.
func (f ReportFormat) ContentType() string {
	if f == ReportFormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// ServiceCost is the amount billed for one service on one order.
type ServiceCost struct {
	ServiceID   string
	ServiceName string
	Amount      decimal.Decimal
}

// OrderCost collects the service charges of a single order.
type OrderCost struct {
	OrderID      string
	ServiceCosts []ServiceCost
	Total        decimal.Decimal
}

// AddServiceCost appends a charge and keeps the order total in sync.
func (o *OrderCost) AddServiceCost(cost ServiceCost) {
	o.ServiceCosts = append(o.ServiceCosts, cost)
	o.Total = o.Total.Add(cost.Amount)
}

// SkippedOrder records an order excluded from a report because it could not be processed.
type SkippedOrder struct {
	OrderID string
	Reason  string
}

// BillingReport aggregates per-order and per-service charges for a customer over a period.
type BillingReport struct {
	ID            string
	CustomerID    string
	CustomerName  string
	Period        DateRange
	OrderCosts    []OrderCost
	ServiceTotals map[string]decimal.Decimal
	ServiceNames  map[string]string
	TotalAmount   decimal.Decimal
	SkippedOrders []SkippedOrder
	GeneratedAt   time.Time
}

// NewBillingReport returns an empty report with zero totals.
func NewBillingReport(id, customerID string, period DateRange, generatedAt time.Time) *BillingReport {
	return &BillingReport{
		ID:            id,
		CustomerID:    customerID,
		Period:        period,
		ServiceTotals: make(map[string]decimal.Decimal),
		ServiceNames:  make(map[string]string),
		TotalAmount:   decimal.Zero,
		GeneratedAt:   generatedAt,
	}
}

// AddOrderCost folds an order's charges into the report totals.
func (r *BillingReport) AddOrderCost(order OrderCost) {
	r.OrderCosts = append(r.OrderCosts, order)
	for _, cost := range order.ServiceCosts {
		r.ServiceTotals[cost.ServiceID] = r.ServiceTotals[cost.ServiceID].Add(cost.Amount)
		if _, ok := r.ServiceNames[cost.ServiceID]; !ok {
			r.ServiceNames[cost.ServiceID] = cost.ServiceName
		}
	}
	r.TotalAmount = r.TotalAmount.Add(order.Total)
}

// ReportGeneratedEvent announces a completed billing report to downstream consumers.
type ReportGeneratedEvent struct {
	ReportID      string
	CustomerID    string
	Format        ReportFormat
	Period        DateRange
	OrderCount    int
	SkippedOrders int
	TotalAmount   decimal.Decimal
	GeneratedAt   time.Time
}
