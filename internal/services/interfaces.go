package services

import (
	"context"
	"encoding/json"
	"time"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// BillingReportService produces billing reports for a customer and close-date range.
type BillingReportService interface {
	// Generate builds the in-memory report. Only input validation failures are returned as errors
	// (wrapping ErrReportInvalidInput), besides repository failures and context cancellation.
	Generate(ctx context.Context, customerID string, start, end time.Time) (*domain.BillingReport, error)
	// GenerateBillingReport builds and serialises the report in the requested format.
	GenerateBillingReport(ctx context.Context, customerID string, start, end time.Time, format domain.ReportFormat) (string, error)
	// ExportBillingReport additionally stores the serialised report and returns its object path.
	ExportBillingReport(ctx context.Context, customerID string, start, end time.Time, format domain.ReportFormat) (string, string, error)
}

// RuleToolingService backs the rule editor endpoints.
type RuleToolingService interface {
	ValidateRule(rule domain.Rule) error
	ValidateConditions(raw json.RawMessage) error
	ValidateCalculations(raw json.RawMessage) error
	ValidateAdvancedRule(rule domain.Rule) error
	OperatorChoices(field string) []domain.RuleOperatorInfo
	ConditionOperators() []domain.ConditionOperator
	AvailableFields() []domain.RuleFieldInfo
	CalculationTypes() []domain.CalculationTypeInfo
	ConditionsSchema() json.RawMessage
	CalculationsSchema() json.RawMessage
}

// ReportNotifier announces generated reports. Failures never fail the report.
type ReportNotifier interface {
	NotifyReportGenerated(ctx context.Context, event domain.ReportGeneratedEvent) error
}

// ReportExporter persists a serialised report and returns its object path.
type ReportExporter interface {
	Export(ctx context.Context, report *domain.BillingReport, format domain.ReportFormat, body []byte) (string, error)
}

// SystemService exposes health information for readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

var (
	_ BillingReportService = (*BillingReportGenerator)(nil)
	_ RuleToolingService   = (*RuleValidator)(nil)
)
