package storage

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/ledgerlink/billing/internal/domain"
)

const periodLayout = "20060102"

// ReportPathParams identify an exported report object.
type ReportPathParams struct {
	CustomerID string
	ReportID   string
	Period     domain.DateRange
	Format     domain.ReportFormat
}

// BuildReportPath returns reports/{customerID}/{start}_{end}/{reportID}.{ext}. Period bounds are
// rendered as UTC calendar dates.
func BuildReportPath(params ReportPathParams) (string, error) {
	customerID, err := validateSegment("customerID", params.CustomerID)
	if err != nil {
		return "", err
	}
	reportID, err := validateSegment("reportID", params.ReportID)
	if err != nil {
		return "", err
	}
	if params.Period.Start.IsZero() || params.Period.End.IsZero() {
		return "", fmt.Errorf("storage: report period is required")
	}
	if !params.Format.Valid() {
		return "", fmt.Errorf("storage: unsupported report format %q", params.Format)
	}
	return fmt.Sprintf("reports/%s/%s_%s/%s.%s",
		customerID,
		formatDay(params.Period.Start),
		formatDay(params.Period.End),
		reportID,
		params.Format.Extension(),
	), nil
}

func formatDay(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
