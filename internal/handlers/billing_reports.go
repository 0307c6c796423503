package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/platform/httpx"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/services"
)

// BillingReportHandlers serves customer billing reports.
type BillingReportHandlers struct {
	reports       services.BillingReportService
	defaultFormat domain.ReportFormat
	limiter       rateLimiter
	logger        func(context.Context, string, map[string]any)
}

// BillingReportOption customises BillingReportHandlers.
type BillingReportOption func(*BillingReportHandlers)

// WithDefaultReportFormat sets the format used when the request omits ?format.
func WithDefaultReportFormat(format domain.ReportFormat) BillingReportOption {
	return func(h *BillingReportHandlers) {
		if format.Valid() {
			h.defaultFormat = format
		}
	}
}

// WithReportRateLimit caps report requests per customer. A non-positive limit disables it.
func WithReportRateLimit(limit int, window time.Duration, clock func() time.Time) BillingReportOption {
	return func(h *BillingReportHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// WithReportLogger sets the structured event logger.
func WithReportLogger(logger func(context.Context, string, map[string]any)) BillingReportOption {
	return func(h *BillingReportHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewBillingReportHandlers constructs the report handlers.
func NewBillingReportHandlers(reports services.BillingReportService, opts ...BillingReportOption) *BillingReportHandlers {
	h := &BillingReportHandlers{
		reports:       reports,
		defaultFormat: domain.ReportFormatJSON,
		logger:        func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the endpoints beneath /customers.
func (h *BillingReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{customerID}/billing-report", h.getReport)
}

type exportedReportResponse struct {
	CustomerID string `json:"customer_id"`
	Format     string `json:"format"`
	Object     string `json:"object"`
}

func (h *BillingReportHandlers) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "billing report service not available", http.StatusServiceUnavailable))
		return
	}

	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	query := r.URL.Query()

	start, err := services.ParseReportDate(query.Get("start"), false)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	end, err := services.ParseReportDate(query.Get("end"), true)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	format := h.defaultFormat
	if raw := strings.TrimSpace(query.Get("format")); raw != "" {
		format, err = services.ParseReportFormat(raw)
		if err != nil {
			writeReportError(ctx, w, err)
			return
		}
	}
	export := false
	if raw := strings.TrimSpace(query.Get("export")); raw != "" {
		export, err = strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "export must be a boolean"))
			return
		}
	}

	if h.limiter != nil && !h.limiter.Allow(customerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many report requests for this customer", http.StatusTooManyRequests))
		return
	}

	if export {
		_, object, err := h.reports.ExportBillingReport(ctx, customerID, start, end, format)
		if err != nil {
			h.logFailure(ctx, customerID, err)
			writeReportError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, exportedReportResponse{
			CustomerID: customerID,
			Format:     string(format),
			Object:     object,
		})
		return
	}

	body, err := h.reports.GenerateBillingReport(ctx, customerID, start, end, format)
	if err != nil {
		h.logFailure(ctx, customerID, err)
		writeReportError(ctx, w, err)
		return
	}
	if format == domain.ReportFormatCSV {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportFilename(customerID, start, end, format)))
	}
	httpx.WriteBody(w, http.StatusOK, format.ContentType(), body)
}

func (h *BillingReportHandlers) logFailure(ctx context.Context, customerID string, err error) {
	if errors.Is(err, services.ErrReportInvalidInput) {
		return
	}
	h.logger(ctx, "billing.report_request_failed", map[string]any{
		"customerId": customerID,
		"error":      err.Error(),
	})
}

func reportFilename(customerID string, start, end time.Time, format domain.ReportFormat) string {
	return fmt.Sprintf("billing_%s_%s_%s.%s", customerID, start.Format("20060102"), end.Format("20060102"), format.Extension())
}

func writeReportError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ReportValidationError
	switch {
	case errors.As(err, &validationErr):
		status := http.StatusBadRequest
		if validationErr.Code == services.ReportCustomerNotFound {
			status = http.StatusNotFound
		}
		httpx.WriteError(ctx, w, httpx.NewError(string(validationErr.Code), validationErr.Message, status))
	case errors.Is(err, services.ErrExportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "report export is not configured", http.StatusNotImplemented))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("report_timeout", "report generation timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "request canceled", 499))
	case repositories.IsUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "billing data store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to generate billing report", http.StatusInternalServerError))
	}
}
