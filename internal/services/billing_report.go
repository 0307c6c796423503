package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

const (
	billingInstrumentationName = "github.com/ledgerlink/billing/internal/services"
	billedAmountPlaces         = 2
)

// ErrExportUnavailable is returned by ExportBillingReport when no exporter is configured.
var ErrExportUnavailable = errors.New("billing report: export is not configured")

// ErrReportInvalidInput signals a report request that cannot be generated as asked.
var ErrReportInvalidInput = errors.New("billing report: invalid input")

// ReportValidationCode identifies why a report request was rejected.
type ReportValidationCode string

const (
	ReportCustomerRequired ReportValidationCode = "customer_required"
	ReportCustomerNotFound ReportValidationCode = "customer_not_found"
	ReportInvalidRange     ReportValidationCode = "invalid_date_range"
	ReportNoServices       ReportValidationCode = "no_services"
	ReportInvalidFormat    ReportValidationCode = "invalid_format"
)

// ReportValidationError aborts report generation before any order is processed.
type ReportValidationError struct {
	Code    ReportValidationCode
	Message string
}

func (e *ReportValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: %s", ErrReportInvalidInput, e.Message)
}

func (e *ReportValidationError) Unwrap() error {
	return ErrReportInvalidInput
}

func reportInvalid(code ReportValidationCode, format string, args ...any) error {
	return &ReportValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// OrderProcessingError describes an order skipped during report generation.
type OrderProcessingError struct {
	TransactionID string
	Err           error
}

func (e *OrderProcessingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("billing report: order %s: %v", e.TransactionID, e.Err)
}

func (e *OrderProcessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BillingReportGenerator orchestrates rule evaluation and service costing over a customer's
// closed orders. Each call owns its report; the generator itself holds no mutable state.
type BillingReportGenerator struct {
	customers        repositories.CustomerRepository
	orders           repositories.OrderRepository
	customerServices repositories.CustomerServiceRepository
	ruleGroups       repositories.RuleGroupRepository
	evaluator        *RuleEvaluator
	costs            *ServiceCostCalculator
	advanced         *AdvancedRuleEngine
	applyAdvanced    bool
	notifier         ReportNotifier
	exporter         ReportExporter
	tracer           trace.Tracer
	processed        metric.Int64Counter
	skipped          metric.Int64Counter
	newID            func() string
	now              func() time.Time
	logger           func(context.Context, string, map[string]any)
}

type BillingReportGeneratorDeps struct {
	Customers        repositories.CustomerRepository
	Orders           repositories.OrderRepository
	CustomerServices repositories.CustomerServiceRepository
	RuleGroups       repositories.RuleGroupRepository
	Evaluator        *RuleEvaluator
	Costs            *ServiceCostCalculator
	// Advanced is required when ApplyAdvancedAdjustments is set.
	Advanced                 *AdvancedRuleEngine
	ApplyAdvancedAdjustments bool
	Notifier                 ReportNotifier
	// Exporter is optional; without it ExportBillingReport returns ErrExportUnavailable.
	Exporter    ReportExporter
	Tracer      trace.Tracer
	Meter       metric.Meter
	IDGenerator func() string
	Now         func() time.Time
	Logger      func(context.Context, string, map[string]any)
}

func NewBillingReportGenerator(deps BillingReportGeneratorDeps) (*BillingReportGenerator, error) {
	switch {
	case deps.Customers == nil:
		return nil, errors.New("billing report generator: customer repository is required")
	case deps.Orders == nil:
		return nil, errors.New("billing report generator: order repository is required")
	case deps.CustomerServices == nil:
		return nil, errors.New("billing report generator: customer service repository is required")
	case deps.RuleGroups == nil:
		return nil, errors.New("billing report generator: rule group repository is required")
	case deps.Costs == nil:
		return nil, errors.New("billing report generator: service cost calculator is required")
	case deps.ApplyAdvancedAdjustments && deps.Advanced == nil:
		return nil, errors.New("billing report generator: advanced rule engine is required for advanced adjustments")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = NewRuleEvaluator(RuleEvaluatorDeps{Logger: logger})
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(billingInstrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(billingInstrumentationName)
	}

	processed, err := meter.Int64Counter(
		"billing.orders.processed",
		metric.WithDescription("Orders priced into billing reports"),
	)
	if err != nil {
		logger(context.Background(), "billing.metric_register_failed", map[string]any{"metric": "billing.orders.processed", "error": err.Error()})
	}
	skipped, err := meter.Int64Counter(
		"billing.orders.skipped",
		metric.WithDescription("Orders skipped during billing report generation"),
	)
	if err != nil {
		logger(context.Background(), "billing.metric_register_failed", map[string]any{"metric": "billing.orders.skipped", "error": err.Error()})
	}

	return &BillingReportGenerator{
		customers:        deps.Customers,
		orders:           deps.Orders,
		customerServices: deps.CustomerServices,
		ruleGroups:       deps.RuleGroups,
		evaluator:        evaluator,
		costs:            deps.Costs,
		advanced:         deps.Advanced,
		applyAdvanced:    deps.ApplyAdvancedAdjustments,
		notifier:         deps.Notifier,
		exporter:         deps.Exporter,
		tracer:           tracer,
		processed:        processed,
		skipped:          skipped,
		newID:            newID,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Generate builds the billing report for orders closed inside the inclusive range. A cancelled
// context discards the partial report.
func (g *BillingReportGenerator) Generate(ctx context.Context, customerID string, start, end time.Time) (report *domain.BillingReport, err error) {
	ctx, span := g.tracer.Start(ctx, "billing.generate_report", trace.WithAttributes(
		attribute.String("billing.customer_id", customerID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	customerID = strings.TrimSpace(customerID)
	customer, services, err := g.validate(ctx, customerID, start, end)
	if err != nil {
		return nil, err
	}

	period := domain.DateRange{Start: start.UTC(), End: end.UTC()}
	orders, err := g.orders.ListClosedBetween(ctx, customerID, period)
	if err != nil {
		return nil, fmt.Errorf("billing report: list orders: %w", err)
	}

	groups := make(map[string][]domain.RuleGroup, len(services))
	for _, cs := range services {
		list, err := g.ruleGroups.ListByCustomerService(ctx, cs.ID)
		if err != nil {
			return nil, fmt.Errorf("billing report: list rule groups for %s: %w", cs.ID, err)
		}
		groups[cs.ID] = list
	}

	report = domain.NewBillingReport(g.newID(), customerID, period, g.now())
	report.CustomerName = customer.Name

	if len(orders) == 0 {
		g.logger(ctx, "billing.report_no_orders", map[string]any{"customerId": customerID})
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			g.logger(ctx, "billing.report_cancelled", map[string]any{
				"customerId": customerID,
				"reportId":   report.ID,
				"error":      err.Error(),
			})
			return nil, err
		}

		orderCost, err := g.processOrder(ctx, order, services, groups)
		if err != nil {
			g.logger(ctx, "billing.order_skipped", map[string]any{
				"customerId":    customerID,
				"transactionId": order.TransactionID,
				"error":         err.Error(),
			})
			report.SkippedOrders = append(report.SkippedOrders, domain.SkippedOrder{
				OrderID: order.TransactionID,
				Reason:  err.Error(),
			})
			g.count(ctx, g.skipped, customerID)
			continue
		}
		report.AddOrderCost(orderCost)
		g.count(ctx, g.processed, customerID)
	}

	span.SetAttributes(
		attribute.Int("billing.orders", len(report.OrderCosts)),
		attribute.Int("billing.orders_skipped", len(report.SkippedOrders)),
		attribute.String("billing.total_amount", report.TotalAmount.StringFixed(2)),
	)
	g.logger(ctx, "billing.report_generated", map[string]any{
		"customerId": customerID,
		"reportId":   report.ID,
		"orders":     len(report.OrderCosts),
		"skipped":    len(report.SkippedOrders),
		"total":      report.TotalAmount.StringFixed(2),
	})
	return report, nil
}

// GenerateBillingReport generates the report and serialises it. An empty format means JSON.
func (g *BillingReportGenerator) GenerateBillingReport(ctx context.Context, customerID string, start, end time.Time, format domain.ReportFormat) (string, error) {
	format, err := ParseReportFormat(string(format))
	if err != nil {
		return "", err
	}
	report, err := g.Generate(ctx, customerID, start, end)
	if err != nil {
		return "", err
	}
	body, err := RenderReport(report, format)
	if err != nil {
		return "", err
	}
	g.notify(ctx, report, format)
	return body, nil
}

// ExportBillingReport generates and serialises the report, then hands it to the exporter. It
// returns the serialised body and the exported object path.
func (g *BillingReportGenerator) ExportBillingReport(ctx context.Context, customerID string, start, end time.Time, format domain.ReportFormat) (body string, path string, err error) {
	if g.exporter == nil {
		return "", "", ErrExportUnavailable
	}
	format, err = ParseReportFormat(string(format))
	if err != nil {
		return "", "", err
	}
	report, err := g.Generate(ctx, customerID, start, end)
	if err != nil {
		return "", "", err
	}
	body, err = RenderReport(report, format)
	if err != nil {
		return "", "", err
	}
	path, err = g.exporter.Export(ctx, report, format, []byte(body))
	if err != nil {
		return "", "", fmt.Errorf("billing report: export %s: %w", report.ID, err)
	}
	g.notify(ctx, report, format)
	return body, path, nil
}

func (g *BillingReportGenerator) validate(ctx context.Context, customerID string, start, end time.Time) (domain.Customer, []domain.CustomerService, error) {
	if customerID == "" {
		return domain.Customer{}, nil, reportInvalid(ReportCustomerRequired, "customer id is required")
	}
	customer, err := g.customers.FindByID(ctx, customerID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Customer{}, nil, reportInvalid(ReportCustomerNotFound, "customer with id %s not found", customerID)
		}
		return domain.Customer{}, nil, fmt.Errorf("billing report: find customer: %w", err)
	}
	if start.After(end) {
		return domain.Customer{}, nil, reportInvalid(ReportInvalidRange, "start date must be before or equal to end date")
	}
	services, err := g.customerServices.ListByCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, nil, fmt.Errorf("billing report: list customer services: %w", err)
	}
	if len(services) == 0 {
		return domain.Customer{}, nil, reportInvalid(ReportNoServices, "no services found for customer %s", customerID)
	}
	return customer, services, nil
}

func (g *BillingReportGenerator) processOrder(ctx context.Context, order domain.Order, services []domain.CustomerService, groups map[string][]domain.RuleGroup) (cost domain.OrderCost, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &OrderProcessingError{TransactionID: order.TransactionID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if _, _, decodeErr := DecodeSKUQuantities(order.SKUQuantity); decodeErr != nil {
		return domain.OrderCost{}, &OrderProcessingError{TransactionID: order.TransactionID, Err: decodeErr}
	}

	cost = domain.OrderCost{OrderID: order.TransactionID, Total: decimal.Zero}
	appliedSingles := make(map[string]struct{})
	for _, cs := range services {
		single := cs.Service.ChargeType == domain.ChargeTypeSingle
		if _, done := appliedSingles[cs.Service.ID]; single && done {
			continue
		}

		matched, applies := g.applicableGroup(ctx, groups[cs.ID], order)
		if !applies {
			continue
		}

		amount := g.costs.CalculateServiceCost(ctx, cs, order)
		if g.applyAdvanced && matched != nil {
			amount = g.adjust(ctx, *matched, order, amount)
		}

		// Lines are billed in whole cents and every total is the sum of billed lines.
		cost.AddServiceCost(domain.ServiceCost{
			ServiceID:   cs.Service.ID,
			ServiceName: cs.Service.Name,
			Amount:      amount.Round(billedAmountPlaces),
		})
		if single {
			appliedSingles[cs.Service.ID] = struct{}{}
		}
	}
	return cost, nil
}

// applicableGroup reports whether a service applies to the order: services without rule groups
// always apply, otherwise the first matching group is returned.
func (g *BillingReportGenerator) applicableGroup(ctx context.Context, groups []domain.RuleGroup, order domain.Order) (*domain.RuleGroup, bool) {
	if len(groups) == 0 {
		return nil, true
	}
	for i := range groups {
		if g.evaluator.EvaluateRuleGroup(ctx, groups[i], order) {
			return &groups[i], true
		}
	}
	return nil, false
}

func (g *BillingReportGenerator) adjust(ctx context.Context, group domain.RuleGroup, order domain.Order, amount decimal.Decimal) decimal.Decimal {
	for _, rule := range group.Rules {
		adjusted, applied := g.advanced.Adjust(ctx, rule, order, amount)
		if !applied {
			continue
		}
		g.logger(ctx, "billing.advanced_adjustment", map[string]any{
			"ruleId":        rule.ID,
			"transactionId": order.TransactionID,
			"from":          amount.String(),
			"to":            adjusted.String(),
		})
		amount = adjusted
	}
	return amount
}

func (g *BillingReportGenerator) notify(ctx context.Context, report *domain.BillingReport, format domain.ReportFormat) {
	if g.notifier == nil {
		return
	}
	event := domain.ReportGeneratedEvent{
		ReportID:      report.ID,
		CustomerID:    report.CustomerID,
		Format:        format,
		Period:        report.Period,
		OrderCount:    len(report.OrderCosts),
		SkippedOrders: len(report.SkippedOrders),
		TotalAmount:   report.TotalAmount,
		GeneratedAt:   report.GeneratedAt,
	}
	if err := g.notifier.NotifyReportGenerated(ctx, event); err != nil {
		g.logger(ctx, "billing.report_notify_failed", map[string]any{
			"reportId": report.ID,
			"error":    err.Error(),
		})
	}
}

func (g *BillingReportGenerator) count(ctx context.Context, counter metric.Int64Counter, customerID string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("customer_id", customerID)))
}
