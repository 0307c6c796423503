package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

const (
	serviceNamePickCost = "pick cost"
	serviceNameCasePick = "case pick"
	serviceNameSKUCost  = "sku cost"
)

// ServiceCostCalculator prices one customer service against one order.
type ServiceCostCalculator struct {
	customerServices repositories.CustomerServiceRepository
	products         repositories.ProductRepository
	logger           func(context.Context, string, map[string]any)
}

type ServiceCostCalculatorDeps struct {
	CustomerServices repositories.CustomerServiceRepository
	Products         repositories.ProductRepository
	Logger           func(context.Context, string, map[string]any)
}

func NewServiceCostCalculator(deps ServiceCostCalculatorDeps) (*ServiceCostCalculator, error) {
	if deps.CustomerServices == nil {
		return nil, errors.New("service cost calculator: customer service repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("service cost calculator: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ServiceCostCalculator{
		customerServices: deps.CustomerServices,
		products:         deps.Products,
		logger:           logger,
	}, nil
}

// CalculateServiceCost returns the billable amount of the service for the order. It never fails:
// problems are logged and price the service at zero.
func (c *ServiceCostCalculator) CalculateServiceCost(ctx context.Context, cs domain.CustomerService, order domain.Order) (cost decimal.Decimal) {
	defer func() {
		if r := recover(); r != nil {
			c.logger(ctx, "billing.service_cost_failed", map[string]any{
				"customerServiceId": cs.ID,
				"transactionId":     order.TransactionID,
				"error":             fmt.Sprint(r),
			})
			cost = decimal.Zero
		}
	}()

	if cs.UnitPrice == nil {
		c.logger(ctx, "billing.unit_price_missing", map[string]any{"customerServiceId": cs.ID})
		return decimal.Zero
	}
	price := *cs.UnitPrice

	switch cs.Service.ChargeType {
	case domain.ChargeTypeSingle:
		return price
	case domain.ChargeTypeQuantity:
		amount, err := c.quantityCost(ctx, cs, order, price)
		if err != nil {
			c.logger(ctx, "billing.service_cost_failed", map[string]any{
				"customerServiceId": cs.ID,
				"service":           cs.Service.Name,
				"transactionId":     order.TransactionID,
				"error":             err.Error(),
			})
			return decimal.Zero
		}
		return amount
	}

	c.logger(ctx, "billing.unknown_charge_type", map[string]any{
		"customerServiceId": cs.ID,
		"chargeType":        string(cs.Service.ChargeType),
	})
	return decimal.Zero
}

func (c *ServiceCostCalculator) quantityCost(ctx context.Context, cs domain.CustomerService, order domain.Order, price decimal.Decimal) (decimal.Decimal, error) {
	if assigned := normalizedSKUSet(cs.SKUs); len(assigned) > 0 {
		return c.assignedSKUCost(ctx, cs, order, price, assigned), nil
	}

	switch cases.Fold().String(strings.TrimSpace(cs.Service.Name)) {
	case serviceNamePickCost:
		return c.pickCost(ctx, cs, order, price, false)
	case serviceNameCasePick:
		return c.pickCost(ctx, cs, order, price, true)
	case serviceNameSKUCost:
		quantities := c.orderSKUs(ctx, order)
		return price.Mul(decimal.NewFromInt(int64(len(quantities)))), nil
	}

	quantity := int64(1)
	if order.TotalItemQty != nil {
		quantity = *order.TotalItemQty
	}
	return price.Mul(decimal.NewFromInt(quantity)), nil
}

// assignedSKUCost bills the summed quantity of the order lines whose SKU is assigned to the service.
func (c *ServiceCostCalculator) assignedSKUCost(ctx context.Context, cs domain.CustomerService, order domain.Order, price decimal.Decimal, assigned map[string]struct{}) decimal.Decimal {
	quantities := c.orderSKUs(ctx, order)
	if len(quantities) == 0 {
		return decimal.Zero
	}

	matched := make(SKUQuantities, len(assigned))
	for sku, qty := range quantities {
		if _, ok := assigned[sku]; ok {
			matched[sku] = qty
		}
	}
	if len(matched) == 0 {
		c.logger(ctx, "billing.sku_service_no_match", map[string]any{
			"customerServiceId": cs.ID,
			"transactionId":     order.TransactionID,
		})
		return decimal.Zero
	}

	quantity := matched.Total()
	cost := price.Mul(quantity)
	c.logger(ctx, "billing.sku_service_matched", map[string]any{
		"customerServiceId": cs.ID,
		"transactionId":     order.TransactionID,
		"matchedSkus":       matched.SKUs(),
		"quantity":          quantity.String(),
		"cost":              cost.String(),
	})
	return cost
}

// pickCost bills picks for the SKUs no SKU-scoped quantity service has claimed. Case picks bill
// whole cases; pick cost bills the units left outside whole cases, or every unit when the case
// size is unknown.
func (c *ServiceCostCalculator) pickCost(ctx context.Context, cs domain.CustomerService, order domain.Order, price decimal.Decimal, casePick bool) (decimal.Decimal, error) {
	customerID := order.CustomerID
	if customerID == "" {
		customerID = cs.CustomerID
	}

	scoped, err := c.customerServices.ListByChargeType(ctx, customerID, domain.ChargeTypeQuantity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list quantity services: %w", err)
	}
	excluded := make(map[string]struct{})
	for _, other := range scoped {
		for sku := range normalizedSKUSet(other.SKUs) {
			excluded[sku] = struct{}{}
		}
	}

	quantities := c.orderSKUs(ctx, order)
	total := decimal.Zero
	for _, sku := range quantities.SKUs() {
		if _, claimed := excluded[sku]; claimed {
			continue
		}
		product, err := c.products.FindBySKU(ctx, sku, customerID)
		if err != nil {
			if repositories.IsNotFound(err) {
				c.logger(ctx, "billing.product_missing", map[string]any{
					"sku":        sku,
					"customerId": customerID,
				})
				continue
			}
			return decimal.Zero, fmt.Errorf("find product %s: %w", sku, err)
		}

		qty := quantities[sku]
		size, hasCase := product.CaseSize()
		caseSize := decimal.NewFromInt(size)
		switch {
		case casePick && hasCase:
			if fullCases := qty.Div(caseSize).Floor(); fullCases.IsPositive() {
				total = total.Add(price.Mul(fullCases))
			}
		case casePick:
		case hasCase:
			if remaining := qty.Mod(caseSize); remaining.IsPositive() {
				total = total.Add(price.Mul(remaining))
			}
		default:
			total = total.Add(price.Mul(qty))
		}
	}

	c.logger(ctx, "billing.pick_cost_calculated", map[string]any{
		"customerServiceId": cs.ID,
		"transactionId":     order.TransactionID,
		"excludedSkus":      len(excluded),
		"cost":              total.String(),
	})
	return total, nil
}

// orderSKUs reads the order payload leniently, logging skipped entries.
func (c *ServiceCostCalculator) orderSKUs(ctx context.Context, order domain.Order) SKUQuantities {
	quantities, issues, err := DecodeSKUQuantities(order.SKUQuantity)
	if err != nil {
		c.logger(ctx, "billing.sku_quantity_invalid", map[string]any{
			"transactionId": order.TransactionID,
			"error":         err.Error(),
		})
		return SKUQuantities{}
	}
	for _, issue := range issues {
		c.logger(ctx, "billing.sku_entry_skipped", map[string]any{
			"transactionId": order.TransactionID,
			"index":         issue.Index,
			"sku":           issue.SKU,
			"reason":        issue.Reason,
		})
	}
	return quantities
}

func normalizedSKUSet(skus []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		if normalized := NormalizeSKU(sku); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}
