package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

const orderColumns = `transaction_id, customer_id, close_date, reference_number, ship_to_name,
	ship_to_company, ship_to_address, ship_to_address2, ship_to_city, ship_to_state, ship_to_zip,
	ship_to_country, carrier, notes, weight_lb, volume_cuft, line_items, total_item_qty, packages,
	sku_quantity`

const customerServiceQuery = `SELECT cs.id, cs.customer_id, cs.unit_price, s.id, s.name, s.charge_type
	FROM customer_services cs
	JOIN services s ON s.id = cs.service_id
	WHERE cs.customer_id = ?`

const productColumns = `sku, customer_id,
	labeling_unit_1, labeling_quantity_1, labeling_unit_2, labeling_quantity_2,
	labeling_unit_3, labeling_quantity_3, labeling_unit_4, labeling_quantity_4,
	labeling_unit_5, labeling_quantity_5`

func (s *Store) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	const op = "sqlstore.customers.find"
	var customer domain.Customer
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name FROM customers WHERE id = ?`), strings.TrimSpace(customerID))
	if err := row.Scan(&customer.ID, &customer.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, repositories.NotFound(op, "customer "+customerID+" not found")
		}
		return domain.Customer{}, wrapError(op, err)
	}
	return customer, nil
}

func (s *Store) ListClosedBetween(ctx context.Context, customerID string, period domain.DateRange) ([]domain.Order, error) {
	const op = "sqlstore.orders.list_closed"
	query := s.rebind(`SELECT ` + orderColumns + ` FROM orders
	WHERE customer_id = ? AND close_date >= ? AND close_date <= ?
	ORDER BY close_date, transaction_id`)

	rows, err := s.db.QueryContext(ctx, query, customerID, s.timeArg(period.Start), s.timeArg(period.End))
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, corrupt(op, "decode order", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return orders, nil
}

func scanOrder(rows *sql.Rows) (domain.Order, error) {
	var (
		order                                             domain.Order
		closeDate                                         nullTime
		reference, name, company, address, address2, city sql.NullString
		state, zip, country, carrier, notes, skuQuantity  sql.NullString
		weight, volume                                    decimal.NullDecimal
		lineItems, totalQty, packages                     sql.NullInt64
	)
	if err := rows.Scan(
		&order.TransactionID, &order.CustomerID, &closeDate, &reference, &name,
		&company, &address, &address2, &city, &state, &zip,
		&country, &carrier, &notes, &weight, &volume, &lineItems, &totalQty, &packages,
		&skuQuantity,
	); err != nil {
		return domain.Order{}, err
	}
	order.CloseDate = closeDate.ptr()
	order.ReferenceNumber = stringPtr(reference)
	order.ShipToName = stringPtr(name)
	order.ShipToCompany = stringPtr(company)
	order.ShipToAddress = stringPtr(address)
	order.ShipToAddress2 = stringPtr(address2)
	order.ShipToCity = stringPtr(city)
	order.ShipToState = stringPtr(state)
	order.ShipToZip = stringPtr(zip)
	order.ShipToCountry = stringPtr(country)
	order.Carrier = stringPtr(carrier)
	order.Notes = stringPtr(notes)
	order.WeightLb = decimalPtr(weight)
	order.VolumeCuft = decimalPtr(volume)
	order.LineItems = int64Ptr(lineItems)
	order.TotalItemQty = int64Ptr(totalQty)
	order.Packages = int64Ptr(packages)
	if skuQuantity.Valid {
		order.SKUQuantity = skuQuantity.String
	}
	return order, nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]domain.CustomerService, error) {
	return s.listCustomerServices(ctx, "sqlstore.customer_services.list", customerServiceQuery+` ORDER BY cs.id`, customerID)
}

func (s *Store) ListByChargeType(ctx context.Context, customerID string, chargeType domain.ChargeType) ([]domain.CustomerService, error) {
	return s.listCustomerServices(ctx, "sqlstore.customer_services.list_by_charge_type",
		customerServiceQuery+` AND s.charge_type = ? ORDER BY cs.id`, customerID, string(chargeType))
}

func (s *Store) listCustomerServices(ctx context.Context, op, query string, args ...any) ([]domain.CustomerService, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var (
		services []domain.CustomerService
		index    = make(map[string]int)
	)
	for rows.Next() {
		var (
			cs         domain.CustomerService
			price      decimal.NullDecimal
			chargeType string
		)
		if err := rows.Scan(&cs.ID, &cs.CustomerID, &price, &cs.Service.ID, &cs.Service.Name, &chargeType); err != nil {
			_ = rows.Close()
			return nil, corrupt(op, "decode customer service", err)
		}
		cs.UnitPrice = decimalPtr(price)
		cs.Service.ChargeType = domain.ChargeType(strings.ToLower(strings.TrimSpace(chargeType)))
		index[cs.ID] = len(services)
		services = append(services, cs)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, wrapError(op, err)
	}
	if len(services) == 0 {
		return services, nil
	}

	customerID, _ := args[0].(string)
	skuRows, err := s.db.QueryContext(ctx, s.rebind(`SELECT k.customer_service_id, k.sku
	FROM customer_service_skus k
	JOIN customer_services cs ON cs.id = k.customer_service_id
	WHERE cs.customer_id = ?
	ORDER BY k.customer_service_id, k.sku`), customerID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer func() { _ = skuRows.Close() }()
	for skuRows.Next() {
		var csID, sku string
		if err := skuRows.Scan(&csID, &sku); err != nil {
			return nil, corrupt(op, "decode assigned sku", err)
		}
		if i, ok := index[csID]; ok {
			services[i].SKUs = append(services[i].SKUs, sku)
		}
	}
	if err := skuRows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return services, nil
}

func (s *Store) ListByCustomerService(ctx context.Context, customerServiceID string) ([]domain.RuleGroup, error) {
	const op = "sqlstore.rule_groups.list"
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, customer_service_id, logic_operator
	FROM rule_groups WHERE customer_service_id = ? ORDER BY id`), customerServiceID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var (
		groups []domain.RuleGroup
		index  = make(map[string]int)
	)
	for rows.Next() {
		var (
			group domain.RuleGroup
			logic sql.NullString
		)
		if err := rows.Scan(&group.ID, &group.CustomerServiceID, &logic); err != nil {
			_ = rows.Close()
			return nil, corrupt(op, "decode rule group", err)
		}
		group.LogicOperator = domain.NormalizeLogicOperator(logic.String)
		index[group.ID] = len(groups)
		groups = append(groups, group)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, wrapError(op, err)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	ruleRows, err := s.db.QueryContext(ctx, s.rebind(`SELECT r.id, r.rule_group_id, r.field, r.operator, r.value,
	r.adjustment_amount, r.conditions, r.calculations
	FROM rules r
	JOIN rule_groups g ON g.id = r.rule_group_id
	WHERE g.customer_service_id = ?
	ORDER BY r.rule_group_id, r.id`), customerServiceID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer func() { _ = ruleRows.Close() }()
	for ruleRows.Next() {
		var (
			rule                     domain.Rule
			field, operator          string
			adjustment               decimal.NullDecimal
			conditions, calculations sql.NullString
		)
		if err := ruleRows.Scan(&rule.ID, &rule.RuleGroupID, &field, &operator, &rule.Value,
			&adjustment, &conditions, &calculations); err != nil {
			return nil, corrupt(op, "decode rule", err)
		}
		rule.Field = domain.RuleField(strings.TrimSpace(field))
		rule.Operator = domain.RuleOperator(strings.TrimSpace(operator))
		rule.AdjustmentAmount = decimalPtr(adjustment)
		advanced, err := repositories.DecodeAdvanced([]byte(conditions.String), []byte(calculations.String))
		if err != nil {
			return nil, corrupt(op, "decode advanced rule "+rule.ID, err)
		}
		rule.Advanced = advanced
		if i, ok := index[rule.RuleGroupID]; ok {
			groups[i].Rules = append(groups[i].Rules, rule)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return groups, nil
}

func (s *Store) FindBySKU(ctx context.Context, sku, customerID string) (domain.Product, error) {
	const op = "sqlstore.products.find"
	normalized := domain.NormalizeSKU(sku)
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+productColumns+` FROM products WHERE customer_id = ? AND sku = ?`),
		strings.TrimSpace(customerID), normalized)

	var (
		product    domain.Product
		units      [5]sql.NullString
		quantities [5]sql.NullInt64
	)
	dest := []any{&product.SKU, &product.CustomerID}
	for i := range units {
		dest = append(dest, &units[i], &quantities[i])
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, repositories.NotFound(op, "product "+normalized+" not found")
		}
		return domain.Product{}, wrapError(op, err)
	}
	for i := range units {
		if !units[i].Valid && !quantities[i].Valid {
			break
		}
		product.Labeling = append(product.Labeling, domain.ProductLabeling{
			Unit:     units[i].String,
			Quantity: int64Ptr(quantities[i]),
		})
	}
	return product, nil
}
