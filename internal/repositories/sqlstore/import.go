package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories/fixture"
)

// Import writes a fixture dataset in a single transaction. It is used to seed SQLite databases
// for local runs and tests; existing rows with the same keys cause a conflict error.
func (s *Store) Import(ctx context.Context, ds fixture.Dataset) (err error) {
	const op = "sqlstore.import"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exec := func(query string, args ...any) error {
		if _, execErr := tx.ExecContext(ctx, s.rebind(query), args...); execErr != nil {
			return wrapError(op, execErr)
		}
		return nil
	}

	for _, customer := range ds.Customers {
		if err = exec(`INSERT INTO customers (id, name) VALUES (?, ?)`, customer.ID, customer.Name); err != nil {
			return err
		}
	}
	for _, svc := range ds.Services {
		if err = exec(`INSERT INTO services (id, name, charge_type) VALUES (?, ?, ?)`, svc.ID, svc.Name, string(svc.ChargeType)); err != nil {
			return err
		}
	}
	for _, cs := range ds.CustomerServices {
		if err = exec(`INSERT INTO customer_services (id, customer_id, service_id, unit_price) VALUES (?, ?, ?, ?)`,
			cs.ID, cs.CustomerID, cs.Service.ID, nullableDecimal(cs.UnitPrice)); err != nil {
			return err
		}
		for _, sku := range cs.SKUs {
			if err = exec(`INSERT INTO customer_service_skus (customer_service_id, sku) VALUES (?, ?)`, cs.ID, sku); err != nil {
				return err
			}
		}
	}
	for _, group := range ds.RuleGroups {
		if err = exec(`INSERT INTO rule_groups (id, customer_service_id, logic_operator) VALUES (?, ?, ?)`,
			group.ID, group.CustomerServiceID, string(group.LogicOperator)); err != nil {
			return err
		}
		for _, rule := range group.Rules {
			var conditions, calculations []byte
			if conditions, calculations, err = encodeAdvanced(rule.Advanced); err != nil {
				return fmt.Errorf("%s: rule %s: %w", op, rule.ID, err)
			}
			if err = exec(`INSERT INTO rules (id, rule_group_id, field, operator, value, adjustment_amount, conditions, calculations)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rule.ID, group.ID, string(rule.Field), string(rule.Operator), rule.Value,
				nullableDecimal(rule.AdjustmentAmount), nullableBytes(conditions), nullableBytes(calculations)); err != nil {
				return err
			}
		}
	}
	for _, order := range ds.Orders {
		var skuQuantity any
		if skuQuantity, err = encodeSKUQuantity(order.SKUQuantity); err != nil {
			return fmt.Errorf("%s: order %s: %w", op, order.TransactionID, err)
		}
		var closeDate any
		if order.CloseDate != nil {
			closeDate = s.timeArg(*order.CloseDate)
		}
		if err = exec(`INSERT INTO orders (`+orderColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.TransactionID, order.CustomerID, closeDate,
			nullableString(order.ReferenceNumber), nullableString(order.ShipToName),
			nullableString(order.ShipToCompany), nullableString(order.ShipToAddress),
			nullableString(order.ShipToAddress2), nullableString(order.ShipToCity),
			nullableString(order.ShipToState), nullableString(order.ShipToZip),
			nullableString(order.ShipToCountry), nullableString(order.Carrier), nullableString(order.Notes),
			nullableDecimal(order.WeightLb), nullableDecimal(order.VolumeCuft),
			nullableInt(order.LineItems), nullableInt(order.TotalItemQty), nullableInt(order.Packages),
			skuQuantity); err != nil {
			return err
		}
	}
	for _, product := range ds.Products {
		args := []any{domain.NormalizeSKU(product.SKU), product.CustomerID}
		for i := 0; i < 5; i++ {
			if i < len(product.Labeling) {
				args = append(args, product.Labeling[i].Unit, nullableInt(product.Labeling[i].Quantity))
				continue
			}
			args = append(args, nil, nil)
		}
		if err = exec(`INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return wrapError(op, err)
	}
	return nil
}

func encodeAdvanced(ext *domain.AdvancedExtension) ([]byte, []byte, error) {
	if ext == nil {
		return nil, nil, nil
	}
	var conditions []byte
	if len(ext.Conditions) > 0 || len(ext.Logic) > 0 {
		encoded, err := domain.EncodeConditions(ext.Conditions, ext.Logic)
		if err != nil {
			return nil, nil, err
		}
		conditions = encoded
	}
	var calculations []byte
	if len(ext.Calculations) > 0 {
		encoded, err := domain.EncodeCalculations(ext.Calculations)
		if err != nil {
			return nil, nil, err
		}
		calculations = encoded
	}
	return conditions, calculations, nil
}

func encodeSKUQuantity(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
}
