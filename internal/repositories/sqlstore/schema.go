package sqlstore

import (
	"context"
	"fmt"
)

// sqliteTimeLayout is fixed width so stored close dates sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteSchema mirrors the PostgreSQL tables. Amounts are TEXT to keep decimal precision since
// SQLite has no exact numeric type.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		charge_type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customer_services (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		unit_price TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS customer_services_customer_idx ON customer_services (customer_id)`,
	`CREATE TABLE IF NOT EXISTS customer_service_skus (
		customer_service_id TEXT NOT NULL REFERENCES customer_services(id),
		sku TEXT NOT NULL,
		PRIMARY KEY (customer_service_id, sku)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		transaction_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		close_date TEXT,
		reference_number TEXT,
		ship_to_name TEXT,
		ship_to_company TEXT,
		ship_to_address TEXT,
		ship_to_address2 TEXT,
		ship_to_city TEXT,
		ship_to_state TEXT,
		ship_to_zip TEXT,
		ship_to_country TEXT,
		carrier TEXT,
		notes TEXT,
		weight_lb TEXT,
		volume_cuft TEXT,
		line_items INTEGER,
		total_item_qty INTEGER,
		packages INTEGER,
		sku_quantity TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS orders_customer_close_idx ON orders (customer_id, close_date)`,
	`CREATE TABLE IF NOT EXISTS rule_groups (
		id TEXT PRIMARY KEY,
		customer_service_id TEXT NOT NULL REFERENCES customer_services(id),
		logic_operator TEXT NOT NULL DEFAULT 'AND'
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		rule_group_id TEXT NOT NULL REFERENCES rule_groups(id),
		field TEXT NOT NULL,
		operator TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		adjustment_amount TEXT,
		conditions TEXT,
		calculations TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		customer_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		labeling_unit_1 TEXT, labeling_quantity_1 INTEGER,
		labeling_unit_2 TEXT, labeling_quantity_2 INTEGER,
		labeling_unit_3 TEXT, labeling_quantity_3 INTEGER,
		labeling_unit_4 TEXT, labeling_quantity_4 INTEGER,
		labeling_unit_5 TEXT, labeling_quantity_5 INTEGER,
		PRIMARY KEY (customer_id, sku)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate statement %d: %w", i, err)
		}
	}
	return nil
}
