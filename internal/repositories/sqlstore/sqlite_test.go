package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/repositories/fixture"
	"github.com/ledgerlink/billing/internal/services"
)

const sqliteDataset = `
customers:
  - {id: C-1, name: Acme Outdoor}
services:
  - {id: S-1, name: Pick Cost, charge_type: quantity}
  - {id: S-2, name: Order Handling, charge_type: single}
  - {id: S-3, name: Kitting, charge_type: quantity}
customer_services:
  - {id: CS-1, customer_id: C-1, service_id: S-1, unit_price: "0.50"}
  - {id: CS-2, customer_id: C-1, service_id: S-2, unit_price: "15.00"}
  - {id: CS-3, customer_id: C-1, service_id: S-3, unit_price: "1.25", skus: [KIT-9]}
rule_groups:
  - id: G-1
    customer_service_id: CS-2
    logic_operator: and
    rules:
      - {id: R-1, field: ship_to_country, operator: in, value: US;CA}
      - id: R-2
        field: weight_lb
        operator: gt
        value: "1"
        conditions:
          carrier: {starts_with: UPS}
        calculations:
          - {type: flat_fee, value: 2}
orders:
  - transaction_id: T-1
    customer_id: C-1
    close_date: 2024-03-04T10:00:00Z
    ship_to_country: US
    carrier: UPS Ground
    weight_lb: 4.5
    sku_quantity: [{sku: a1, quantity: 26}]
  - transaction_id: T-2
    customer_id: C-1
    close_date: 2024-03-05T10:00:00Z
    ship_to_country: MX
    weight_lb: 2
    sku_quantity: '[{"sku":"A1","quantity":5},{"sku":"KIT-9","quantity":2}]'
  - transaction_id: T-3
    customer_id: C-1
    close_date: 2024-04-01T00:00:00Z
products:
  - sku: A1
    customer_id: C-1
    labeling:
      - {unit: Case, quantity: 12}
      - {unit: Each, quantity: 1}
`

func openSeededSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })

	ds, err := fixture.Parse([]byte(sqliteDataset))
	if err != nil {
		t.Fatalf("parse dataset: %v", err)
	}
	if err := store.Import(ctx, ds); err != nil {
		t.Fatalf("Import: %v", err)
	}
	return store
}

func marchRange() domain.DateRange {
	return domain.DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC),
	}
}

func TestSQLiteStoreRoundTripsDataset(t *testing.T) {
	store := openSeededSQLite(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	customer, err := store.Customers().FindByID(ctx, "C-1")
	if err != nil || customer.Name != "Acme Outdoor" {
		t.Fatalf("FindByID = %+v, %v", customer, err)
	}
	if _, err := store.Customers().FindByID(ctx, "C-404"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	orders, err := store.Orders().ListClosedBetween(ctx, "C-1", marchRange())
	if err != nil {
		t.Fatalf("ListClosedBetween: %v", err)
	}
	if len(orders) != 2 || orders[0].TransactionID != "T-1" || orders[1].TransactionID != "T-2" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	first := orders[0]
	if first.CloseDate == nil || !first.CloseDate.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected close date %v", first.CloseDate)
	}
	if first.WeightLb == nil || first.WeightLb.String() != "4.5" {
		t.Fatalf("unexpected weight %v", first.WeightLb)
	}
	if first.TotalItemQty != nil || first.ShipToCity != nil {
		t.Fatalf("expected absent columns to stay nil")
	}
	if got := services.ParseSKUQuantities(first.SKUQuantity).Render(); got != "{'A1': 26.0}" {
		t.Fatalf("unexpected sku quantities %q", got)
	}

	all, err := store.CustomerServices().ListByCustomer(ctx, "C-1")
	if err != nil {
		t.Fatalf("ListByCustomer: %v", err)
	}
	var ids []string
	for _, cs := range all {
		ids = append(ids, cs.ID)
	}
	if diff := cmp.Diff([]string{"CS-1", "CS-2", "CS-3"}, ids); diff != "" {
		t.Fatalf("unexpected services (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"KIT-9"}, all[2].SKUs); diff != "" {
		t.Fatalf("unexpected assigned skus (-want +got):\n%s", diff)
	}
	quantity, err := store.CustomerServices().ListByChargeType(ctx, "C-1", domain.ChargeTypeQuantity)
	if err != nil || len(quantity) != 2 {
		t.Fatalf("ListByChargeType = %+v, %v", quantity, err)
	}

	groups, err := store.RuleGroups().ListByCustomerService(ctx, "CS-2")
	if err != nil {
		t.Fatalf("ListByCustomerService: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Rules) != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if groups[0].LogicOperator != domain.LogicAnd {
		t.Fatalf("unexpected logic operator %q", groups[0].LogicOperator)
	}
	advanced := groups[0].Rules[1].Advanced
	if advanced == nil || len(advanced.Conditions) != 1 || len(advanced.Calculations) != 1 {
		t.Fatalf("expected advanced extension to survive storage, got %+v", advanced)
	}

	product, err := store.Products().FindBySKU(ctx, " a1", "C-1")
	if err != nil {
		t.Fatalf("FindBySKU: %v", err)
	}
	if len(product.Labeling) != 2 {
		t.Fatalf("expected two labeling levels, got %+v", product.Labeling)
	}
	if size, ok := product.CaseSize(); !ok || size != 12 {
		t.Fatalf("expected case size 12, got %d", size)
	}
}

func TestSQLiteStoreBacksReportGeneration(t *testing.T) {
	store := openSeededSQLite(t)
	costs, err := services.NewServiceCostCalculator(services.ServiceCostCalculatorDeps{
		CustomerServices: store.CustomerServices(),
		Products:         store.Products(),
	})
	if err != nil {
		t.Fatalf("NewServiceCostCalculator: %v", err)
	}
	generator, err := services.NewBillingReportGenerator(services.BillingReportGeneratorDeps{
		Customers:        store.Customers(),
		Orders:           store.Orders(),
		CustomerServices: store.CustomerServices(),
		RuleGroups:       store.RuleGroups(),
		Costs:            costs,
	})
	if err != nil {
		t.Fatalf("NewBillingReportGenerator: %v", err)
	}

	period := marchRange()
	report, err := generator.Generate(context.Background(), "C-1", period.Start, period.End)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// T-1: pick 0.50 x (26 mod 12) + handling 15.00. T-2: pick 0.50 x 5 + kitting 1.25 x 2.
	totals := map[string]string{}
	for id, amount := range report.ServiceTotals {
		totals[id] = amount.StringFixed(2)
	}
	want := map[string]string{"S-1": "3.50", "S-2": "15.00", "S-3": "2.50"}
	if diff := cmp.Diff(want, totals); diff != "" {
		t.Fatalf("unexpected service totals (-want +got):\n%s", diff)
	}
	if got := report.TotalAmount.StringFixed(2); got != "21.00" {
		t.Fatalf("expected total 21.00, got %s", got)
	}
}

func TestSQLiteImportRejectsDuplicates(t *testing.T) {
	store := openSeededSQLite(t)
	ds := fixture.Dataset{Customers: []domain.Customer{{ID: "C-1", Name: "again"}}}
	err := store.Import(context.Background(), ds)
	if err == nil {
		t.Fatalf("expected duplicate import to fail")
	}
	if _, err := store.Customers().FindByID(context.Background(), "C-1"); err != nil {
		t.Fatalf("expected original row to survive rollback: %v", err)
	}
}
