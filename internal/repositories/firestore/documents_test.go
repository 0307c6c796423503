package firestore

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

func TestOrderDocumentRoundTrip(t *testing.T) {
	closed := time.Date(2024, 3, 4, 5, 0, 0, 0, time.FixedZone("EST", -5*3600))
	weight := decimal.RequireFromString("12.50")
	carrier := "UPS Ground"
	qty := int64(7)
	order := domain.Order{
		TransactionID: "T-1",
		CustomerID:    "C-1",
		CloseDate:     &closed,
		Carrier:       &carrier,
		WeightLb:      &weight,
		TotalItemQty:  &qty,
		SKUQuantity:   []map[string]any{{"sku": "A1", "quantity": 7}},
	}

	doc, err := encodeOrderDocument(order)
	if err != nil {
		t.Fatalf("encodeOrderDocument: %v", err)
	}
	if doc.CloseDate == nil || doc.CloseDate.Location() != time.UTC {
		t.Fatalf("expected close date stored in UTC, got %v", doc.CloseDate)
	}
	if doc.WeightLb == nil || *doc.WeightLb != "12.5" {
		t.Fatalf("expected weight stored as decimal text, got %v", doc.WeightLb)
	}
	if doc.SKUQuantity == nil || *doc.SKUQuantity != `[{"quantity":7,"sku":"A1"}]` {
		t.Fatalf("unexpected sku quantity text %v", doc.SKUQuantity)
	}

	decoded, err := decodeOrderDocument("T-1", "C-1", doc)
	if err != nil {
		t.Fatalf("decodeOrderDocument: %v", err)
	}
	if !decoded.CloseDate.Equal(closed) || decoded.WeightLb.Cmp(weight) != 0 {
		t.Fatalf("unexpected decoded order %+v", decoded)
	}
	if decoded.ShipToCity != nil || decoded.VolumeCuft != nil {
		t.Fatalf("expected absent fields to stay nil")
	}
	if decoded.SKUQuantity != `[{"quantity":7,"sku":"A1"}]` {
		t.Fatalf("unexpected sku quantity %v", decoded.SKUQuantity)
	}
}

func TestDecodeOrderDocumentRejectsBadAmounts(t *testing.T) {
	bad := "heavy"
	if _, err := decodeOrderDocument("T-1", "C-1", orderDocument{WeightLb: &bad}); err == nil {
		t.Fatalf("expected invalid weight error")
	}
}

func TestCustomerServiceDocument(t *testing.T) {
	price := decimal.RequireFromString("0.35")
	doc := encodeCustomerServiceDocument(domain.CustomerService{
		ID:         "CS-1",
		CustomerID: "C-1",
		Service:    domain.Service{ID: "S-1", Name: "Pick Cost", ChargeType: domain.ChargeTypeQuantity},
		UnitPrice:  &price,
		SKUs:       []string{"A1"},
	})
	doc.ChargeType = " Quantity "

	cs, err := decodeCustomerServiceDocument("CS-1", "C-1", doc)
	if err != nil {
		t.Fatalf("decodeCustomerServiceDocument: %v", err)
	}
	if cs.Service.ChargeType != domain.ChargeTypeQuantity || cs.UnitPrice.String() != "0.35" {
		t.Fatalf("unexpected assignment %+v", cs)
	}
	if diff := cmp.Diff([]string{"A1"}, cs.SKUs); diff != "" {
		t.Fatalf("unexpected skus (-want +got):\n%s", diff)
	}

	unpriced, err := decodeCustomerServiceDocument("CS-2", "C-1", customerServiceDocument{ServiceID: "S-2"})
	if err != nil || unpriced.UnitPrice != nil {
		t.Fatalf("expected nil unit price, got %+v, %v", unpriced.UnitPrice, err)
	}
}

func TestProductDocumentStopsAtEmptyLevel(t *testing.T) {
	twelve := int64(12)
	doc := encodeProductDocument(domain.Product{
		SKU:      " ab 12 ",
		Labeling: []domain.ProductLabeling{{Unit: "Case", Quantity: &twelve}},
	})
	if doc.SKU != "AB12" {
		t.Fatalf("expected normalised sku, got %q", doc.SKU)
	}
	doc.Labeling = append(doc.Labeling, labelingDocument{}, labelingDocument{Unit: "Pallet"})

	product := decodeProductDocument("C-1", doc)
	if len(product.Labeling) != 1 {
		t.Fatalf("expected a single labeling level, got %+v", product.Labeling)
	}
	if size, ok := product.CaseSize(); !ok || size != 12 {
		t.Fatalf("expected case size 12, got %d", size)
	}
}

func TestRuleGroupDocumentKeepsAdvancedExtension(t *testing.T) {
	amount := decimal.RequireFromString("1.25")
	group := domain.RuleGroup{
		ID:                "G-1",
		CustomerServiceID: "CS-1",
		LogicOperator:     domain.LogicOr,
		Rules: []domain.Rule{
			{ID: "R-1", Field: "carrier", Operator: "contains", Value: "UPS", AdjustmentAmount: &amount},
			{
				ID: "R-2", Field: "weight_lb", Operator: "gt", Value: "5",
				Advanced: &domain.AdvancedExtension{
					Logic:        json.RawMessage(`{">":[{"var":"weight_lb"},5]}`),
					Calculations: []domain.Calculation{domain.FlatFee{Amount: decimal.RequireFromString("2")}},
				},
			},
		},
	}

	doc, err := encodeRuleGroupDocument(group)
	if err != nil {
		t.Fatalf("encodeRuleGroupDocument: %v", err)
	}
	if doc.Rules[0].Conditions != "" || doc.Rules[1].Calculations == "" {
		t.Fatalf("unexpected rule documents %+v", doc.Rules)
	}
	doc.LogicOperator = "or"

	decoded, err := decodeRuleGroupDocument("G-1", doc)
	if err != nil {
		t.Fatalf("decodeRuleGroupDocument: %v", err)
	}
	if decoded.LogicOperator != domain.LogicOr || len(decoded.Rules) != 2 {
		t.Fatalf("unexpected group %+v", decoded)
	}
	if decoded.Rules[0].Advanced != nil || decoded.Rules[0].AdjustmentAmount.String() != "1.25" {
		t.Fatalf("unexpected simple rule %+v", decoded.Rules[0])
	}
	advanced := decoded.Rules[1].Advanced
	if advanced == nil || len(advanced.Logic) == 0 || len(advanced.Calculations) != 1 {
		t.Fatalf("expected advanced extension, got %+v", advanced)
	}
	if decoded.Rules[1].RuleGroupID != "G-1" {
		t.Fatalf("expected rule group id to be set")
	}

	doc.Rules[1].Calculations = "{broken"
	if _, err := decodeRuleGroupDocument("G-1", doc); err == nil {
		t.Fatalf("expected malformed calculations to fail")
	}
}

func TestParentID(t *testing.T) {
	ref := &firestore.DocumentRef{
		ID: "T-1",
		Parent: &firestore.CollectionRef{
			ID:     ordersCollection,
			Parent: &firestore.DocumentRef{ID: "C-1"},
		},
	}
	if got := parentID(ref); got != "C-1" {
		t.Fatalf("expected C-1, got %q", got)
	}
	if got := parentID(&firestore.DocumentRef{ID: "C-1"}); got != "" {
		t.Fatalf("expected empty parent for root document, got %q", got)
	}
}

func TestNewStoreRequiresProvider(t *testing.T) {
	if _, err := NewStore(nil); err == nil {
		t.Fatalf("expected provider error")
	}
}
