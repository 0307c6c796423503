package services

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

type memoryStore struct {
	customers  map[string]domain.Customer
	orders     []domain.Order
	services   []domain.CustomerService
	groups     map[string][]domain.RuleGroup
	products   map[string]domain.Product
	ordersErr  error
	serviceErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		customers: map[string]domain.Customer{},
		groups:    map[string][]domain.RuleGroup{},
		products:  map[string]domain.Product{},
	}
}

func (m *memoryStore) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	customer, ok := m.customers[customerID]
	if !ok {
		return domain.Customer{}, repositories.NotFound("customers.find", "customer not found")
	}
	return customer, nil
}

func (m *memoryStore) ListClosedBetween(_ context.Context, customerID string, period domain.DateRange) ([]domain.Order, error) {
	if m.ordersErr != nil {
		return nil, m.ordersErr
	}
	var out []domain.Order
	for _, order := range m.orders {
		if order.CustomerID != customerID || order.CloseDate == nil || !period.Contains(*order.CloseDate) {
			continue
		}
		out = append(out, order)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CloseDate.Equal(*out[j].CloseDate) {
			return out[i].CloseDate.Before(*out[j].CloseDate)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

func (m *memoryStore) ListByCustomer(_ context.Context, customerID string) ([]domain.CustomerService, error) {
	if m.serviceErr != nil {
		return nil, m.serviceErr
	}
	var out []domain.CustomerService
	for _, cs := range m.services {
		if cs.CustomerID == customerID {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (m *memoryStore) ListByChargeType(ctx context.Context, customerID string, chargeType domain.ChargeType) ([]domain.CustomerService, error) {
	all, err := m.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	var out []domain.CustomerService
	for _, cs := range all {
		if cs.Service.ChargeType == chargeType {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (m *memoryStore) ListByCustomerService(_ context.Context, customerServiceID string) ([]domain.RuleGroup, error) {
	return m.groups[customerServiceID], nil
}

func (m *memoryStore) FindBySKU(_ context.Context, sku, customerID string) (domain.Product, error) {
	product, ok := m.products[customerID+"/"+sku]
	if !ok {
		return domain.Product{}, repositories.NotFound("products.find", "product not found")
	}
	return product, nil
}

func (m *memoryStore) addProduct(customerID, sku string, caseSize int64) {
	m.products[customerID+"/"+sku] = domain.Product{
		SKU:        sku,
		CustomerID: customerID,
		Labeling:   []domain.ProductLabeling{{Unit: "case", Quantity: &caseSize}},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.ReportGeneratedEvent
	err    error
}

func (n *recordingNotifier) NotifyReportGenerated(_ context.Context, event domain.ReportGeneratedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func intPtr(value int64) *int64 {
	return &value
}

func strPtr(value string) *string {
	return &value
}

var (
	_ repositories.CustomerRepository        = (*memoryStore)(nil)
	_ repositories.OrderRepository           = (*memoryStore)(nil)
	_ repositories.CustomerServiceRepository = (*memoryStore)(nil)
	_ repositories.RuleGroupRepository       = (*memoryStore)(nil)
	_ repositories.ProductRepository         = (*memoryStore)(nil)
)
