package fixture

import (
	"context"
	"strings"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

// Store serves a Dataset from memory. It is read-only and safe for concurrent use.
type Store struct {
	customers  map[string]domain.Customer
	orders     map[string][]domain.Order
	services   map[string][]domain.CustomerService
	ruleGroups map[string][]domain.RuleGroup
	products   map[string]domain.Product
}

var (
	_ repositories.Registry                  = (*Store)(nil)
	_ repositories.CustomerRepository        = (*Store)(nil)
	_ repositories.OrderRepository           = (*Store)(nil)
	_ repositories.CustomerServiceRepository = (*Store)(nil)
	_ repositories.RuleGroupRepository       = (*Store)(nil)
	_ repositories.ProductRepository         = (*Store)(nil)
)

// Open loads the fixture file at path into a new Store.
func Open(path string) (*Store, error) {
	ds, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(ds), nil
}

// NewStore indexes the dataset. Records are copied so later changes to ds are not observed.
func NewStore(ds Dataset) *Store {
	s := &Store{
		customers:  make(map[string]domain.Customer, len(ds.Customers)),
		orders:     make(map[string][]domain.Order),
		services:   make(map[string][]domain.CustomerService),
		ruleGroups: make(map[string][]domain.RuleGroup),
		products:   make(map[string]domain.Product, len(ds.Products)),
	}
	for _, customer := range ds.Customers {
		s.customers[customer.ID] = customer
	}
	for _, order := range ds.Orders {
		s.orders[order.CustomerID] = append(s.orders[order.CustomerID], order)
	}
	for customerID := range s.orders {
		repositories.SortOrders(s.orders[customerID])
	}
	for _, cs := range ds.CustomerServices {
		s.services[cs.CustomerID] = append(s.services[cs.CustomerID], cs)
	}
	for customerID := range s.services {
		repositories.SortCustomerServices(s.services[customerID])
	}
	for _, group := range ds.RuleGroups {
		group.Rules = append([]domain.Rule(nil), group.Rules...)
		s.ruleGroups[group.CustomerServiceID] = append(s.ruleGroups[group.CustomerServiceID], group)
	}
	for csID := range s.ruleGroups {
		repositories.SortRuleGroups(s.ruleGroups[csID])
	}
	for _, product := range ds.Products {
		s.products[productKey(product.CustomerID, product.SKU)] = product
	}
	return s
}

func productKey(customerID, sku string) string {
	return strings.TrimSpace(customerID) + "/" + domain.NormalizeSKU(sku)
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Customers() repositories.CustomerRepository               { return s }
func (s *Store) Orders() repositories.OrderRepository                     { return s }
func (s *Store) CustomerServices() repositories.CustomerServiceRepository { return s }
func (s *Store) RuleGroups() repositories.RuleGroupRepository             { return s }
func (s *Store) Products() repositories.ProductRepository                 { return s }

func (s *Store) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	customer, ok := s.customers[strings.TrimSpace(customerID)]
	if !ok {
		return domain.Customer{}, repositories.NotFound("fixture.customers.find", "customer "+customerID+" not found")
	}
	return customer, nil
}

func (s *Store) ListClosedBetween(ctx context.Context, customerID string, period domain.DateRange) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Order
	for _, order := range s.orders[customerID] {
		if order.CloseDate != nil && period.Contains(*order.CloseDate) {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *Store) ListByCustomer(_ context.Context, customerID string) ([]domain.CustomerService, error) {
	return append([]domain.CustomerService(nil), s.services[customerID]...), nil
}

func (s *Store) ListByChargeType(_ context.Context, customerID string, chargeType domain.ChargeType) ([]domain.CustomerService, error) {
	var out []domain.CustomerService
	for _, cs := range s.services[customerID] {
		if cs.Service.ChargeType == chargeType {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (s *Store) ListByCustomerService(_ context.Context, customerServiceID string) ([]domain.RuleGroup, error) {
	return append([]domain.RuleGroup(nil), s.ruleGroups[customerServiceID]...), nil
}

func (s *Store) FindBySKU(_ context.Context, sku, customerID string) (domain.Product, error) {
	product, ok := s.products[productKey(customerID, sku)]
	if !ok {
		return domain.Product{}, repositories.NotFound("fixture.products.find", "product "+sku+" not found")
	}
	return product, nil
}
