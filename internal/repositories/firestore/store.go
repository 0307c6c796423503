// Package firestore serves the billing repositories from Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/ledgerlink/billing/internal/domain"
	pfirestore "github.com/ledgerlink/billing/internal/platform/firestore"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/repositories/fixture"
)

// Store implements repositories.Registry on top of a shared Firestore provider.
type Store struct {
	provider   *pfirestore.Provider
	customers  *pfirestore.BaseRepository[domain.Customer]
	ruleGroups *pfirestore.BaseRepository[domain.RuleGroup]
	services   *pfirestore.BaseRepository[domain.CustomerService]
	orders     *pfirestore.BaseRepository[domain.Order]
	products   *pfirestore.BaseRepository[domain.Product]
}

var (
	_ repositories.Registry                  = (*Store)(nil)
	_ repositories.CustomerRepository        = (*Store)(nil)
	_ repositories.OrderRepository           = (*Store)(nil)
	_ repositories.CustomerServiceRepository = (*Store)(nil)
	_ repositories.RuleGroupRepository       = (*Store)(nil)
	_ repositories.ProductRepository         = (*Store)(nil)
)

// NewStore wires the billing collections to the provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store: provider is required")
	}

	customers := pfirestore.NewBaseRepository[domain.Customer](provider, customersCollection,
		func(_ context.Context, customer domain.Customer) (any, error) {
			return customerDocument{Name: customer.Name}, nil
		},
		func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.Customer, error) {
			var doc customerDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.Customer{}, err
			}
			return domain.Customer{ID: snap.Ref.ID, Name: doc.Name}, nil
		})

	ruleGroups := pfirestore.NewBaseRepository[domain.RuleGroup](provider, ruleGroupsCollection,
		func(_ context.Context, group domain.RuleGroup) (any, error) {
			return encodeRuleGroupDocument(group)
		},
		func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.RuleGroup, error) {
			var doc ruleGroupDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.RuleGroup{}, err
			}
			return decodeRuleGroupDocument(snap.Ref.ID, doc)
		})

	// Subcollection repositories are rooted at customers and scoped per call with Within.
	services := pfirestore.NewBaseRepository[domain.CustomerService](provider, customersCollection,
		func(_ context.Context, cs domain.CustomerService) (any, error) {
			return encodeCustomerServiceDocument(cs), nil
		},
		func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.CustomerService, error) {
			var doc customerServiceDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.CustomerService{}, err
			}
			return decodeCustomerServiceDocument(snap.Ref.ID, parentID(snap.Ref), doc)
		})

	orders := pfirestore.NewBaseRepository[domain.Order](provider, customersCollection,
		func(_ context.Context, order domain.Order) (any, error) {
			return encodeOrderDocument(order)
		},
		func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.Order, error) {
			var doc orderDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.Order{}, err
			}
			return decodeOrderDocument(snap.Ref.ID, parentID(snap.Ref), doc)
		})

	products := pfirestore.NewBaseRepository[domain.Product](provider, customersCollection,
		func(_ context.Context, product domain.Product) (any, error) {
			return encodeProductDocument(product), nil
		},
		func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.Product, error) {
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.Product{}, err
			}
			return decodeProductDocument(parentID(snap.Ref), doc), nil
		})

	return &Store{
		provider:   provider,
		customers:  customers,
		ruleGroups: ruleGroups,
		services:   services,
		orders:     orders,
		products:   products,
	}, nil
}

// Close releases the Firestore client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

// Ping verifies Firestore is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}

func (s *Store) Customers() repositories.CustomerRepository               { return s }
func (s *Store) Orders() repositories.OrderRepository                     { return s }
func (s *Store) CustomerServices() repositories.CustomerServiceRepository { return s }
func (s *Store) RuleGroups() repositories.RuleGroupRepository             { return s }
func (s *Store) Products() repositories.ProductRepository                 { return s }

// FindByID loads a customer document.
func (s *Store) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, repositories.NotFound("firestore.customers.find", "customer id is required")
	}
	doc, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.Data, nil
}

// ListClosedBetween queries the customer's orders subcollection on closeDate.
func (s *Store) ListClosedBetween(ctx context.Context, customerID string, period domain.DateRange) ([]domain.Order, error) {
	orders, err := s.orders.Within(customerID, ordersCollection)
	if err != nil {
		return nil, fmt.Errorf("firestore.orders.list: %w", err)
	}
	docs, err := orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("closeDate", ">=", period.Start.UTC()).
			Where("closeDate", "<=", period.End.UTC()).
			OrderBy("closeDate", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.Data)
	}
	repositories.SortOrders(result)
	return result, nil
}

// ListByCustomer returns every service assignment of the customer.
func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]domain.CustomerService, error) {
	services, err := s.services.Within(customerID, servicesCollection)
	if err != nil {
		return nil, fmt.Errorf("firestore.services.list: %w", err)
	}
	docs, err := services.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	result := make([]domain.CustomerService, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.Data)
	}
	repositories.SortCustomerServices(result)
	return result, nil
}

// ListByChargeType filters the customer's assignments in memory since chargeType casing is
// not normalised in older documents.
func (s *Store) ListByChargeType(ctx context.Context, customerID string, chargeType domain.ChargeType) ([]domain.CustomerService, error) {
	all, err := s.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, cs := range all {
		if strings.EqualFold(string(cs.Service.ChargeType), string(chargeType)) {
			filtered = append(filtered, cs)
		}
	}
	return filtered, nil
}

// ListByCustomerService returns the rule groups attached to an assignment.
func (s *Store) ListByCustomerService(ctx context.Context, customerServiceID string) ([]domain.RuleGroup, error) {
	docs, err := s.ruleGroups.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerServiceId", "==", customerServiceID)
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) && ctx.Err() == nil {
			return nil, repositories.NewStoreError("firestore.rule_groups.list", repositories.StoreErrorCorrupt, "decode rule group", err)
		}
		return nil, err
	}
	result := make([]domain.RuleGroup, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.Data)
	}
	repositories.SortRuleGroups(result)
	return result, nil
}

// FindBySKU loads the product document keyed by the normalised SKU.
func (s *Store) FindBySKU(ctx context.Context, sku, customerID string) (domain.Product, error) {
	const op = "firestore.products.find"
	normalized := domain.NormalizeSKU(sku)
	if normalized == "" {
		return domain.Product{}, repositories.NotFound(op, "sku is required")
	}
	products, err := s.products.Within(customerID, productsCollection)
	if err != nil {
		return domain.Product{}, repositories.NotFound(op, err.Error())
	}
	doc, err := products.Get(ctx, normalized)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data, nil
}

// Import writes a fixture dataset document by document. Firestore offers no multi-collection
// atomicity at this size, so a failed import may leave earlier documents behind.
func (s *Store) Import(ctx context.Context, ds fixture.Dataset) error {
	for _, customer := range ds.Customers {
		if err := s.customers.Set(ctx, customer.ID, customer); err != nil {
			return err
		}
	}
	for _, cs := range ds.CustomerServices {
		services, err := s.services.Within(cs.CustomerID, servicesCollection)
		if err != nil {
			return err
		}
		if err := services.Set(ctx, cs.ID, cs); err != nil {
			return err
		}
	}
	for _, group := range ds.RuleGroups {
		if err := s.ruleGroups.Set(ctx, group.ID, group); err != nil {
			return err
		}
	}
	for _, order := range ds.Orders {
		orders, err := s.orders.Within(order.CustomerID, ordersCollection)
		if err != nil {
			return err
		}
		if err := orders.Set(ctx, order.TransactionID, order); err != nil {
			return err
		}
	}
	for _, product := range ds.Products {
		products, err := s.products.Within(product.CustomerID, productsCollection)
		if err != nil {
			return err
		}
		if err := products.Set(ctx, domain.NormalizeSKU(product.SKU), product); err != nil {
			return err
		}
	}
	return nil
}

// parentID returns the id of the customer document owning a subcollection document.
func parentID(ref *firestore.DocumentRef) string {
	if ref == nil || ref.Parent == nil || ref.Parent.Parent == nil {
		return ""
	}
	return ref.Parent.Parent.ID
}
