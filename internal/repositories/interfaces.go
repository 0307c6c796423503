package repositories

import (
	"context"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// Registry exposes the billing repositories backed by one store.
type Registry interface {
	Close(ctx context.Context) error
	// Ping verifies the backing store is reachable. Used by readiness probes.
	Ping(ctx context.Context) error

	Customers() CustomerRepository
	Orders() OrderRepository
	CustomerServices() CustomerServiceRepository
	RuleGroups() RuleGroupRepository
	Products() ProductRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CustomerRepository resolves billed customers.
type CustomerRepository interface {
	// FindByID returns a RepositoryError with IsNotFound when the customer does not exist.
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
}

// OrderRepository lists closed orders.
type OrderRepository interface {
	// ListClosedBetween returns the customer's orders whose close date falls inside the inclusive range,
	// ordered by close date then transaction id.
	ListClosedBetween(ctx context.Context, customerID string, period domain.DateRange) ([]domain.Order, error)
}

// CustomerServiceRepository lists the service assignments of a customer ordered by id.
type CustomerServiceRepository interface {
	ListByCustomer(ctx context.Context, customerID string) ([]domain.CustomerService, error)
	ListByChargeType(ctx context.Context, customerID string, chargeType domain.ChargeType) ([]domain.CustomerService, error)
}

// RuleGroupRepository loads rule groups with their rules, advanced extensions decoded.
type RuleGroupRepository interface {
	ListByCustomerService(ctx context.Context, customerServiceID string) ([]domain.RuleGroup, error)
}

// ProductRepository resolves packaging metadata for SKUs.
type ProductRepository interface {
	// FindBySKU returns a RepositoryError with IsNotFound when no product matches.
	FindBySKU(ctx context.Context, sku, customerID string) (domain.Product, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
