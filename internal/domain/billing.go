package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeType describes how a service is billed against an order.
type ChargeType string

const (
	// ChargeTypeSingle bills the unit price once per order.
	ChargeTypeSingle ChargeType = "single"
	// ChargeTypeQuantity bills the unit price per unit of a quantity derived from the order.
	ChargeTypeQuantity ChargeType = "quantity"
)

// Customer identifies the billed party.
type Customer struct {
	ID   string
	Name string
}

// Service is a billable offering from the service catalogue.
type Service struct {
	ID         string
	Name       string
	ChargeType ChargeType
}

// CustomerService links a customer to a service with customer-specific pricing.
type CustomerService struct {
	ID         string
	CustomerID string
	Service    Service
	// UnitPrice is nil when no price has been negotiated yet.
	UnitPrice *decimal.Decimal
	// SKUs restricts quantity billing to the listed SKUs when non-empty.
	SKUs []string
}

// HasAssignedSKUs reports whether the assignment is scoped to a subset of SKUs.
func (cs CustomerService) HasAssignedSKUs() bool {
	for _, sku := range cs.SKUs {
		if strings.TrimSpace(sku) != "" {
			return true
		}
	}
	return false
}

// ProductLabeling describes one packaging level of a product (e.g. 12 units per case).
type ProductLabeling struct {
	Unit     string
	Quantity *int64
}

// Product carries the packaging metadata used for case/pick billing.
type Product struct {
	SKU        string
	CustomerID string
	Labeling   []ProductLabeling
}

// CaseSize returns the case pack size when the first labeling level is a case.
func (p Product) CaseSize() (int64, bool) {
	if len(p.Labeling) == 0 {
		return 0, false
	}
	first := p.Labeling[0]
	if !strings.EqualFold(strings.TrimSpace(first.Unit), "case") {
		return 0, false
	}
	if first.Quantity == nil || *first.Quantity <= 0 {
		return 0, false
	}
	return *first.Quantity, true
}

// Order is a closed fulfilment record imported from the warehouse system.
type Order struct {
	TransactionID string
	CustomerID    string
	CloseDate     *time.Time

	ReferenceNumber *string
	ShipToName      *string
	ShipToCompany   *string
	ShipToAddress   *string
	ShipToAddress2  *string
	ShipToCity      *string
	ShipToState     *string
	ShipToZip       *string
	ShipToCountry   *string
	Carrier         *string
	Notes           *string

	WeightLb     *decimal.Decimal
	VolumeCuft   *decimal.Decimal
	LineItems    *int64
	TotalItemQty *int64
	Packages     *int64

	// SKUQuantity holds the raw SKU/quantity payload as persisted: JSON text, raw JSON bytes,
	// or an already decoded list of {sku, quantity} records.
	SKUQuantity any
}

// DateRange is an inclusive close-date window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
