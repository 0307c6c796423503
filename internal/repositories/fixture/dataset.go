// Package fixture loads billing datasets from YAML and serves them from memory.
package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

// ErrInvalidDataset is returned when a dataset document references unknown records or holds
// malformed values.
var ErrInvalidDataset = errors.New("fixture: invalid dataset")

// Dataset is the decoded, cross-referenced content of a fixture document.
type Dataset struct {
	Customers        []domain.Customer
	Services         []domain.Service
	CustomerServices []domain.CustomerService
	RuleGroups       []domain.RuleGroup
	Orders           []domain.Order
	Products         []domain.Product
}

type document struct {
	Customers        []customerRecord        `yaml:"customers"`
	Services         []serviceRecord         `yaml:"services"`
	CustomerServices []customerServiceRecord `yaml:"customer_services"`
	RuleGroups       []ruleGroupRecord       `yaml:"rule_groups"`
	Orders           []orderRecord           `yaml:"orders"`
	Products         []productRecord         `yaml:"products"`
}

type customerRecord struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type serviceRecord struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	ChargeType string `yaml:"charge_type"`
}

type customerServiceRecord struct {
	ID         string       `yaml:"id"`
	CustomerID string       `yaml:"customer_id"`
	ServiceID  string       `yaml:"service_id"`
	UnitPrice  *yamlDecimal `yaml:"unit_price"`
	SKUs       []string     `yaml:"skus"`
}

type ruleGroupRecord struct {
	ID                string       `yaml:"id"`
	CustomerServiceID string       `yaml:"customer_service_id"`
	LogicOperator     string       `yaml:"logic_operator"`
	Rules             []ruleRecord `yaml:"rules"`
}

type ruleRecord struct {
	ID               string       `yaml:"id"`
	Field            string       `yaml:"field"`
	Operator         string       `yaml:"operator"`
	Value            string       `yaml:"value"`
	AdjustmentAmount *yamlDecimal `yaml:"adjustment_amount"`
	Conditions       yaml.Node    `yaml:"conditions"`
	Calculations     yaml.Node    `yaml:"calculations"`
}

type orderRecord struct {
	TransactionID   string       `yaml:"transaction_id"`
	CustomerID      string       `yaml:"customer_id"`
	CloseDate       *time.Time   `yaml:"close_date"`
	ReferenceNumber *string      `yaml:"reference_number"`
	ShipToName      *string      `yaml:"ship_to_name"`
	ShipToCompany   *string      `yaml:"ship_to_company"`
	ShipToAddress   *string      `yaml:"ship_to_address"`
	ShipToAddress2  *string      `yaml:"ship_to_address2"`
	ShipToCity      *string      `yaml:"ship_to_city"`
	ShipToState     *string      `yaml:"ship_to_state"`
	ShipToZip       *string      `yaml:"ship_to_zip"`
	ShipToCountry   *string      `yaml:"ship_to_country"`
	Carrier         *string      `yaml:"carrier"`
	Notes           *string      `yaml:"notes"`
	WeightLb        *yamlDecimal `yaml:"weight_lb"`
	VolumeCuft      *yamlDecimal `yaml:"volume_cuft"`
	LineItems       *int64       `yaml:"line_items"`
	TotalItemQty    *int64       `yaml:"total_item_qty"`
	Packages        *int64       `yaml:"packages"`
	SKUQuantity     yaml.Node    `yaml:"sku_quantity"`
}

type productRecord struct {
	SKU        string           `yaml:"sku"`
	CustomerID string           `yaml:"customer_id"`
	Labeling   []labelingRecord `yaml:"labeling"`
}

type labelingRecord struct {
	Unit     string `yaml:"unit"`
	Quantity *int64 `yaml:"quantity"`
}

// yamlDecimal reads amounts written either as YAML numbers or quoted strings without a float
// round trip.
type yamlDecimal struct {
	decimal.Decimal
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a decimal scalar", node.Line)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid decimal %q: %w", node.Line, node.Value, err)
	}
	d.Decimal = value
	return nil
}

func (d *yamlDecimal) ptr() *decimal.Decimal {
	if d == nil {
		return nil
	}
	value := d.Decimal
	return &value
}

// LoadFile reads and decodes a fixture document from disk.
func LoadFile(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a fixture document and resolves its cross references.
func Parse(data []byte) (Dataset, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Dataset{}, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return doc.resolve()
}

func (doc document) resolve() (Dataset, error) {
	var ds Dataset

	customers := make(map[string]struct{}, len(doc.Customers))
	for _, rec := range doc.Customers {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			return Dataset{}, fmt.Errorf("%w: customer without id", ErrInvalidDataset)
		}
		customers[id] = struct{}{}
		ds.Customers = append(ds.Customers, domain.Customer{ID: id, Name: rec.Name})
	}

	services := make(map[string]domain.Service, len(doc.Services))
	for _, rec := range doc.Services {
		chargeType := domain.ChargeType(strings.ToLower(strings.TrimSpace(rec.ChargeType)))
		if chargeType != domain.ChargeTypeSingle && chargeType != domain.ChargeTypeQuantity {
			return Dataset{}, fmt.Errorf("%w: service %s has unknown charge type %q", ErrInvalidDataset, rec.ID, rec.ChargeType)
		}
		svc := domain.Service{ID: rec.ID, Name: rec.Name, ChargeType: chargeType}
		services[rec.ID] = svc
		ds.Services = append(ds.Services, svc)
	}

	assignments := make(map[string]struct{}, len(doc.CustomerServices))
	for _, rec := range doc.CustomerServices {
		svc, ok := services[rec.ServiceID]
		if !ok {
			return Dataset{}, fmt.Errorf("%w: customer service %s references unknown service %s", ErrInvalidDataset, rec.ID, rec.ServiceID)
		}
		if _, ok := customers[rec.CustomerID]; !ok {
			return Dataset{}, fmt.Errorf("%w: customer service %s references unknown customer %s", ErrInvalidDataset, rec.ID, rec.CustomerID)
		}
		assignments[rec.ID] = struct{}{}
		ds.CustomerServices = append(ds.CustomerServices, domain.CustomerService{
			ID:         rec.ID,
			CustomerID: rec.CustomerID,
			Service:    svc,
			UnitPrice:  rec.UnitPrice.ptr(),
			SKUs:       append([]string(nil), rec.SKUs...),
		})
	}

	for _, rec := range doc.RuleGroups {
		if _, ok := assignments[rec.CustomerServiceID]; !ok {
			return Dataset{}, fmt.Errorf("%w: rule group %s references unknown customer service %s", ErrInvalidDataset, rec.ID, rec.CustomerServiceID)
		}
		group := domain.RuleGroup{
			ID:                rec.ID,
			CustomerServiceID: rec.CustomerServiceID,
			LogicOperator:     domain.NormalizeLogicOperator(rec.LogicOperator),
		}
		for _, ruleRec := range rec.Rules {
			rule, err := ruleRec.toDomain(rec.ID)
			if err != nil {
				return Dataset{}, err
			}
			group.Rules = append(group.Rules, rule)
		}
		ds.RuleGroups = append(ds.RuleGroups, group)
	}

	for _, rec := range doc.Orders {
		order, err := rec.toDomain()
		if err != nil {
			return Dataset{}, err
		}
		ds.Orders = append(ds.Orders, order)
	}

	for _, rec := range doc.Products {
		product := domain.Product{SKU: domain.NormalizeSKU(rec.SKU), CustomerID: rec.CustomerID}
		for _, level := range rec.Labeling {
			product.Labeling = append(product.Labeling, domain.ProductLabeling{Unit: level.Unit, Quantity: level.Quantity})
		}
		ds.Products = append(ds.Products, product)
	}

	return ds, nil
}

func (rec ruleRecord) toDomain(groupID string) (domain.Rule, error) {
	conditions, err := nodeJSON(rec.Conditions)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("%w: rule %s conditions: %v", ErrInvalidDataset, rec.ID, err)
	}
	calculations, err := nodeJSON(rec.Calculations)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("%w: rule %s calculations: %v", ErrInvalidDataset, rec.ID, err)
	}
	advanced, err := repositories.DecodeAdvanced(conditions, calculations)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("%w: rule %s: %v", ErrInvalidDataset, rec.ID, err)
	}
	return domain.Rule{
		ID:               rec.ID,
		RuleGroupID:      groupID,
		Field:            domain.RuleField(strings.TrimSpace(rec.Field)),
		Operator:         domain.RuleOperator(strings.TrimSpace(rec.Operator)),
		Value:            rec.Value,
		AdjustmentAmount: rec.AdjustmentAmount.ptr(),
		Advanced:         advanced,
	}, nil
}

func (rec orderRecord) toDomain() (domain.Order, error) {
	order := domain.Order{
		TransactionID:   rec.TransactionID,
		CustomerID:      rec.CustomerID,
		ReferenceNumber: rec.ReferenceNumber,
		ShipToName:      rec.ShipToName,
		ShipToCompany:   rec.ShipToCompany,
		ShipToAddress:   rec.ShipToAddress,
		ShipToAddress2:  rec.ShipToAddress2,
		ShipToCity:      rec.ShipToCity,
		ShipToState:     rec.ShipToState,
		ShipToZip:       rec.ShipToZip,
		ShipToCountry:   rec.ShipToCountry,
		Carrier:         rec.Carrier,
		Notes:           rec.Notes,
		WeightLb:        rec.WeightLb.ptr(),
		VolumeCuft:      rec.VolumeCuft.ptr(),
		LineItems:       rec.LineItems,
		TotalItemQty:    rec.TotalItemQty,
		Packages:        rec.Packages,
	}
	if rec.CloseDate != nil {
		closed := rec.CloseDate.UTC()
		order.CloseDate = &closed
	}

	switch rec.SKUQuantity.Kind {
	case 0:
	case yaml.ScalarNode:
		if rec.SKUQuantity.ShortTag() != "!!null" {
			order.SKUQuantity = rec.SKUQuantity.Value
		}
	default:
		raw, err := nodeJSON(rec.SKUQuantity)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: order %s sku_quantity: %v", ErrInvalidDataset, rec.TransactionID, err)
		}
		order.SKUQuantity = json.RawMessage(raw)
	}
	return order, nil
}

// nodeJSON re-encodes a YAML subtree as JSON. Scalar strings are treated as embedded JSON text.
func nodeJSON(node yaml.Node) ([]byte, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			return nil, nil
		}
		return []byte(node.Value), nil
	}
	var value any
	if err := node.Decode(&value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}
