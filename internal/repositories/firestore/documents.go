package firestore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/repositories"
)

// Collection layout:
//
//	customers/{customerId}
//	customers/{customerId}/services/{customerServiceId}
//	customers/{customerId}/orders/{transactionId}
//	customers/{customerId}/products/{normalizedSku}
//	ruleGroups/{ruleGroupId}
const (
	customersCollection  = "customers"
	servicesCollection   = "services"
	ordersCollection     = "orders"
	productsCollection   = "products"
	ruleGroupsCollection = "ruleGroups"
)

type customerDocument struct {
	Name string `firestore:"name"`
}

type customerServiceDocument struct {
	ServiceID   string   `firestore:"serviceId"`
	ServiceName string   `firestore:"serviceName"`
	ChargeType  string   `firestore:"chargeType"`
	UnitPrice   *string  `firestore:"unitPrice,omitempty"`
	SKUs        []string `firestore:"skus,omitempty"`
}

type orderDocument struct {
	CloseDate       *time.Time `firestore:"closeDate,omitempty"`
	ReferenceNumber *string    `firestore:"referenceNumber,omitempty"`
	ShipToName      *string    `firestore:"shipToName,omitempty"`
	ShipToCompany   *string    `firestore:"shipToCompany,omitempty"`
	ShipToAddress   *string    `firestore:"shipToAddress,omitempty"`
	ShipToAddress2  *string    `firestore:"shipToAddress2,omitempty"`
	ShipToCity      *string    `firestore:"shipToCity,omitempty"`
	ShipToState     *string    `firestore:"shipToState,omitempty"`
	ShipToZip       *string    `firestore:"shipToZip,omitempty"`
	ShipToCountry   *string    `firestore:"shipToCountry,omitempty"`
	Carrier         *string    `firestore:"carrier,omitempty"`
	Notes           *string    `firestore:"notes,omitempty"`
	WeightLb        *string    `firestore:"weightLb,omitempty"`
	VolumeCuft      *string    `firestore:"volumeCuft,omitempty"`
	LineItems       *int64     `firestore:"lineItems,omitempty"`
	TotalItemQty    *int64     `firestore:"totalItemQty,omitempty"`
	Packages        *int64     `firestore:"packages,omitempty"`
	// SKUQuantity keeps the JSON text exactly as imported from the warehouse system.
	SKUQuantity *string `firestore:"skuQuantity,omitempty"`
}

type productDocument struct {
	SKU      string             `firestore:"sku"`
	Labeling []labelingDocument `firestore:"labeling,omitempty"`
}

type labelingDocument struct {
	Unit     string `firestore:"unit"`
	Quantity *int64 `firestore:"quantity,omitempty"`
}

type ruleGroupDocument struct {
	CustomerServiceID string         `firestore:"customerServiceId"`
	LogicOperator     string         `firestore:"logicOperator"`
	Rules             []ruleDocument `firestore:"rules,omitempty"`
}

type ruleDocument struct {
	ID               string  `firestore:"id"`
	Field            string  `firestore:"field"`
	Operator         string  `firestore:"operator"`
	Value            string  `firestore:"value"`
	AdjustmentAmount *string `firestore:"adjustmentAmount,omitempty"`
	Conditions       string  `firestore:"conditions,omitempty"`
	Calculations     string  `firestore:"calculations,omitempty"`
}

func encodeCustomerServiceDocument(cs domain.CustomerService) customerServiceDocument {
	doc := customerServiceDocument{
		ServiceID:   cs.Service.ID,
		ServiceName: cs.Service.Name,
		ChargeType:  string(cs.Service.ChargeType),
		SKUs:        append([]string(nil), cs.SKUs...),
	}
	if cs.UnitPrice != nil {
		price := cs.UnitPrice.String()
		doc.UnitPrice = &price
	}
	return doc
}

func decodeCustomerServiceDocument(id, customerID string, doc customerServiceDocument) (domain.CustomerService, error) {
	price, err := repositories.ParseOptionalDecimal(derefString(doc.UnitPrice))
	if err != nil {
		return domain.CustomerService{}, fmt.Errorf("unit price: %w", err)
	}
	return domain.CustomerService{
		ID:         id,
		CustomerID: customerID,
		Service: domain.Service{
			ID:         doc.ServiceID,
			Name:       doc.ServiceName,
			ChargeType: domain.ChargeType(strings.ToLower(strings.TrimSpace(doc.ChargeType))),
		},
		UnitPrice: price,
		SKUs:      append([]string(nil), doc.SKUs...),
	}, nil
}

func encodeOrderDocument(order domain.Order) (orderDocument, error) {
	doc := orderDocument{
		ReferenceNumber: order.ReferenceNumber,
		ShipToName:      order.ShipToName,
		ShipToCompany:   order.ShipToCompany,
		ShipToAddress:   order.ShipToAddress,
		ShipToAddress2:  order.ShipToAddress2,
		ShipToCity:      order.ShipToCity,
		ShipToState:     order.ShipToState,
		ShipToZip:       order.ShipToZip,
		ShipToCountry:   order.ShipToCountry,
		Carrier:         order.Carrier,
		Notes:           order.Notes,
		LineItems:       order.LineItems,
		TotalItemQty:    order.TotalItemQty,
		Packages:        order.Packages,
	}
	if order.CloseDate != nil {
		utc := order.CloseDate.UTC()
		doc.CloseDate = &utc
	}
	if order.WeightLb != nil {
		weight := order.WeightLb.String()
		doc.WeightLb = &weight
	}
	if order.VolumeCuft != nil {
		volume := order.VolumeCuft.String()
		doc.VolumeCuft = &volume
	}
	switch raw := order.SKUQuantity.(type) {
	case nil:
	case string:
		doc.SKUQuantity = &raw
	case json.RawMessage:
		text := string(raw)
		doc.SKUQuantity = &text
	case []byte:
		text := string(raw)
		doc.SKUQuantity = &text
	default:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return orderDocument{}, fmt.Errorf("sku quantity: %w", err)
		}
		text := string(encoded)
		doc.SKUQuantity = &text
	}
	return doc, nil
}

func decodeOrderDocument(id, customerID string, doc orderDocument) (domain.Order, error) {
	weight, err := repositories.ParseOptionalDecimal(derefString(doc.WeightLb))
	if err != nil {
		return domain.Order{}, fmt.Errorf("weight: %w", err)
	}
	volume, err := repositories.ParseOptionalDecimal(derefString(doc.VolumeCuft))
	if err != nil {
		return domain.Order{}, fmt.Errorf("volume: %w", err)
	}
	order := domain.Order{
		TransactionID:   id,
		CustomerID:      customerID,
		ReferenceNumber: doc.ReferenceNumber,
		ShipToName:      doc.ShipToName,
		ShipToCompany:   doc.ShipToCompany,
		ShipToAddress:   doc.ShipToAddress,
		ShipToAddress2:  doc.ShipToAddress2,
		ShipToCity:      doc.ShipToCity,
		ShipToState:     doc.ShipToState,
		ShipToZip:       doc.ShipToZip,
		ShipToCountry:   doc.ShipToCountry,
		Carrier:         doc.Carrier,
		Notes:           doc.Notes,
		WeightLb:        weight,
		VolumeCuft:      volume,
		LineItems:       doc.LineItems,
		TotalItemQty:    doc.TotalItemQty,
		Packages:        doc.Packages,
	}
	if doc.CloseDate != nil {
		closed := doc.CloseDate.UTC()
		order.CloseDate = &closed
	}
	if doc.SKUQuantity != nil {
		order.SKUQuantity = *doc.SKUQuantity
	}
	return order, nil
}

func encodeProductDocument(product domain.Product) productDocument {
	doc := productDocument{SKU: domain.NormalizeSKU(product.SKU)}
	for _, level := range product.Labeling {
		doc.Labeling = append(doc.Labeling, labelingDocument{Unit: level.Unit, Quantity: level.Quantity})
	}
	return doc
}

func decodeProductDocument(customerID string, doc productDocument) domain.Product {
	product := domain.Product{SKU: doc.SKU, CustomerID: customerID}
	for _, level := range doc.Labeling {
		if strings.TrimSpace(level.Unit) == "" && level.Quantity == nil {
			break
		}
		product.Labeling = append(product.Labeling, domain.ProductLabeling{Unit: level.Unit, Quantity: level.Quantity})
	}
	return product
}

func encodeRuleGroupDocument(group domain.RuleGroup) (ruleGroupDocument, error) {
	doc := ruleGroupDocument{
		CustomerServiceID: group.CustomerServiceID,
		LogicOperator:     string(group.LogicOperator),
	}
	for _, rule := range group.Rules {
		ruleDoc := ruleDocument{
			ID:       rule.ID,
			Field:    string(rule.Field),
			Operator: string(rule.Operator),
			Value:    rule.Value,
		}
		if rule.AdjustmentAmount != nil {
			amount := rule.AdjustmentAmount.String()
			ruleDoc.AdjustmentAmount = &amount
		}
		if ext := rule.Advanced; ext != nil {
			if len(ext.Conditions) > 0 || len(ext.Logic) > 0 {
				encoded, err := domain.EncodeConditions(ext.Conditions, ext.Logic)
				if err != nil {
					return ruleGroupDocument{}, fmt.Errorf("rule %s conditions: %w", rule.ID, err)
				}
				ruleDoc.Conditions = string(encoded)
			}
			if len(ext.Calculations) > 0 {
				encoded, err := domain.EncodeCalculations(ext.Calculations)
				if err != nil {
					return ruleGroupDocument{}, fmt.Errorf("rule %s calculations: %w", rule.ID, err)
				}
				ruleDoc.Calculations = string(encoded)
			}
		}
		doc.Rules = append(doc.Rules, ruleDoc)
	}
	return doc, nil
}

func decodeRuleGroupDocument(id string, doc ruleGroupDocument) (domain.RuleGroup, error) {
	group := domain.RuleGroup{
		ID:                id,
		CustomerServiceID: doc.CustomerServiceID,
		LogicOperator:     domain.NormalizeLogicOperator(doc.LogicOperator),
		Rules:             make([]domain.Rule, 0, len(doc.Rules)),
	}
	for _, ruleDoc := range doc.Rules {
		amount, err := repositories.ParseOptionalDecimal(derefString(ruleDoc.AdjustmentAmount))
		if err != nil {
			return domain.RuleGroup{}, fmt.Errorf("rule %s adjustment: %w", ruleDoc.ID, err)
		}
		advanced, err := repositories.DecodeAdvanced([]byte(ruleDoc.Conditions), []byte(ruleDoc.Calculations))
		if err != nil {
			return domain.RuleGroup{}, fmt.Errorf("rule %s: %w", ruleDoc.ID, err)
		}
		group.Rules = append(group.Rules, domain.Rule{
			ID:               ruleDoc.ID,
			RuleGroupID:      id,
			Field:            domain.RuleField(ruleDoc.Field),
			Operator:         domain.RuleOperator(ruleDoc.Operator),
			Value:            ruleDoc.Value,
			AdjustmentAmount: amount,
			Advanced:         advanced,
		})
	}
	return group, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
