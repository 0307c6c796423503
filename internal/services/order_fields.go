package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// OrderValueKind tags the variant held by an OrderValue.
type OrderValueKind uint8

const (
	OrderValueNull OrderValueKind = iota
	OrderValueString
	OrderValueNumber
	OrderValueSKUs
)

// OrderValue is a typed order attribute resolved through the accessor table.
type OrderValue struct {
	Kind OrderValueKind
	Str  string
	Num  decimal.Decimal
	// Raw keeps the persisted sku_quantity payload for OrderValueSKUs.
	Raw any
}

// IsNull reports whether the attribute is unset on the order.
func (v OrderValue) IsNull() bool { return v.Kind == OrderValueNull }

// Interface converts the value for JSONLogic data documents.
func (v OrderValue) Interface() any {
	switch v.Kind {
	case OrderValueString:
		return v.Str
	case OrderValueNumber:
		f, _ := v.Num.Float64()
		return f
	case OrderValueSKUs:
		quantities := ParseSKUQuantities(v.Raw)
		out := make(map[string]any, len(quantities))
		for sku, qty := range quantities {
			f, _ := qty.Float64()
			out[sku] = f
		}
		return out
	}
	return nil
}

type orderAccessor func(order domain.Order) OrderValue

func stringAttr(get func(domain.Order) *string) orderAccessor {
	return func(order domain.Order) OrderValue {
		if value := get(order); value != nil {
			return OrderValue{Kind: OrderValueString, Str: *value}
		}
		return OrderValue{}
	}
}

func decimalAttr(get func(domain.Order) *decimal.Decimal) orderAccessor {
	return func(order domain.Order) OrderValue {
		if value := get(order); value != nil {
			return OrderValue{Kind: OrderValueNumber, Num: *value}
		}
		return OrderValue{}
	}
}

func intAttr(get func(domain.Order) *int64) orderAccessor {
	return func(order domain.Order) OrderValue {
		if value := get(order); value != nil {
			return OrderValue{Kind: OrderValueNumber, Num: decimal.NewFromInt(*value)}
		}
		return OrderValue{}
	}
}

// orderAccessors is keyed by order attribute name. It covers every rule field plus the address
// attributes that advanced conditions may reference.
var orderAccessors = map[domain.RuleField]orderAccessor{
	domain.FieldReferenceNumber: stringAttr(func(o domain.Order) *string { return o.ReferenceNumber }),
	domain.FieldShipToName:      stringAttr(func(o domain.Order) *string { return o.ShipToName }),
	domain.FieldShipToCompany:   stringAttr(func(o domain.Order) *string { return o.ShipToCompany }),
	domain.FieldShipToCity:      stringAttr(func(o domain.Order) *string { return o.ShipToCity }),
	domain.FieldShipToState:     stringAttr(func(o domain.Order) *string { return o.ShipToState }),
	domain.FieldShipToCountry:   stringAttr(func(o domain.Order) *string { return o.ShipToCountry }),
	domain.FieldNotes:           stringAttr(func(o domain.Order) *string { return o.Notes }),
	domain.FieldCarrier:         stringAttr(func(o domain.Order) *string { return o.Carrier }),
	"ship_to_address":           stringAttr(func(o domain.Order) *string { return o.ShipToAddress }),
	"ship_to_address2":          stringAttr(func(o domain.Order) *string { return o.ShipToAddress2 }),
	"ship_to_zip":               stringAttr(func(o domain.Order) *string { return o.ShipToZip }),

	domain.FieldWeightLb:     decimalAttr(func(o domain.Order) *decimal.Decimal { return o.WeightLb }),
	domain.FieldVolumeCuft:   decimalAttr(func(o domain.Order) *decimal.Decimal { return o.VolumeCuft }),
	domain.FieldLineItems:    intAttr(func(o domain.Order) *int64 { return o.LineItems }),
	domain.FieldTotalItemQty: intAttr(func(o domain.Order) *int64 { return o.TotalItemQty }),
	domain.FieldPackages:     intAttr(func(o domain.Order) *int64 { return o.Packages }),

	domain.FieldSKUQuantity: func(o domain.Order) OrderValue {
		if o.SKUQuantity == nil {
			return OrderValue{}
		}
		return OrderValue{Kind: OrderValueSKUs, Raw: o.SKUQuantity}
	},
}

// LookupOrderField resolves an attribute of the order. ok is false when the order has no such
// attribute; a known attribute that is unset resolves to a null value.
func LookupOrderField(order domain.Order, field domain.RuleField) (OrderValue, bool) {
	accessor, ok := orderAccessors[field]
	if !ok {
		return OrderValue{}, false
	}
	return accessor(order), true
}

// orderLogicData renders the order attributes as a JSONLogic data document.
func orderLogicData(order domain.Order) map[string]any {
	data := make(map[string]any, len(orderAccessors)+2)
	for field, accessor := range orderAccessors {
		data[string(field)] = accessor(order).Interface()
	}
	data["transaction_id"] = order.TransactionID
	data["customer_id"] = order.CustomerID
	return data
}
