package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedCalculations is returned when a persisted calculation list cannot be decoded.
var ErrMalformedCalculations = errors.New("calculations: malformed document")

// CalculationType names a calculation step.
type CalculationType string

const (
	CalcFlatFee          CalculationType = "flat_fee"
	CalcPercentage       CalculationType = "percentage"
	CalcPerUnit          CalculationType = "per_unit"
	CalcWeightBased      CalculationType = "weight_based"
	CalcVolumeBased      CalculationType = "volume_based"
	CalcTieredPercentage CalculationType = "tiered_percentage"
	CalcProductSpecific  CalculationType = "product_specific"
)

// CalculationTypeInfo pairs a calculation type with a label and the shape of its value.
type CalculationTypeInfo struct {
	Type        CalculationType
	Label       string
	Description string
}

var calculationTypes = []CalculationTypeInfo{
	{CalcFlatFee, "Flat fee", "Adds a fixed amount"},
	{CalcPercentage, "Percentage", "Adds a percentage of the running amount"},
	{CalcPerUnit, "Per unit", "Adds a rate per item in the order"},
	{CalcWeightBased, "Weight based", "Adds a rate per pound"},
	{CalcVolumeBased, "Volume based", "Adds a rate per cubic foot"},
	{CalcTieredPercentage, "Tiered percentage", "Adds the percentage of the first tier whose bounds hold the running amount"},
	{CalcProductSpecific, "Product specific", "Adds a per-SKU rate multiplied by the ordered quantity"},
}

// CalculationTypes lists the supported calculation types in display order.
func CalculationTypes() []CalculationTypeInfo {
	out := make([]CalculationTypeInfo, len(calculationTypes))
	copy(out, calculationTypes)
	return out
}

// Calculation is one step of an advanced rule's calculation pipeline.
type Calculation interface {
	Type() CalculationType
}

// FlatFee adds a constant amount.
type FlatFee struct {
	Amount decimal.Decimal
}

// Percentage adds Percent percent of the running amount.
type Percentage struct {
	Percent decimal.Decimal
}

// PerUnit adds Rate per item in the order.
type PerUnit struct {
	Rate decimal.Decimal
}

// WeightBased adds Rate per pound of order weight.
type WeightBased struct {
	Rate decimal.Decimal
}

// VolumeBased adds Rate per cubic foot of order volume.
type VolumeBased struct {
	Rate decimal.Decimal
}

// PercentageTier is an inclusive amount band with its percentage.
type PercentageTier struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	Percentage decimal.Decimal
}

// TieredPercentage adds the percentage of the first tier containing the running amount.
type TieredPercentage struct {
	Tiers []PercentageTier
}

// ProductSpecific adds a per-SKU rate times the ordered quantity of that SKU.
type ProductSpecific struct {
	Rates map[string]decimal.Decimal
}

func (FlatFee) Type() CalculationType          { return CalcFlatFee }
func (Percentage) Type() CalculationType       { return CalcPercentage }
func (PerUnit) Type() CalculationType          { return CalcPerUnit }
func (WeightBased) Type() CalculationType      { return CalcWeightBased }
func (VolumeBased) Type() CalculationType      { return CalcVolumeBased }
func (TieredPercentage) Type() CalculationType { return CalcTieredPercentage }
func (ProductSpecific) Type() CalculationType  { return CalcProductSpecific }

// calculationDocument is the persisted wire form of a calculation step.
type calculationDocument struct {
	Type  string                     `json:"type"`
	Value json.RawMessage            `json:"value,omitempty"`
	Tiers []tierDocument             `json:"tiers,omitempty"`
	Rates map[string]decimal.Decimal `json:"rates,omitempty"`
}

type tierDocument struct {
	Min        decimal.Decimal `json:"min"`
	Max        decimal.Decimal `json:"max"`
	Percentage decimal.Decimal `json:"percentage"`
}

// DecodeCalculations decodes a persisted calculation list. Tiers are read from "tiers" or, when
// "value" holds an array, from "value". Product rates are read from "rates" or an object "value".
func DecodeCalculations(raw []byte) ([]Calculation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var documents []calculationDocument
	if err := json.Unmarshal(trimmed, &documents); err != nil {
		return nil, fmt.Errorf("%w: calculations must be a JSON array of objects: %v", ErrMalformedCalculations, err)
	}

	out := make([]Calculation, 0, len(documents))
	for i, doc := range documents {
		calc, err := decodeCalculation(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: calculation %d: %v", ErrMalformedCalculations, i, err)
		}
		out = append(out, calc)
	}
	return out, nil
}

func decodeCalculation(doc calculationDocument) (Calculation, error) {
	kind := CalculationType(strings.TrimSpace(doc.Type))
	switch kind {
	case CalcFlatFee, CalcPercentage, CalcPerUnit, CalcWeightBased, CalcVolumeBased:
		amount, err := decodeAmount(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		switch kind {
		case CalcFlatFee:
			return FlatFee{Amount: amount}, nil
		case CalcPercentage:
			return Percentage{Percent: amount}, nil
		case CalcPerUnit:
			return PerUnit{Rate: amount}, nil
		case CalcWeightBased:
			return WeightBased{Rate: amount}, nil
		default:
			return VolumeBased{Rate: amount}, nil
		}
	case CalcTieredPercentage:
		tiers := doc.Tiers
		if len(tiers) == 0 && isJSONArray(doc.Value) {
			if err := json.Unmarshal(doc.Value, &tiers); err != nil {
				return nil, fmt.Errorf("tiered_percentage: invalid tiers: %w", err)
			}
		}
		if len(tiers) == 0 {
			return nil, errors.New("tiered_percentage: tiers are required")
		}
		calc := TieredPercentage{Tiers: make([]PercentageTier, 0, len(tiers))}
		for _, tier := range tiers {
			calc.Tiers = append(calc.Tiers, PercentageTier(tier))
		}
		return calc, nil
	case CalcProductSpecific:
		rates := doc.Rates
		if len(rates) == 0 && isJSONObject(doc.Value) {
			if err := json.Unmarshal(doc.Value, &rates); err != nil {
				return nil, fmt.Errorf("product_specific: invalid rates: %w", err)
			}
		}
		if len(rates) == 0 {
			return nil, errors.New("product_specific: rates are required")
		}
		return ProductSpecific{Rates: rates}, nil
	case "":
		return nil, errors.New("type is required")
	}
	return nil, fmt.Errorf("unknown calculation type %q", kind)
}

// decodeAmount accepts both JSON numbers and numeric strings.
func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return decimal.Zero, errors.New("value is required")
	}
	var amount decimal.Decimal
	if err := json.Unmarshal(raw, &amount); err != nil {
		return decimal.Zero, fmt.Errorf("value must be numeric: %w", err)
	}
	return amount, nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// EncodeCalculations renders a calculation list in its persisted wire form.
func EncodeCalculations(calcs []Calculation) ([]byte, error) {
	documents := make([]calculationDocument, 0, len(calcs))
	for _, calc := range calcs {
		doc := calculationDocument{Type: string(calc.Type())}
		switch c := calc.(type) {
		case FlatFee:
			doc.Value = amountJSON(c.Amount)
		case Percentage:
			doc.Value = amountJSON(c.Percent)
		case PerUnit:
			doc.Value = amountJSON(c.Rate)
		case WeightBased:
			doc.Value = amountJSON(c.Rate)
		case VolumeBased:
			doc.Value = amountJSON(c.Rate)
		case TieredPercentage:
			for _, tier := range c.Tiers {
				doc.Tiers = append(doc.Tiers, tierDocument(tier))
			}
		case ProductSpecific:
			doc.Rates = c.Rates
		default:
			return nil, fmt.Errorf("unsupported calculation %T", calc)
		}
		documents = append(documents, doc)
	}
	return json.Marshal(documents)
}

func amountJSON(d decimal.Decimal) json.RawMessage {
	return json.RawMessage(d.String())
}

// SortedRateSKUs returns the product rate keys in a stable order.
func (p ProductSpecific) SortedRateSKUs() []string {
	keys := make([]string, 0, len(p.Rates))
	for sku := range p.Rates {
		keys = append(keys, sku)
	}
	sort.Strings(keys)
	return keys
}
