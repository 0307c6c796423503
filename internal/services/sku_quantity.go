package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// ErrSKUQuantityMalformed is returned by DecodeSKUQuantities when the payload as a whole cannot be read.
var ErrSKUQuantityMalformed = errors.New("sku quantity: malformed payload")

// SKUQuantities maps normalised SKUs to their summed quantities.
type SKUQuantities map[string]decimal.Decimal

// SKUQuantityEntry is the typed form of one {sku, quantity} record.
type SKUQuantityEntry struct {
	SKU      string          `json:"sku"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SKUIssue describes an entry skipped while parsing a payload.
type SKUIssue struct {
	Index  int
	SKU    string
	Reason string
}

// NormalizeSKU strips all whitespace and upper-cases the token.
func NormalizeSKU(raw string) string {
	return domain.NormalizeSKU(raw)
}

// ParseSKUQuantities reads a SKU/quantity payload leniently: malformed entries are skipped and a
// payload that cannot be read at all yields an empty map.
func ParseSKUQuantities(raw any) SKUQuantities {
	quantities, _, err := parseSKUQuantities(raw)
	if err != nil {
		return SKUQuantities{}
	}
	return quantities
}

// DecodeSKUQuantities is the strict variant of ParseSKUQuantities. Malformed entries are still
// skipped and reported as issues, but an unreadable payload returns ErrSKUQuantityMalformed.
// A nil or blank payload decodes to an empty map.
func DecodeSKUQuantities(raw any) (SKUQuantities, []SKUIssue, error) {
	return parseSKUQuantities(raw)
}

// ValidateSKUQuantities reports whether the payload yields at least one valid entry.
func ValidateSKUQuantities(raw any) bool {
	quantities := ParseSKUQuantities(raw)
	if len(quantities) == 0 {
		return false
	}
	for sku, qty := range quantities {
		if strings.TrimSpace(sku) == "" || !qty.IsPositive() {
			return false
		}
	}
	return true
}

func parseSKUQuantities(raw any) (SKUQuantities, []SKUIssue, error) {
	records, err := skuRecords(raw)
	if err != nil {
		return SKUQuantities{}, nil, err
	}

	quantities := make(SKUQuantities, len(records))
	var issues []SKUIssue
	for i, record := range records {
		entry, ok := record.(map[string]any)
		if !ok {
			issues = append(issues, SKUIssue{Index: i, Reason: fmt.Sprintf("entry must be an object, got %T", record)})
			continue
		}
		rawSKU, hasSKU := entry["sku"]
		rawQty, hasQty := entry["quantity"]
		if !hasSKU || !hasQty || rawSKU == nil {
			issues = append(issues, SKUIssue{Index: i, Reason: "entry missing sku or quantity"})
			continue
		}
		sku := NormalizeSKU(skuString(rawSKU))
		if sku == "" {
			issues = append(issues, SKUIssue{Index: i, Reason: "sku is empty"})
			continue
		}
		qty, ok := positiveQuantity(rawQty)
		if !ok {
			issues = append(issues, SKUIssue{Index: i, SKU: sku, Reason: fmt.Sprintf("invalid quantity %v", rawQty)})
			continue
		}
		quantities[sku] = quantities[sku].Add(qty)
	}
	return quantities, issues, nil
}

// skuRecords flattens the accepted encodings into a list of generic records.
func skuRecords(raw any) ([]any, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return decodeSKUJSON([]byte(value))
	case []byte:
		return decodeSKUJSON(value)
	case json.RawMessage:
		return decodeSKUJSON(value)
	case []any:
		return value, nil
	case []map[string]any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = value[i]
		}
		return out, nil
	case []SKUQuantityEntry:
		out := make([]any, len(value))
		for i, entry := range value {
			out[i] = map[string]any{"sku": entry.SKU, "quantity": entry.Quantity}
		}
		return out, nil
	case map[string]any:
		return mappingRecords(value), nil
	case map[string]int64:
		generic := make(map[string]any, len(value))
		for sku, qty := range value {
			generic[sku] = qty
		}
		return mappingRecords(generic), nil
	}
	return nil, fmt.Errorf("%w: unsupported payload type %T", ErrSKUQuantityMalformed, raw)
}

func decodeSKUJSON(data []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSKUQuantityMalformed, err)
	}
	switch value := decoded.(type) {
	case []any:
		return value, nil
	case map[string]any:
		return mappingRecords(value), nil
	}
	return nil, fmt.Errorf("%w: expected a list of entries, got %T", ErrSKUQuantityMalformed, decoded)
}

// mappingRecords turns a {"sku": quantity} mapping into records, ordered by key.
func mappingRecords(mapping map[string]any) []any {
	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, map[string]any{"sku": key, "quantity": mapping[key]})
	}
	return out
}

func skuString(raw any) string {
	switch value := raw.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case fmt.Stringer:
		return value.String()
	}
	return fmt.Sprint(raw)
}

func positiveQuantity(raw any) (decimal.Decimal, bool) {
	var (
		qty decimal.Decimal
		err error
	)
	switch value := raw.(type) {
	case decimal.Decimal:
		qty = value
	case json.Number:
		qty, err = decimal.NewFromString(value.String())
	case string:
		qty, err = decimal.NewFromString(strings.TrimSpace(value))
	case float64:
		qty = decimal.NewFromFloat(value)
	case float32:
		qty = decimal.NewFromFloat32(value)
	case int:
		qty = decimal.NewFromInt(int64(value))
	case int64:
		qty = decimal.NewFromInt(value)
	case int32:
		qty = decimal.NewFromInt32(value)
	case uint64:
		qty = decimal.NewFromUint64(value)
	case bool:
		// JSON true counts as a single unit; false is zero and skipped.
		if value {
			qty = decimal.NewFromInt(1)
		}
	default:
		return decimal.Zero, false
	}
	if err != nil || !qty.IsPositive() {
		return decimal.Zero, false
	}
	return qty, true
}

// SKUs returns the normalised SKUs in sorted order.
func (q SKUQuantities) SKUs() []string {
	keys := make([]string, 0, len(q))
	for sku := range q {
		keys = append(keys, sku)
	}
	sort.Strings(keys)
	return keys
}

// Total sums every quantity in the map.
func (q SKUQuantities) Total() decimal.Decimal {
	total := decimal.Zero
	for _, qty := range q {
		total = total.Add(qty)
	}
	return total
}

// Render prints the mapping as {'SKU': 5.0, ...} with keys sorted. Legacy sku_quantity "in"
// rules match operands as substrings of this text.
func (q SKUQuantities) Render() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, sku := range q.SKUs() {
		if i > 0 {
			b.WriteString(", ")
		}
		qty := q[sku]
		text := qty.String()
		if qty.Equal(qty.Truncate(0)) {
			text = qty.Truncate(0).String() + ".0"
		}
		fmt.Fprintf(&b, "'%s': %s", sku, text)
	}
	b.WriteByte('}')
	return b.String()
}
