package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// RuleField enumerates the order attributes a rule can inspect.
type RuleField string

const (
	FieldReferenceNumber RuleField = "reference_number"
	FieldShipToName      RuleField = "ship_to_name"
	FieldShipToCompany   RuleField = "ship_to_company"
	FieldShipToCity      RuleField = "ship_to_city"
	FieldShipToState     RuleField = "ship_to_state"
	FieldShipToCountry   RuleField = "ship_to_country"
	FieldWeightLb        RuleField = "weight_lb"
	FieldLineItems       RuleField = "line_items"
	FieldSKUQuantity     RuleField = "sku_quantity"
	FieldTotalItemQty    RuleField = "total_item_qty"
	FieldPackages        RuleField = "packages"
	FieldNotes           RuleField = "notes"
	FieldCarrier         RuleField = "carrier"
	FieldVolumeCuft      RuleField = "volume_cuft"
)

// FieldKind groups rule fields by the semantics of their values.
type FieldKind string

const (
	FieldKindNumeric FieldKind = "numeric"
	FieldKindString  FieldKind = "string"
	FieldKindJSON    FieldKind = "json"
)

// RuleFieldInfo describes a rule field for tooling endpoints.
type RuleFieldInfo struct {
	Field RuleField
	Label string
	Kind  FieldKind
}

var ruleFields = []RuleFieldInfo{
	{FieldReferenceNumber, "Reference Number", FieldKindString},
	{FieldShipToName, "Ship To Name", FieldKindString},
	{FieldShipToCompany, "Ship To Company", FieldKindString},
	{FieldShipToCity, "Ship To City", FieldKindString},
	{FieldShipToState, "Ship To State", FieldKindString},
	{FieldShipToCountry, "Ship To Country", FieldKindString},
	{FieldWeightLb, "Weight (lb)", FieldKindNumeric},
	{FieldLineItems, "Line Items", FieldKindNumeric},
	{FieldSKUQuantity, "SKU Quantity", FieldKindJSON},
	{FieldTotalItemQty, "Total Item Quantity", FieldKindNumeric},
	{FieldPackages, "Packages", FieldKindNumeric},
	{FieldNotes, "Notes", FieldKindString},
	{FieldCarrier, "Carrier", FieldKindString},
	{FieldVolumeCuft, "Volume (cuft)", FieldKindNumeric},
}

// RuleFields lists every rule field in display order.
func RuleFields() []RuleFieldInfo {
	out := make([]RuleFieldInfo, len(ruleFields))
	copy(out, ruleFields)
	return out
}

// LookupRuleField returns the metadata for a field name.
func LookupRuleField(name string) (RuleFieldInfo, bool) {
	name = strings.TrimSpace(name)
	for _, info := range ruleFields {
		if string(info.Field) == name {
			return info, true
		}
	}
	return RuleFieldInfo{}, false
}

// Kind returns the field kind, or an empty kind for unknown fields.
func (f RuleField) Kind() FieldKind {
	info, ok := LookupRuleField(string(f))
	if !ok {
		return ""
	}
	return info.Kind
}

// RuleOperator is the comparison applied by a basic rule.
type RuleOperator string

const (
	OpGreaterThan    RuleOperator = "gt"
	OpLessThan       RuleOperator = "lt"
	OpEquals         RuleOperator = "eq"
	OpNotEquals      RuleOperator = "ne"
	OpGreaterOrEqual RuleOperator = "ge"
	OpLessOrEqual    RuleOperator = "le"
	OpIn             RuleOperator = "in"
	OpNotIn          RuleOperator = "ni"
	OpContains       RuleOperator = "contains"
	OpNotContains    RuleOperator = "ncontains"
	OpStartsWith     RuleOperator = "startswith"
	OpEndsWith       RuleOperator = "endswith"
)

// RuleOperatorInfo pairs an operator with its display label.
type RuleOperatorInfo struct {
	Operator RuleOperator
	Label    string
}

var ruleOperators = []RuleOperatorInfo{
	{OpGreaterThan, "Greater than"},
	{OpLessThan, "Less than"},
	{OpEquals, "Equals"},
	{OpNotEquals, "Not equals"},
	{OpGreaterOrEqual, "Greater than or equals"},
	{OpLessOrEqual, "Less than or equals"},
	{OpIn, "In"},
	{OpNotIn, "Not in"},
	{OpContains, "Contains"},
	{OpNotContains, "Not contains"},
	{OpStartsWith, "Starts with"},
	{OpEndsWith, "Ends with"},
}

// RuleOperators lists every basic operator in display order.
func RuleOperators() []RuleOperatorInfo {
	out := make([]RuleOperatorInfo, len(ruleOperators))
	copy(out, ruleOperators)
	return out
}

// Valid reports whether the operator belongs to the basic operator set.
func (o RuleOperator) Valid() bool {
	for _, info := range ruleOperators {
		if info.Operator == o {
			return true
		}
	}
	return false
}

// IsOrdering reports whether the operator is an ordering comparator (gt, lt, ge, le).
func (o RuleOperator) IsOrdering() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return true
	}
	return false
}

// LogicOperator combines the results of the rules in a group.
type LogicOperator string

const (
	LogicAnd  LogicOperator = "AND"
	LogicOr   LogicOperator = "OR"
	LogicNot  LogicOperator = "NOT"
	LogicXor  LogicOperator = "XOR"
	LogicNand LogicOperator = "NAND"
	LogicNor  LogicOperator = "NOR"
)

// NormalizeLogicOperator converts a stored operator to its canonical upper-case form. A blank
// operator becomes AND, the default given to new rule groups.
func NormalizeLogicOperator(raw string) LogicOperator {
	operator := LogicOperator(strings.ToUpper(strings.TrimSpace(raw)))
	if operator == "" {
		return LogicAnd
	}
	return operator
}

// RuleGroup is a set of rules attached to a customer service.
type RuleGroup struct {
	ID                string
	CustomerServiceID string
	LogicOperator     LogicOperator
	Rules             []Rule
}

// Rule is a single condition over an order field. Rules with an Advanced extension also carry
// nested conditions and a calculation pipeline; they remain usable wherever a Rule is expected.
type Rule struct {
	ID               string
	RuleGroupID      string
	Field            RuleField
	Operator         RuleOperator
	Value            string
	AdjustmentAmount *decimal.Decimal
	Advanced         *AdvancedExtension
}

// Values splits the semicolon separated operand list, trimming blanks.
func (r Rule) Values() []string {
	parts := strings.Split(r.Value, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// IsAdvanced reports whether the rule carries an advanced extension.
func (r Rule) IsAdvanced() bool {
	return r.Advanced != nil
}

// AdvancedExtension holds the decoded conditions and calculations of an advanced rule.
type AdvancedExtension struct {
	Conditions []FieldCondition
	// Logic is an optional JSONLogic expression evaluated against the order's field values.
	Logic        json.RawMessage
	Calculations []Calculation
}
