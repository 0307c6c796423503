package services

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	domain "github.com/ledgerlink/billing/internal/domain"
)

func newTestValidator(t *testing.T) *RuleValidator {
	t.Helper()
	validator, err := NewRuleValidator()
	if err != nil {
		t.Fatalf("NewRuleValidator: %v", err)
	}
	return validator
}

func TestValidateRule(t *testing.T) {
	validator := newTestValidator(t)

	cases := []struct {
		name    string
		rule    domain.Rule
		problem string
	}{
		{"valid numeric", domain.Rule{Field: domain.FieldWeightLb, Operator: domain.OpGreaterOrEqual, Value: "2.5"}, ""},
		{"valid string list", domain.Rule{Field: domain.FieldShipToState, Operator: domain.OpIn, Value: "OR;WA"}, ""},
		{"valid sku", domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpContains, Value: "ABC"}, ""},
		{"unknown field", domain.Rule{Field: "colour", Operator: domain.OpEquals, Value: "red"}, "unknown field"},
		{"unknown operator", domain.Rule{Field: domain.FieldCarrier, Operator: "like", Value: "UPS"}, "unknown operator"},
		{"missing value", domain.Rule{Field: domain.FieldCarrier, Operator: domain.OpEquals}, "value is required"},
		{"only separators", domain.Rule{Field: domain.FieldCarrier, Operator: domain.OpEquals, Value: ";;"}, "at least one operand"},
		{"ordering on string", domain.Rule{Field: domain.FieldCarrier, Operator: domain.OpLessThan, Value: "UPS"}, "not valid for string fields"},
		{"text operator on numeric", domain.Rule{Field: domain.FieldPackages, Operator: domain.OpStartsWith, Value: "1"}, "not valid for numeric fields"},
		{"non numeric operand", domain.Rule{Field: domain.FieldPackages, Operator: domain.OpGreaterThan, Value: "two"}, "requires numeric values"},
		{"ordering on sku", domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpGreaterThan, Value: "1"}, "not valid for JSON fields"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.ValidateRule(tc.rule)
			if tc.problem == "" {
				if err != nil {
					t.Fatalf("expected valid rule, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrRuleInvalid) {
				t.Fatalf("expected ErrRuleInvalid, got %v", err)
			}
			if !strings.Contains(strings.Join(ValidationProblems(err), "|"), tc.problem) {
				t.Fatalf("expected problem containing %q, got %v", tc.problem, ValidationProblems(err))
			}
		})
	}
}

func TestValidateConditions(t *testing.T) {
	validator := newTestValidator(t)

	valid := []string{
		``,
		`null`,
		`{"weight_lb":{"gt":5},"ship_to_zip":{"starts_with":"97"}}`,
		`{"total_item_qty":{"in_range":[1,10]},"logic":{">":[{"var":"packages"},1]}}`,
		`{"carrier":{"is_null":true}}`,
	}
	for _, raw := range valid {
		if err := validator.ValidateConditions(json.RawMessage(raw)); err != nil {
			t.Fatalf("expected %s to be valid, got %v", raw, err)
		}
	}

	invalid := map[string]string{
		`[1,2]`:                              "",
		`{"weight_lb":5}`:                    "",
		`{"colour":{"eq":"red"}}`:            "unknown field",
		`{"weight_lb":{"roughly":5}}`:        "unknown operator",
		`{"weight_lb":{"in_range":[1]}}`:     "[min, max]",
		`{"weight_lb":{"in_range":[1,"x"]}}`: "both be numbers",
		`{"carrier":{"eq":["a","b"]}}`:       "scalar",
		`{"carrier":{"regex":"("}}`:          "invalid pattern",
		`{"carrier":{"in":5}}`:               "list or a string",
		`{not json`:                          "valid JSON",
	}
	for raw, problem := range invalid {
		err := validator.ValidateConditions(json.RawMessage(raw))
		if !errors.Is(err, ErrConditionsInvalid) {
			t.Fatalf("expected %s to be invalid, got %v", raw, err)
		}
		if problem != "" && !strings.Contains(err.Error(), problem) {
			t.Fatalf("expected %s to report %q, got %v", raw, problem, err)
		}
	}
}

func TestValidateCalculations(t *testing.T) {
	validator := newTestValidator(t)

	if err := validator.ValidateCalculations(json.RawMessage(`[{"type":"flat_fee","value":2},{"type":"tiered_percentage","tiers":[{"min":0,"max":10,"percentage":1}]}]`)); err != nil {
		t.Fatalf("expected valid calculations, got %v", err)
	}

	invalid := []string{
		`{"type":"flat_fee"}`,
		`[{"value":2}]`,
		`[{"type":"discount","value":2}]`,
		`[{"type":"percentage"}]`,
		`[{"type":"tiered_percentage","tiers":[{"min":10,"max":1,"percentage":1}]}]`,
	}
	for _, raw := range invalid {
		if err := validator.ValidateCalculations(json.RawMessage(raw)); !errors.Is(err, ErrCalculationsInvalid) {
			t.Fatalf("expected %s to be invalid, got %v", raw, err)
		}
	}
}

func TestValidateAdvancedRule(t *testing.T) {
	validator := newTestValidator(t)
	rule := domain.Rule{Field: domain.FieldWeightLb, Operator: domain.OpGreaterThan, Value: "1"}

	if err := validator.ValidateAdvancedRule(rule); !errors.Is(err, ErrRuleInvalid) {
		t.Fatalf("expected missing adjustment to be rejected, got %v", err)
	}
	rule.AdjustmentAmount = decPtr("1.00")
	if err := validator.ValidateAdvancedRule(rule); err != nil {
		t.Fatalf("expected rule with adjustment to be valid, got %v", err)
	}
	rule.AdjustmentAmount = nil
	rule.Advanced = &domain.AdvancedExtension{Calculations: []domain.Calculation{domain.FlatFee{Amount: dec("3")}}}
	if err := validator.ValidateAdvancedRule(rule); err != nil {
		t.Fatalf("expected rule with calculations to be valid, got %v", err)
	}
}

func TestOperatorChoices(t *testing.T) {
	validator := newTestValidator(t)

	names := func(infos []domain.RuleOperatorInfo) string {
		parts := make([]string, len(infos))
		for i, info := range infos {
			parts[i] = string(info.Operator)
		}
		return strings.Join(parts, ",")
	}

	if got := names(validator.OperatorChoices("weight_lb")); got != "gt,lt,eq,ne,ge,le" {
		t.Fatalf("unexpected numeric operators %s", got)
	}
	if got := names(validator.OperatorChoices("sku_quantity")); got != "contains,ncontains" {
		t.Fatalf("unexpected sku operators %s", got)
	}
	if got := validator.OperatorChoices("mystery"); len(got) != len(domain.RuleOperators()) {
		t.Fatalf("expected every operator for unknown fields, got %d", len(got))
	}
	if len(validator.AvailableFields()) != 14 {
		t.Fatalf("expected 14 rule fields")
	}
	if !json.Valid(validator.ConditionsSchema()) || !json.Valid(validator.CalculationsSchema()) {
		t.Fatalf("expected schemas to be valid JSON")
	}
}
