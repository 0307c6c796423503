package services

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	domain "github.com/ledgerlink/billing/internal/domain"
)

func sampleOrder() domain.Order {
	return domain.Order{
		TransactionID: "T-1",
		CustomerID:    "C-1",
		ShipToCountry: strPtr("US"),
		ShipToCity:    strPtr("Portland"),
		Carrier:       strPtr("UPS Ground"),
		WeightLb:      decPtr("10.5"),
		TotalItemQty:  intPtr(3),
		SKUQuantity:   `[{"sku":"abc-1","quantity":2},{"sku":"XYZ-9","quantity":1}]`,
	}
}

func TestEvaluateRule(t *testing.T) {
	var logged []string
	evaluator := NewRuleEvaluator(RuleEvaluatorDeps{
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	order := sampleOrder()

	cases := []struct {
		name string
		rule domain.Rule
		want bool
	}{
		{"numeric gt", domain.Rule{Field: domain.FieldWeightLb, Operator: domain.OpGreaterThan, Value: "5"}, true},
		{"numeric le", domain.Rule{Field: domain.FieldWeightLb, Operator: domain.OpLessOrEqual, Value: "10.5"}, true},
		{"numeric ne", domain.Rule{Field: domain.FieldTotalItemQty, Operator: domain.OpNotEquals, Value: "3"}, false},
		{"numeric missing operand compares to zero", domain.Rule{Field: domain.FieldTotalItemQty, Operator: domain.OpGreaterThan, Value: " ; "}, true},
		{"numeric bad operand", domain.Rule{Field: domain.FieldTotalItemQty, Operator: domain.OpGreaterThan, Value: "lots"}, false},
		{"null field", domain.Rule{Field: domain.FieldPackages, Operator: domain.OpGreaterThan, Value: "0"}, false},
		{"string in list", domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpIn, Value: "CA; US"}, true},
		{"string not in list", domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpNotIn, Value: "CA;MX"}, true},
		{"string contains any", domain.Rule{Field: domain.FieldCarrier, Operator: domain.OpContains, Value: "FedEx;UPS"}, true},
		{"string ncontains", domain.Rule{Field: domain.FieldCarrier, Operator: domain.OpNotContains, Value: "FedEx"}, true},
		{"string startswith", domain.Rule{Field: domain.FieldShipToCity, Operator: domain.OpStartsWith, Value: "Port"}, true},
		{"string endswith is case sensitive", domain.Rule{Field: domain.FieldShipToCity, Operator: domain.OpEndsWith, Value: "LAND"}, false},
		{"string eq", domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpEquals, Value: "US"}, true},
		{"string ordering unhandled", domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpGreaterThan, Value: "A"}, false},
		{"sku contains normalises operand", domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpContains, Value: " ABC-1 "}, true},
		{"sku ncontains", domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpNotContains, Value: "nope"}, true},
		{"sku in matches rendered text", domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpIn, Value: "xyz"}, true},
		{"sku ni", domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpNotIn, Value: "QQQ"}, true},
		{"unknown field", domain.Rule{Field: "colour", Operator: domain.OpEquals, Value: "red"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := evaluator.EvaluateRule(context.Background(), tc.rule, order); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if len(logged) == 0 {
		t.Fatalf("expected unhandled rules to be logged")
	}
}

func TestEvaluateRuleInvalidSKUPayload(t *testing.T) {
	evaluator := NewRuleEvaluator(RuleEvaluatorDeps{})
	order := sampleOrder()
	order.SKUQuantity = `{"broken"`
	rule := domain.Rule{Field: domain.FieldSKUQuantity, Operator: domain.OpNotContains, Value: "ABC-1"}
	if evaluator.EvaluateRule(context.Background(), rule, order) {
		t.Fatalf("expected malformed payload to never match")
	}
}

func TestEvaluateRuleGroup(t *testing.T) {
	evaluator := NewRuleEvaluator(RuleEvaluatorDeps{})
	order := sampleOrder()
	match := domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpEquals, Value: "US"}
	miss := domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpEquals, Value: "CA"}

	cases := []struct {
		operator domain.LogicOperator
		rules    []domain.Rule
		want     bool
	}{
		{domain.LogicAnd, []domain.Rule{match, match}, true},
		{domain.LogicAnd, []domain.Rule{match, miss}, false},
		{"", []domain.Rule{match}, false},
		{"and", []domain.Rule{match}, false},
		{"or", []domain.Rule{miss, match}, false},
		{domain.LogicOr, []domain.Rule{miss, miss}, false},
		{domain.LogicXor, []domain.Rule{match, miss, miss}, true},
		{domain.LogicXor, []domain.Rule{match, match}, false},
		{domain.LogicNand, []domain.Rule{match, miss}, true},
		{domain.LogicNand, []domain.Rule{match, match}, false},
		{domain.LogicNot, []domain.Rule{miss, miss}, true},
		{domain.LogicNor, []domain.Rule{miss, match}, false},
		{"MAYBE", []domain.Rule{match}, false},
		{domain.LogicOr, nil, false},
	}

	for _, tc := range cases {
		group := domain.RuleGroup{ID: "G", LogicOperator: tc.operator, Rules: tc.rules}
		if got := evaluator.EvaluateRuleGroup(context.Background(), group, order); got != tc.want {
			t.Fatalf("%s over %d rules: expected %v, got %v", tc.operator, len(tc.rules), tc.want, got)
		}
	}
}

func TestRuleGroupOperatorIdentities(t *testing.T) {
	evaluator := NewRuleEvaluator(RuleEvaluatorDeps{})
	order := sampleOrder()
	build := func(pattern []bool) []domain.Rule {
		rules := make([]domain.Rule, len(pattern))
		for i, hit := range pattern {
			value := "CA"
			if hit {
				value = "US"
			}
			rules[i] = domain.Rule{Field: domain.FieldShipToCountry, Operator: domain.OpEquals, Value: value}
		}
		return rules
	}
	eval := func(op domain.LogicOperator, rules []domain.Rule) bool {
		return evaluator.EvaluateRuleGroup(context.Background(), domain.RuleGroup{LogicOperator: op, Rules: rules}, order)
	}

	properties := gopter.NewProperties(nil)
	properties.Property("NOT and NOR agree", prop.ForAll(
		func(pattern []bool) bool {
			rules := build(pattern)
			return eval(domain.LogicNot, rules) == eval(domain.LogicNor, rules)
		},
		gen.SliceOf(gen.Bool()),
	))
	properties.Property("NAND negates AND for non-empty groups", prop.ForAll(
		func(pattern []bool) bool {
			rules := build(pattern)
			return eval(domain.LogicNand, rules) == !eval(domain.LogicAnd, rules)
		},
		gen.SliceOfN(4, gen.Bool()),
	))
	properties.TestingRun(t)
}
