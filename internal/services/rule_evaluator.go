package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// RuleEvaluator decides whether basic rules and rule groups match an order. Evaluation never
// fails: any problem resolves to "no match" and is logged.
type RuleEvaluator struct {
	logger func(context.Context, string, map[string]any)
}

type RuleEvaluatorDeps struct {
	Logger func(context.Context, string, map[string]any)
}

func NewRuleEvaluator(deps RuleEvaluatorDeps) *RuleEvaluator {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RuleEvaluator{logger: logger}
}

// EvaluateRule reports whether a single rule matches the order.
func (e *RuleEvaluator) EvaluateRule(ctx context.Context, rule domain.Rule, order domain.Order) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger(ctx, "rules.evaluate_failed", map[string]any{
				"ruleId":        rule.ID,
				"transactionId": order.TransactionID,
				"error":         fmt.Sprint(r),
			})
			matched = false
		}
	}()

	info, known := domain.LookupRuleField(string(rule.Field))
	value, resolved := LookupOrderField(order, rule.Field)
	if !known || !resolved {
		e.unhandled(ctx, rule)
		return false
	}
	if value.IsNull() {
		e.logger(ctx, "rules.field_missing", map[string]any{
			"ruleId":        rule.ID,
			"field":         string(rule.Field),
			"transactionId": order.TransactionID,
		})
		return false
	}

	operands := rule.Values()
	switch info.Kind {
	case domain.FieldKindNumeric:
		if result, handled := e.evaluateNumeric(ctx, rule, value, operands); handled {
			return result
		}
	case domain.FieldKindString:
		if result, handled := evaluateString(rule.Operator, value.Str, operands); handled {
			return result
		}
	case domain.FieldKindJSON:
		if result, handled := evaluateSKUQuantity(rule.Operator, value.Raw, operands); handled {
			return result
		}
	}

	e.unhandled(ctx, rule)
	return false
}

func (e *RuleEvaluator) unhandled(ctx context.Context, rule domain.Rule) {
	e.logger(ctx, "rules.unhandled", map[string]any{
		"ruleId":   rule.ID,
		"field":    string(rule.Field),
		"operator": string(rule.Operator),
	})
}

// evaluateNumeric compares the field against the first operand; a missing operand compares as zero.
func (e *RuleEvaluator) evaluateNumeric(ctx context.Context, rule domain.Rule, value OrderValue, operands []string) (bool, bool) {
	if !rule.Operator.IsOrdering() && rule.Operator != domain.OpEquals && rule.Operator != domain.OpNotEquals {
		return false, false
	}
	operand := decimal.Zero
	if len(operands) > 0 {
		parsed, err := decimal.NewFromString(operands[0])
		if err != nil {
			e.logger(ctx, "rules.numeric_conversion_failed", map[string]any{
				"ruleId": rule.ID,
				"field":  string(rule.Field),
				"value":  operands[0],
			})
			return false, true
		}
		operand = parsed
	}

	actual := value.Num
	switch rule.Operator {
	case domain.OpGreaterThan:
		return actual.GreaterThan(operand), true
	case domain.OpLessThan:
		return actual.LessThan(operand), true
	case domain.OpEquals:
		return actual.Equal(operand), true
	case domain.OpNotEquals:
		return !actual.Equal(operand), true
	case domain.OpGreaterOrEqual:
		return actual.GreaterThanOrEqual(operand), true
	case domain.OpLessOrEqual:
		return actual.LessThanOrEqual(operand), true
	}
	return false, false
}

func evaluateString(op domain.RuleOperator, actual string, operands []string) (bool, bool) {
	switch op {
	case domain.OpEquals, domain.OpNotEquals:
		if len(operands) == 0 {
			return false, true
		}
		equal := actual == operands[0]
		if op == domain.OpEquals {
			return equal, true
		}
		return !equal, true
	case domain.OpIn:
		return containsString(operands, actual), true
	case domain.OpNotIn:
		return !containsString(operands, actual), true
	case domain.OpContains:
		return anyOperand(operands, func(v string) bool { return strings.Contains(actual, v) }), true
	case domain.OpNotContains:
		return !anyOperand(operands, func(v string) bool { return strings.Contains(actual, v) }), true
	case domain.OpStartsWith:
		return anyOperand(operands, func(v string) bool { return strings.HasPrefix(actual, v) }), true
	case domain.OpEndsWith:
		return anyOperand(operands, func(v string) bool { return strings.HasSuffix(actual, v) }), true
	}
	return false, false
}

// evaluateSKUQuantity handles sku_quantity rules. "in" and "ni" keep the legacy behaviour of
// matching the normalised operand as a substring of the rendered mapping.
func evaluateSKUQuantity(op domain.RuleOperator, raw any, operands []string) (bool, bool) {
	switch op {
	case domain.OpContains, domain.OpNotContains, domain.OpIn, domain.OpNotIn:
	default:
		return false, false
	}
	if !ValidateSKUQuantities(raw) {
		return false, true
	}
	quantities := ParseSKUQuantities(raw)

	present := func(v string) bool {
		_, ok := quantities[NormalizeSKU(v)]
		return ok
	}
	rendered := quantities.Render()
	inRendered := func(v string) bool {
		return strings.Contains(rendered, NormalizeSKU(v))
	}

	switch op {
	case domain.OpContains:
		return anyOperand(operands, present), true
	case domain.OpNotContains:
		return !anyOperand(operands, present), true
	case domain.OpIn:
		return anyOperand(operands, inRendered), true
	default:
		return !anyOperand(operands, inRendered), true
	}
}

// EvaluateRuleGroup combines the results of every rule in the group with its logic operator.
// An empty group never matches. Operators are matched exactly; stores normalise them on load
// and anything unrecognised, including a blank operator, never matches.
func (e *RuleEvaluator) EvaluateRuleGroup(ctx context.Context, group domain.RuleGroup, order domain.Order) bool {
	if len(group.Rules) == 0 {
		e.logger(ctx, "rules.group_empty", map[string]any{"ruleGroupId": group.ID})
		return false
	}

	matches := 0
	for _, rule := range group.Rules {
		if e.EvaluateRule(ctx, rule, order) {
			matches++
		}
	}
	total := len(group.Rules)

	switch group.LogicOperator {
	case domain.LogicAnd:
		return matches == total
	case domain.LogicOr:
		return matches > 0
	case domain.LogicNot, domain.LogicNor:
		return matches == 0
	case domain.LogicXor:
		return matches == 1
	case domain.LogicNand:
		return matches < total
	}

	e.logger(ctx, "rules.unknown_logic_operator", map[string]any{
		"ruleGroupId": group.ID,
		"operator":    string(group.LogicOperator),
	})
	return false
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func anyOperand(operands []string, match func(string) bool) bool {
	for _, operand := range operands {
		if match(operand) {
			return true
		}
	}
	return false
}
