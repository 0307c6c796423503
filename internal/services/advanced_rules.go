package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// ErrIncomparable is returned by Compare when the operator cannot apply to the operand types.
var ErrIncomparable = errors.New("rules: incomparable values")

var hundred = decimal.NewFromInt(100)

// AdvancedRuleEngine evaluates advanced rule conditions and runs calculation pipelines.
type AdvancedRuleEngine struct {
	validator *RuleValidator
	logger    func(context.Context, string, map[string]any)
}

type AdvancedRuleEngineDeps struct {
	Validator *RuleValidator
	Logger    func(context.Context, string, map[string]any)
}

func NewAdvancedRuleEngine(deps AdvancedRuleEngineDeps) (*AdvancedRuleEngine, error) {
	if deps.Validator == nil {
		return nil, errors.New("advanced rule engine: validator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AdvancedRuleEngine{validator: deps.Validator, logger: logger}, nil
}

// EvaluateConditions reports whether the rule's base definition is valid and every advanced
// condition holds for the order. Errors fail closed.
func (e *AdvancedRuleEngine) EvaluateConditions(ctx context.Context, rule domain.Rule, order domain.Order) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger(ctx, "rules.conditions_failed", map[string]any{
				"ruleId": rule.ID,
				"error":  fmt.Sprint(r),
			})
			matched = false
		}
	}()

	if err := e.validator.ValidateRule(rule); err != nil {
		e.logger(ctx, "rules.conditions_invalid_rule", map[string]any{
			"ruleId": rule.ID,
			"error":  err.Error(),
		})
		return false
	}
	if rule.Advanced == nil {
		return true
	}

	for _, condition := range rule.Advanced.Conditions {
		actual, known := LookupOrderField(order, condition.Field)
		if !known {
			e.logger(ctx, "rules.conditions_unknown_field", map[string]any{
				"ruleId": rule.ID,
				"field":  string(condition.Field),
			})
			return false
		}
		for _, criterion := range condition.Criteria {
			ok, err := Compare(actual, criterion.Operator, criterion.Expected)
			if err != nil {
				e.logger(ctx, "rules.conditions_compare_failed", map[string]any{
					"ruleId":   rule.ID,
					"field":    string(condition.Field),
					"operator": string(criterion.Operator),
					"error":    err.Error(),
				})
				return false
			}
			if !ok {
				return false
			}
		}
	}

	if len(rule.Advanced.Logic) > 0 {
		ok, err := evaluateLogic(rule.Advanced.Logic, order)
		if err != nil {
			e.logger(ctx, "rules.conditions_logic_failed", map[string]any{
				"ruleId": rule.ID,
				"error":  err.Error(),
			})
			return false
		}
		return ok
	}
	return true
}

// ApplyCalculations folds the rule's calculation steps over base. Any failure returns base unchanged.
func (e *AdvancedRuleEngine) ApplyCalculations(ctx context.Context, rule domain.Rule, order domain.Order, base decimal.Decimal) decimal.Decimal {
	if rule.Advanced == nil || len(rule.Advanced.Calculations) == 0 {
		return base
	}
	amount, err := foldCalculations(rule.Advanced.Calculations, order, base)
	if err != nil {
		e.logger(ctx, "rules.calculations_failed", map[string]any{
			"ruleId":        rule.ID,
			"transactionId": order.TransactionID,
			"error":         err.Error(),
		})
		return base
	}
	return amount
}

// Adjust applies an advanced rule to a computed cost when its conditions hold: calculations
// fold over the cost, otherwise the adjustment amount is added. applied is false when the rule
// left the cost untouched.
func (e *AdvancedRuleEngine) Adjust(ctx context.Context, rule domain.Rule, order domain.Order, cost decimal.Decimal) (adjusted decimal.Decimal, applied bool) {
	if !rule.IsAdvanced() || !e.EvaluateConditions(ctx, rule, order) {
		return cost, false
	}
	if len(rule.Advanced.Calculations) > 0 {
		return e.ApplyCalculations(ctx, rule, order, cost), true
	}
	if rule.AdjustmentAmount != nil {
		return cost.Add(*rule.AdjustmentAmount), true
	}
	return cost, false
}

func foldCalculations(calcs []domain.Calculation, order domain.Order, base decimal.Decimal) (amount decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("calculation panicked: %v", r)
		}
	}()

	amount = base
	for i, calc := range calcs {
		switch c := calc.(type) {
		case domain.FlatFee:
			amount = amount.Add(c.Amount)
		case domain.Percentage:
			amount = amount.Add(amount.Mul(c.Percent).Div(hundred))
		case domain.PerUnit:
			if order.TotalItemQty == nil {
				return base, fmt.Errorf("step %d: per_unit requires total_item_qty", i)
			}
			amount = amount.Add(decimal.NewFromInt(*order.TotalItemQty).Mul(c.Rate))
		case domain.WeightBased:
			if order.WeightLb != nil && !order.WeightLb.IsZero() {
				amount = amount.Add(order.WeightLb.Mul(c.Rate))
			}
		case domain.VolumeBased:
			if order.VolumeCuft != nil && !order.VolumeCuft.IsZero() {
				amount = amount.Add(order.VolumeCuft.Mul(c.Rate))
			}
		case domain.TieredPercentage:
			amount = applyFirstTier(amount, c.Tiers)
		case domain.ProductSpecific:
			if order.SKUQuantity == nil {
				continue
			}
			quantities, _, decodeErr := DecodeSKUQuantities(order.SKUQuantity)
			if decodeErr != nil {
				return base, fmt.Errorf("step %d: %w", i, decodeErr)
			}
			rates := make(map[string]decimal.Decimal, len(c.Rates))
			for _, sku := range c.SortedRateSKUs() {
				rates[NormalizeSKU(sku)] = c.Rates[sku]
			}
			for _, sku := range quantities.SKUs() {
				if rate, ok := rates[sku]; ok {
					amount = amount.Add(quantities[sku].Mul(rate))
				}
			}
		default:
			return base, fmt.Errorf("step %d: unsupported calculation %T", i, calc)
		}
	}
	return amount, nil
}

func applyFirstTier(amount decimal.Decimal, tiers []domain.PercentageTier) decimal.Decimal {
	for _, tier := range tiers {
		if amount.GreaterThanOrEqual(tier.Min) && amount.LessThanOrEqual(tier.Max) {
			return amount.Add(amount.Mul(tier.Percentage).Div(hundred))
		}
	}
	return amount
}

// Compare applies a condition operator to an order value. Operators that need ordering,
// substring or pattern semantics return ErrIncomparable for incompatible types instead of
// coercing. Unknown operators never match.
func Compare(actual OrderValue, operator domain.ConditionOperator, expected domain.ConditionValue) (bool, error) {
	op, _ := domain.ParseConditionOperator(string(operator))
	switch op {
	case domain.CondEquals:
		return valuesEqual(actual, expected), nil
	case domain.CondNotEquals:
		return !valuesEqual(actual, expected), nil
	case domain.CondGreaterThan, domain.CondLessThan, domain.CondGreaterOrEqual, domain.CondLessOrEqual:
		cmp, err := orderValues(actual, expected)
		if err != nil {
			return false, err
		}
		switch op {
		case domain.CondGreaterThan:
			return cmp > 0, nil
		case domain.CondLessThan:
			return cmp < 0, nil
		case domain.CondGreaterOrEqual:
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}
	case domain.CondIn, domain.CondNotIn:
		member, err := memberOf(actual, expected)
		if err != nil {
			return false, err
		}
		if op == domain.CondIn {
			return member, nil
		}
		return !member, nil
	case domain.CondContains, domain.CondNotContains:
		found, err := containsValue(actual, expected)
		if err != nil {
			return false, err
		}
		if op == domain.CondContains {
			return found, nil
		}
		return !found, nil
	case domain.CondStartsWith, domain.CondEndsWith:
		if actual.Kind != OrderValueString || expected.Kind != domain.ValueString {
			return false, fmt.Errorf("%w: %s needs string operands", ErrIncomparable, op)
		}
		if op == domain.CondStartsWith {
			return strings.HasPrefix(actual.Str, expected.Str), nil
		}
		return strings.HasSuffix(actual.Str, expected.Str), nil
	case domain.CondIsEmpty:
		return isEmptyValue(actual), nil
	case domain.CondIsNotEmpty:
		return !isEmptyValue(actual), nil
	case domain.CondIsNull:
		return actual.IsNull(), nil
	case domain.CondIsNotNull:
		return !actual.IsNull(), nil
	case domain.CondInRange, domain.CondNotInRange:
		if expected.Kind != domain.ValueList || len(expected.List) < 2 {
			return false, fmt.Errorf("%w: %s needs a [min, max] pair", ErrIncomparable, op)
		}
		low, err := orderValues(actual, expected.List[0])
		if err != nil {
			return false, err
		}
		high, err := orderValues(actual, expected.List[1])
		if err != nil {
			return false, err
		}
		if op == domain.CondInRange {
			return low >= 0 && high <= 0, nil
		}
		return low < 0 || high > 0, nil
	case domain.CondRegex:
		if actual.Kind != OrderValueString || expected.Kind != domain.ValueString {
			return false, fmt.Errorf("%w: regex needs string operands", ErrIncomparable)
		}
		pattern, err := regexp.Compile(expected.Str)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", expected.Str, err)
		}
		return pattern.MatchString(actual.Str), nil
	}
	return false, nil
}

func valuesEqual(actual OrderValue, expected domain.ConditionValue) bool {
	switch actual.Kind {
	case OrderValueNull:
		return expected.Kind == domain.ValueNull
	case OrderValueString:
		return expected.Kind == domain.ValueString && actual.Str == expected.Str
	case OrderValueNumber:
		return expected.Kind == domain.ValueNumber && actual.Num.Equal(decimal.NewFromFloat(expected.Num))
	}
	return false
}

func orderValues(actual OrderValue, expected domain.ConditionValue) (int, error) {
	switch {
	case actual.Kind == OrderValueNumber && expected.Kind == domain.ValueNumber:
		return actual.Num.Cmp(decimal.NewFromFloat(expected.Num)), nil
	case actual.Kind == OrderValueString && expected.Kind == domain.ValueString:
		return strings.Compare(actual.Str, expected.Str), nil
	}
	return 0, fmt.Errorf("%w: cannot order %s against %s", ErrIncomparable, actual.kindName(), expected.Kind)
}

func memberOf(actual OrderValue, expected domain.ConditionValue) (bool, error) {
	switch expected.Kind {
	case domain.ValueList:
		for _, item := range expected.List {
			if valuesEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case domain.ValueString:
		if actual.Kind != OrderValueString {
			return false, fmt.Errorf("%w: cannot test %s inside a string", ErrIncomparable, actual.kindName())
		}
		return strings.Contains(expected.Str, actual.Str), nil
	}
	return false, fmt.Errorf("%w: membership needs a list or string, got %s", ErrIncomparable, expected.Kind)
}

func containsValue(actual OrderValue, expected domain.ConditionValue) (bool, error) {
	if expected.Kind != domain.ValueString {
		return false, fmt.Errorf("%w: contains needs a string operand, got %s", ErrIncomparable, expected.Kind)
	}
	switch actual.Kind {
	case OrderValueString:
		return strings.Contains(actual.Str, expected.Str), nil
	case OrderValueSKUs:
		_, ok := ParseSKUQuantities(actual.Raw)[NormalizeSKU(expected.Str)]
		return ok, nil
	}
	return false, fmt.Errorf("%w: cannot search inside %s", ErrIncomparable, actual.kindName())
}

func isEmptyValue(actual OrderValue) bool {
	switch actual.Kind {
	case OrderValueString:
		return actual.Str == ""
	case OrderValueNumber:
		return actual.Num.IsZero()
	case OrderValueSKUs:
		return len(ParseSKUQuantities(actual.Raw)) == 0
	}
	return true
}

func (v OrderValue) kindName() string {
	switch v.Kind {
	case OrderValueString:
		return "string"
	case OrderValueNumber:
		return "number"
	case OrderValueSKUs:
		return "sku map"
	}
	return "null"
}

// evaluateLogic runs a JSONLogic expression against the order's attributes.
func evaluateLogic(logic json.RawMessage, order domain.Order) (bool, error) {
	data, err := json.Marshal(orderLogicData(order))
	if err != nil {
		return false, fmt.Errorf("encode order data: %w", err)
	}
	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(logic), bytes.NewReader(data), &out); err != nil {
		return false, fmt.Errorf("apply logic: %w", err)
	}
	var result any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &result); err != nil {
		return false, fmt.Errorf("decode logic result: %w", err)
	}
	return truthy(result), nil
}

// truthy follows JSONLogic truthiness.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	}
	return true
}
