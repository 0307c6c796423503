package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedConditions is returned when a persisted conditions document cannot be decoded.
var ErrMalformedConditions = errors.New("conditions: malformed document")

// logicKey is the reserved conditions key holding a JSONLogic expression.
const logicKey = "logic"

// ConditionOperator is a comparison used inside advanced rule conditions.
type ConditionOperator string

const (
	CondEquals         ConditionOperator = "eq"
	CondNotEquals      ConditionOperator = "ne"
	CondGreaterThan    ConditionOperator = "gt"
	CondLessThan       ConditionOperator = "lt"
	CondGreaterOrEqual ConditionOperator = "ge"
	CondLessOrEqual    ConditionOperator = "le"
	CondIn             ConditionOperator = "in"
	CondNotIn          ConditionOperator = "ni"
	CondContains       ConditionOperator = "contains"
	CondNotContains    ConditionOperator = "ncontains"
	CondStartsWith     ConditionOperator = "starts_with"
	CondEndsWith       ConditionOperator = "ends_with"
	CondIsEmpty        ConditionOperator = "is_empty"
	CondIsNotEmpty     ConditionOperator = "is_not_empty"
	CondIsNull         ConditionOperator = "is_null"
	CondIsNotNull      ConditionOperator = "is_not_null"
	CondInRange        ConditionOperator = "in_range"
	CondNotInRange     ConditionOperator = "not_in_range"
	CondRegex          ConditionOperator = "regex"
)

var conditionOperators = []ConditionOperator{
	CondEquals, CondNotEquals, CondGreaterThan, CondLessThan, CondGreaterOrEqual, CondLessOrEqual,
	CondIn, CondNotIn, CondContains, CondNotContains, CondStartsWith, CondEndsWith,
	CondIsEmpty, CondIsNotEmpty, CondIsNull, CondIsNotNull, CondInRange, CondNotInRange, CondRegex,
}

// ConditionOperators lists the supported condition operators.
func ConditionOperators() []ConditionOperator {
	out := make([]ConditionOperator, len(conditionOperators))
	copy(out, conditionOperators)
	return out
}

// ParseConditionOperator resolves an operator name. The basic rule spellings "startswith" and
// "endswith" are accepted as aliases.
func ParseConditionOperator(raw string) (ConditionOperator, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case string(OpStartsWith):
		return CondStartsWith, true
	case string(OpEndsWith):
		return CondEndsWith, true
	}
	for _, op := range conditionOperators {
		if string(op) == name {
			return op, true
		}
	}
	return ConditionOperator(name), false
}

// RequiresRange reports whether the operator expects a two element [min, max] bound.
func (o ConditionOperator) RequiresRange() bool {
	return o == CondInRange || o == CondNotInRange
}

// IgnoresExpected reports whether the operator only inspects the actual value.
func (o ConditionOperator) IgnoresExpected() bool {
	switch o {
	case CondIsEmpty, CondIsNotEmpty, CondIsNull, CondIsNotNull:
		return true
	}
	return false
}

// ValueKind tags the variant held by a ConditionValue.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueList
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueBool:
		return "bool"
	case ValueList:
		return "list"
	}
	return "unknown"
}

// ConditionValue is the expected operand of a condition criterion.
type ConditionValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []ConditionValue
}

func NullValue() ConditionValue            { return ConditionValue{Kind: ValueNull} }
func StringValue(s string) ConditionValue  { return ConditionValue{Kind: ValueString, Str: s} }
func NumberValue(f float64) ConditionValue { return ConditionValue{Kind: ValueNumber, Num: f} }
func BoolValue(b bool) ConditionValue      { return ConditionValue{Kind: ValueBool, Bool: b} }

func ListValue(items ...ConditionValue) ConditionValue {
	return ConditionValue{Kind: ValueList, List: items}
}

// Interface converts the value into plain Go values (string, float64, bool, nil, []any).
func (v ConditionValue) Interface() any {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return v.Num
	case ValueBool:
		return v.Bool
	case ValueList:
		out := make([]any, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, item.Interface())
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler. Objects are rejected.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := ConditionValueOf(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// ConditionValueOf converts decoded JSON/YAML values into a ConditionValue.
func ConditionValueOf(raw any) (ConditionValue, error) {
	switch value := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(value), nil
	case bool:
		return BoolValue(value), nil
	case float64:
		return NumberValue(value), nil
	case float32:
		return NumberValue(float64(value)), nil
	case int:
		return NumberValue(float64(value)), nil
	case int64:
		return NumberValue(float64(value)), nil
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return ConditionValue{}, fmt.Errorf("invalid number %q: %w", value.String(), err)
		}
		return NumberValue(f), nil
	case []any:
		items := make([]ConditionValue, 0, len(value))
		for _, item := range value {
			converted, err := ConditionValueOf(item)
			if err != nil {
				return ConditionValue{}, err
			}
			items = append(items, converted)
		}
		return ListValue(items...), nil
	}
	return ConditionValue{}, fmt.Errorf("unsupported condition value of type %T", raw)
}

// Criterion is one operator/expected-value pair applied to a field.
type Criterion struct {
	Operator ConditionOperator
	Expected ConditionValue
}

// FieldCondition groups the criteria applied to a single order field. All criteria must hold.
type FieldCondition struct {
	Field    RuleField
	Criteria []Criterion
}

// DecodeConditions decodes the persisted {"field": {"operator": value}} document. The reserved
// "logic" key carries an optional JSONLogic expression that is returned verbatim. Fields and
// operators are sorted so evaluation order is deterministic.
func DecodeConditions(raw []byte) ([]FieldCondition, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil, nil
	}

	var document map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &document); err != nil {
		return nil, nil, fmt.Errorf("%w: conditions must be a JSON object: %v", ErrMalformedConditions, err)
	}

	var logic json.RawMessage
	if expr, ok := document[logicKey]; ok {
		if len(bytes.TrimSpace(expr)) > 0 && !bytes.Equal(bytes.TrimSpace(expr), []byte("null")) {
			logic = append(json.RawMessage(nil), expr...)
		}
		delete(document, logicKey)
	}

	fields := make([]string, 0, len(document))
	for field := range document {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	conditions := make([]FieldCondition, 0, len(fields))
	for _, field := range fields {
		var criteria map[string]json.RawMessage
		if err := json.Unmarshal(document[field], &criteria); err != nil || criteria == nil {
			return nil, nil, fmt.Errorf("%w: criteria for field %s must be a JSON object", ErrMalformedConditions, field)
		}
		operators := make([]string, 0, len(criteria))
		for op := range criteria {
			operators = append(operators, op)
		}
		sort.Strings(operators)

		condition := FieldCondition{Field: RuleField(strings.TrimSpace(field))}
		for _, name := range operators {
			var expected ConditionValue
			if err := json.Unmarshal(criteria[name], &expected); err != nil {
				return nil, nil, fmt.Errorf("%w: invalid value for %s.%s: %v", ErrMalformedConditions, field, name, err)
			}
			op, _ := ParseConditionOperator(name)
			condition.Criteria = append(condition.Criteria, Criterion{Operator: op, Expected: expected})
		}
		conditions = append(conditions, condition)
	}
	return conditions, logic, nil
}

// EncodeConditions renders conditions (and an optional JSONLogic expression) back to the
// persisted document form.
func EncodeConditions(conditions []FieldCondition, logic json.RawMessage) ([]byte, error) {
	document := make(map[string]any, len(conditions)+1)
	for _, condition := range conditions {
		criteria := make(map[string]ConditionValue, len(condition.Criteria))
		for _, criterion := range condition.Criteria {
			criteria[string(criterion.Operator)] = criterion.Expected
		}
		document[string(condition.Field)] = criteria
	}
	if len(logic) > 0 {
		document[logicKey] = logic
	}
	return json.Marshal(document)
}
