package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

var (
	// ErrRuleInvalid signals a rule whose field, operator or value cannot be evaluated.
	ErrRuleInvalid = errors.New("rules: invalid rule")
	// ErrConditionsInvalid signals a malformed advanced conditions document.
	ErrConditionsInvalid = errors.New("rules: invalid conditions")
	// ErrCalculationsInvalid signals a malformed calculation pipeline.
	ErrCalculationsInvalid = errors.New("rules: invalid calculations")
)

// RuleValidationError collects every problem found in one validation pass.
type RuleValidationError struct {
	Kind     error
	Problems []string
}

func (e *RuleValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Problems, "; "))
}

func (e *RuleValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// ValidationProblems extracts the individual problems from a validation error.
func ValidationProblems(err error) []string {
	var validationErr *RuleValidationError
	if errors.As(err, &validationErr) {
		return append([]string(nil), validationErr.Problems...)
	}
	if err == nil {
		return nil
	}
	return []string{err.Error()}
}

func invalid(kind error, problems ...string) error {
	if len(problems) == 0 {
		return nil
	}
	return &RuleValidationError{Kind: kind, Problems: problems}
}

type ruleInput struct {
	Field    string `validate:"required,rule_field"`
	Operator string `validate:"required,rule_operator"`
	Value    string `validate:"required"`
}

// RuleValidator checks rules and advanced rule payloads before they are stored or evaluated.
// It is safe for concurrent use.
type RuleValidator struct {
	validate           *validator.Validate
	conditionsSchema   *jsonschema.Schema
	calculationsSchema *jsonschema.Schema
}

// NewRuleValidator compiles the payload schemas and registers the rule tag validators.
func NewRuleValidator() (*RuleValidator, error) {
	validate := validator.New()
	if err := validate.RegisterValidation("rule_field", func(fl validator.FieldLevel) bool {
		_, ok := domain.LookupRuleField(fl.Field().String())
		return ok
	}); err != nil {
		return nil, fmt.Errorf("rule validator: register rule_field: %w", err)
	}
	if err := validate.RegisterValidation("rule_operator", func(fl validator.FieldLevel) bool {
		return domain.RuleOperator(fl.Field().String()).Valid()
	}); err != nil {
		return nil, fmt.Errorf("rule validator: register rule_operator: %w", err)
	}

	conditions, err := compileSchema(conditionsSchemaURL, conditionsSchemaJSON)
	if err != nil {
		return nil, err
	}
	calculations, err := compileSchema(calculationsSchemaURL, calculationsSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &RuleValidator{
		validate:           validate,
		conditionsSchema:   conditions,
		calculationsSchema: calculations,
	}, nil
}

func compileSchema(url, schema string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("rule validator: load schema %s: %w", url, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("rule validator: compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// ValidateRule checks that the field and operator exist and are compatible with each other.
func (v *RuleValidator) ValidateRule(rule domain.Rule) error {
	input := ruleInput{
		Field:    strings.TrimSpace(string(rule.Field)),
		Operator: strings.TrimSpace(string(rule.Operator)),
		Value:    strings.TrimSpace(rule.Value),
	}
	if err := v.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return invalid(ErrRuleInvalid, err.Error())
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			problems = append(problems, describeFieldError(fieldErr))
		}
		return invalid(ErrRuleInvalid, problems...)
	}

	operands := rule.Values()
	if len(operands) == 0 {
		return invalid(ErrRuleInvalid, "value must contain at least one operand")
	}

	op := domain.RuleOperator(input.Operator)
	switch domain.RuleField(input.Field).Kind() {
	case domain.FieldKindString:
		if op.IsOrdering() {
			return invalid(ErrRuleInvalid, fmt.Sprintf("operator %q is not valid for string fields", op))
		}
	case domain.FieldKindNumeric:
		switch op {
		case domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith:
			return invalid(ErrRuleInvalid, fmt.Sprintf("operator %q is not valid for numeric fields", op))
		}
		if op.IsOrdering() || op == domain.OpEquals || op == domain.OpNotEquals {
			for _, operand := range operands {
				if _, err := decimal.NewFromString(operand); err != nil {
					return invalid(ErrRuleInvalid, fmt.Sprintf("operator %q requires numeric values, got %q", op, operand))
				}
			}
		}
	case domain.FieldKindJSON:
		if op.IsOrdering() {
			return invalid(ErrRuleInvalid, fmt.Sprintf("operator %q is not valid for JSON fields", op))
		}
	}
	return nil
}

func describeFieldError(fieldErr validator.FieldError) string {
	name := strings.ToLower(fieldErr.Field())
	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "rule_field":
		return fmt.Sprintf("unknown field %q", fieldErr.Value())
	case "rule_operator":
		return fmt.Sprintf("unknown operator %q", fieldErr.Value())
	}
	return fmt.Sprintf("%s failed %s validation", name, fieldErr.Tag())
}

// ValidateConditions checks an advanced conditions document.
func (v *RuleValidator) ValidateConditions(raw json.RawMessage) error {
	if isBlankJSON(raw) {
		return nil
	}
	document, err := decodeForSchema(raw)
	if err != nil {
		return invalid(ErrConditionsInvalid, "conditions must be valid JSON")
	}
	if err := v.conditionsSchema.Validate(document); err != nil {
		return invalid(ErrConditionsInvalid, schemaProblems(err)...)
	}

	conditions, logic, err := domain.DecodeConditions(raw)
	if err != nil {
		return invalid(ErrConditionsInvalid, err.Error())
	}

	var problems []string
	for _, condition := range conditions {
		if !IsConditionField(condition.Field) {
			problems = append(problems, fmt.Sprintf("unknown field %q", condition.Field))
			continue
		}
		for _, criterion := range condition.Criteria {
			problems = append(problems, criterionProblems(condition.Field, criterion)...)
		}
	}
	if len(logic) > 0 && !jsonlogic.IsValid(bytes.NewReader(logic)) {
		problems = append(problems, "logic is not a valid JSONLogic expression")
	}
	return invalid(ErrConditionsInvalid, problems...)
}

func criterionProblems(field domain.RuleField, criterion domain.Criterion) []string {
	op, known := domain.ParseConditionOperator(string(criterion.Operator))
	if !known {
		return []string{fmt.Sprintf("%s: unknown operator %q", field, criterion.Operator)}
	}
	expected := criterion.Expected
	switch {
	case op.IgnoresExpected():
		return nil
	case op.RequiresRange():
		if expected.Kind != domain.ValueList || len(expected.List) != 2 {
			return []string{fmt.Sprintf("%s.%s: expected a [min, max] pair", field, op)}
		}
		if expected.List[0].Kind != expected.List[1].Kind ||
			(expected.List[0].Kind != domain.ValueNumber && expected.List[0].Kind != domain.ValueString) {
			return []string{fmt.Sprintf("%s.%s: bounds must both be numbers or both be strings", field, op)}
		}
	case op == domain.CondIn || op == domain.CondNotIn:
		if expected.Kind != domain.ValueList && expected.Kind != domain.ValueString {
			return []string{fmt.Sprintf("%s.%s: expected a list or a string", field, op)}
		}
	case expected.Kind == domain.ValueList:
		return []string{fmt.Sprintf("%s.%s: expected a scalar value", field, op)}
	case op == domain.CondRegex:
		if expected.Kind != domain.ValueString {
			return []string{fmt.Sprintf("%s.%s: pattern must be a string", field, op)}
		}
		if _, err := regexp.Compile(expected.Str); err != nil {
			return []string{fmt.Sprintf("%s.%s: invalid pattern: %v", field, op, err)}
		}
	}
	return nil
}

// ValidateCalculations checks an advanced calculation pipeline.
func (v *RuleValidator) ValidateCalculations(raw json.RawMessage) error {
	if isBlankJSON(raw) {
		return nil
	}
	document, err := decodeForSchema(raw)
	if err != nil {
		return invalid(ErrCalculationsInvalid, "calculations must be valid JSON")
	}
	if err := v.calculationsSchema.Validate(document); err != nil {
		return invalid(ErrCalculationsInvalid, schemaProblems(err)...)
	}

	calcs, err := domain.DecodeCalculations(raw)
	if err != nil {
		return invalid(ErrCalculationsInvalid, err.Error())
	}
	var problems []string
	for i, calc := range calcs {
		tiered, ok := calc.(domain.TieredPercentage)
		if !ok {
			continue
		}
		for j, tier := range tiered.Tiers {
			if tier.Min.GreaterThan(tier.Max) {
				problems = append(problems, fmt.Sprintf("calculation %d tier %d: min exceeds max", i, j))
			}
		}
	}
	return invalid(ErrCalculationsInvalid, problems...)
}

// ValidateAdvancedRule checks the base rule and requires an adjustment amount or at least one
// calculation step.
func (v *RuleValidator) ValidateAdvancedRule(rule domain.Rule) error {
	if err := v.ValidateRule(rule); err != nil {
		return err
	}
	hasCalculations := rule.Advanced != nil && len(rule.Advanced.Calculations) > 0
	if rule.AdjustmentAmount == nil && !hasCalculations {
		return invalid(ErrRuleInvalid, "either adjustment amount or calculations must be provided")
	}
	return nil
}

// OperatorChoices lists the operators offered for a field. Unknown fields get every operator.
func (v *RuleValidator) OperatorChoices(field string) []domain.RuleOperatorInfo {
	all := domain.RuleOperators()
	var allowed []domain.RuleOperator
	switch domain.RuleField(strings.TrimSpace(field)).Kind() {
	case domain.FieldKindNumeric:
		allowed = []domain.RuleOperator{domain.OpGreaterThan, domain.OpLessThan, domain.OpEquals, domain.OpNotEquals, domain.OpGreaterOrEqual, domain.OpLessOrEqual}
	case domain.FieldKindString:
		allowed = []domain.RuleOperator{domain.OpEquals, domain.OpNotEquals, domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith}
	case domain.FieldKindJSON:
		allowed = []domain.RuleOperator{domain.OpContains, domain.OpNotContains}
	default:
		return all
	}
	out := make([]domain.RuleOperatorInfo, 0, len(allowed))
	for _, info := range all {
		for _, op := range allowed {
			if info.Operator == op {
				out = append(out, info)
				break
			}
		}
	}
	return out
}

// ConditionOperators lists the operators accepted inside advanced conditions documents.
func (v *RuleValidator) ConditionOperators() []domain.ConditionOperator {
	return domain.ConditionOperators()
}

// AvailableFields lists the rule fields with their labels and kinds.
func (v *RuleValidator) AvailableFields() []domain.RuleFieldInfo {
	return domain.RuleFields()
}

// CalculationTypes lists the supported calculation steps.
func (v *RuleValidator) CalculationTypes() []domain.CalculationTypeInfo {
	return domain.CalculationTypes()
}

// ConditionsSchema returns the JSON Schema used for conditions documents.
func (v *RuleValidator) ConditionsSchema() json.RawMessage {
	return json.RawMessage(conditionsSchemaJSON)
}

// CalculationsSchema returns the JSON Schema used for calculation pipelines.
func (v *RuleValidator) CalculationsSchema() json.RawMessage {
	return json.RawMessage(calculationsSchemaJSON)
}

// IsConditionField reports whether advanced conditions may reference the attribute.
func IsConditionField(field domain.RuleField) bool {
	_, ok := orderAccessors[field]
	return ok
}

func isBlankJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeForSchema(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, err
	}
	return document, nil
}

// schemaProblems flattens a jsonschema validation error into one message per failing location.
func schemaProblems(err error) []string {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return []string{err.Error()}
	}
	var problems []string
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			location := node.InstanceLocation
			if location == "" {
				location = "/"
			}
			problems = append(problems, fmt.Sprintf("%s: %s", location, node.Message))
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(validationErr)
	return problems
}
