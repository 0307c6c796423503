package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/platform/httpx"
	"github.com/ledgerlink/billing/internal/services"
)

// RuleHandlers backs the rule editor: choice lists, schemas and validation endpoints.
type RuleHandlers struct {
	rules services.RuleToolingService
}

// NewRuleHandlers constructs the rule tooling handlers.
func NewRuleHandlers(rules services.RuleToolingService) *RuleHandlers {
	return &RuleHandlers{rules: rules}
}

// Routes registers the endpoints beneath /rules.
func (h *RuleHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/operators", h.operators)
	r.Get("/fields", h.fields)
	r.Get("/calculation-types", h.calculationTypes)
	r.Get("/schemas/conditions", h.conditionsSchema)
	r.Get("/schemas/calculations", h.calculationsSchema)
	r.Post("/validate", h.validateRule)
	r.Get("/advanced/condition-operators", h.conditionOperators)
	r.Post("/advanced/validate-conditions", h.validateConditions)
	r.Post("/advanced/validate-calculations", h.validateCalculations)
}

type choicePayload struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Kind  string `json:"kind,omitempty"`
}

type validationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type validateRuleRequest struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type validateConditionsRequest struct {
	Conditions json.RawMessage `json:"conditions"`
}

type validateCalculationsRequest struct {
	Calculations json.RawMessage `json:"calculations"`
}

func (h *RuleHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.rules == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "rule tooling not available", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *RuleHandlers) operators(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	infos := h.rules.OperatorChoices(strings.TrimSpace(r.URL.Query().Get("field")))
	out := make([]choicePayload, 0, len(infos))
	for _, info := range infos {
		out = append(out, choicePayload{Value: string(info.Operator), Label: info.Label})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"operators": out})
}

func (h *RuleHandlers) conditionOperators(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ops := h.rules.ConditionOperators()
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, string(op))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"operators": out})
}

func (h *RuleHandlers) fields(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	infos := h.rules.AvailableFields()
	out := make([]choicePayload, 0, len(infos))
	for _, info := range infos {
		out = append(out, choicePayload{Value: string(info.Field), Label: info.Label, Kind: string(info.Kind)})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"fields": out})
}

func (h *RuleHandlers) calculationTypes(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	infos := h.rules.CalculationTypes()
	out := make([]map[string]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]string{
			"value":       string(info.Type),
			"label":       info.Label,
			"description": info.Description,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"calculation_types": out})
}

func (h *RuleHandlers) conditionsSchema(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	writeSchema(w, h.rules.ConditionsSchema())
}

func (h *RuleHandlers) calculationsSchema(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	writeSchema(w, h.rules.CalculationsSchema())
}

func writeSchema(w http.ResponseWriter, schema json.RawMessage) {
	httpx.WriteBody(w, http.StatusOK, "application/schema+json", string(schema))
}

func (h *RuleHandlers) validateRule(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req validateRuleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	writeValidation(w, h.rules.ValidateRule(domain.Rule{
		Field:    domain.RuleField(strings.TrimSpace(req.Field)),
		Operator: domain.RuleOperator(strings.TrimSpace(req.Operator)),
		Value:    req.Value,
	}))
}

func (h *RuleHandlers) validateConditions(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req validateConditionsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	writeValidation(w, h.rules.ValidateConditions(req.Conditions))
}

func (h *RuleHandlers) validateCalculations(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req validateCalculationsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	writeValidation(w, h.rules.ValidateCalculations(req.Calculations))
}

func writeValidation(w http.ResponseWriter, err error) {
	if err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, validationResponse{Valid: false, Errors: services.ValidationProblems(err)})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, validationResponse{Valid: true})
}
