package repositories

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// DecodeAdvanced builds the advanced extension of a rule from its persisted conditions and
// calculations documents. It returns nil when both documents are blank.
func DecodeAdvanced(conditions, calculations []byte) (*domain.AdvancedExtension, error) {
	if isBlankDocument(conditions) && isBlankDocument(calculations) {
		return nil, nil
	}
	conds, logic, err := domain.DecodeConditions(conditions)
	if err != nil {
		return nil, err
	}
	calcs, err := domain.DecodeCalculations(calculations)
	if err != nil {
		return nil, err
	}
	return &domain.AdvancedExtension{Conditions: conds, Logic: logic, Calculations: calcs}, nil
}

func isBlankDocument(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) ||
		bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("[]"))
}

// ParseOptionalDecimal parses a persisted amount. Blank input yields nil.
func ParseOptionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", raw, err)
	}
	return &value, nil
}

// SortOrders orders by close date then transaction id. Orders without a close date sort first.
func SortOrders(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i].CloseDate, orders[j].CloseDate
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return orders[i].TransactionID < orders[j].TransactionID
	})
}

// SortCustomerServices orders assignments by id.
func SortCustomerServices(services []domain.CustomerService) {
	sort.SliceStable(services, func(i, j int) bool {
		return services[i].ID < services[j].ID
	})
}

// SortRuleGroups orders groups by id and their rules by id.
func SortRuleGroups(groups []domain.RuleGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].ID < groups[j].ID
	})
	for _, group := range groups {
		sort.SliceStable(group.Rules, func(i, j int) bool {
			return group.Rules[i].ID < group.Rules[j].ID
		})
	}
}
