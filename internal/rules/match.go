package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

// Subject carries the expense attributes approval rules are matched on.
type Subject struct {
	Amount            decimal.Decimal
	Urgency           string
	CategoryID        string
	CategoryCode      string
	VendorName        string
	PaymentMethodType string
}

// Env renders the subject as the variable set visible to expression rules.
func (s Subject) Env() map[string]any {
	return map[string]any{
		"amount":              s.Amount.InexactFloat64(),
		"urgency":             s.Urgency,
		"category_code":       s.CategoryCode,
		"vendor_name":         s.VendorName,
		"payment_method_type": s.PaymentMethodType,
	}
}

// Select returns the first rule, in the given order, that matches subject
// and has at least one stage, or nil when none matches. Rules whose
// condition cannot be evaluated are skipped; their errors are returned
// joined alongside the selection.
func Select(candidates []*repository.ApprovalRule, subject Subject, eval Evaluator) (*repository.ApprovalRule, error) {
	var errs []error
	for _, rule := range candidates {
		if !rule.IsActive || len(rule.Stages) == 0 {
			continue
		}
		ok, err := matches(rule, subject, eval)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if ok {
			return rule, errors.Join(errs...)
		}
	}
	return nil, errors.Join(errs...)
}

func matches(rule *repository.ApprovalRule, s Subject, eval Evaluator) (bool, error) {
	if !inAmountRange(rule, s.Amount) {
		return false, nil
	}

	switch rule.RuleType {
	case repository.RuleTypeAmountBased:
		return true, nil
	case repository.RuleTypeCategoryBased:
		return rule.CategoryID != nil && *rule.CategoryID == s.CategoryID, nil
	case repository.RuleTypeExpression:
		if rule.Condition == nil || *rule.Condition == "" {
			return false, nil
		}
		if rule.CategoryID != nil && *rule.CategoryID != s.CategoryID {
			return false, nil
		}
		return eval.Evaluate(*rule.Condition, s.Env())
	}
	return false, nil
}

// inAmountRange applies the inclusive-min, exclusive-max bounds.
func inAmountRange(rule *repository.ApprovalRule, amount decimal.Decimal) bool {
	if rule.MinAmount != nil && amount.LessThan(*rule.MinAmount) {
		return false
	}
	if rule.MaxAmount != nil && !amount.LessThan(*rule.MaxAmount) {
		return false
	}
	return true
}
