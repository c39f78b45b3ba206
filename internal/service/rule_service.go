package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syncedsports/be-expense-approvals/internal/auth"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
	"github.com/syncedsports/be-expense-approvals/internal/rules"
)

var ruleTypes = []string{
	repository.RuleTypeAmountBased,
	repository.RuleTypeCategoryBased,
	repository.RuleTypeExpression,
}

// RuleService administers approval routing rules. Rules only affect
// workflows created after they change.
type RuleService struct {
	store Store
	log   *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(store Store, log *logger.Logger) *RuleService {
	return &RuleService{store: store, log: log}
}

type RuleView struct {
	ID         string                         `json:"id"`
	RuleName   string                         `json:"rule_name"`
	RuleType   string                         `json:"rule_type"`
	IsActive   bool                           `json:"is_active"`
	MinAmount  *string                        `json:"min_amount"`
	MaxAmount  *string                        `json:"max_amount"`
	CategoryID *string                        `json:"category_id"`
	Condition  *string                        `json:"condition"`
	Stages     []repository.ApprovalRuleStage `json:"stages"`
	Priority   int                            `json:"priority"`
}

// ListRules returns every rule in evaluation order. Admins only.
func (s *RuleService) ListRules(ctx context.Context, actor auth.Actor) ([]RuleView, error) {
	if !actor.IsAdmin {
		return nil, errors.Forbidden("only administrators can view approval rules")
	}

	list, err := s.store.Repos().Rules.List(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]RuleView, 0, len(list))
	for _, r := range list {
		out = append(out, ruleView(r))
	}
	return out, nil
}

// CreateRule validates and stores a new rule. Admins only.
func (s *RuleService) CreateRule(ctx context.Context, actor auth.Actor, rule *repository.ApprovalRule) (*RuleView, error) {
	if !actor.IsAdmin {
		return nil, errors.Forbidden("only administrators can manage approval rules")
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if err := s.store.Repos().Rules.Create(ctx, rule); err != nil {
		s.log.Error().Err(err).Str("rule_name", rule.RuleName).Msg("Failed to create approval rule")
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("rule_type", rule.RuleType).
		Int("stages", len(rule.Stages)).
		Str("actor_id", actor.UserID).
		Msg("Approval rule created")

	view := ruleView(rule)
	return &view, nil
}

func validateRule(rule *repository.ApprovalRule) error {
	rule.RuleName = strings.TrimSpace(rule.RuleName)
	if rule.RuleName == "" {
		return errors.InvalidInput("rule_name", "is required")
	}
	if !slices.Contains(ruleTypes, rule.RuleType) {
		return errors.InvalidInput("rule_type", "must be one of "+strings.Join(ruleTypes, ", "))
	}
	if rule.MinAmount != nil && rule.MinAmount.IsNegative() {
		return errors.InvalidInput("min_amount", "must not be negative")
	}
	if rule.MinAmount != nil && rule.MaxAmount != nil && !rule.MinAmount.LessThan(*rule.MaxAmount) {
		return errors.InvalidInput("max_amount", "must be greater than min_amount")
	}

	switch rule.RuleType {
	case repository.RuleTypeCategoryBased:
		if rule.CategoryID == nil || *rule.CategoryID == "" {
			return errors.InvalidInput("category_id", "is required for category_based rules")
		}
	case repository.RuleTypeExpression:
		if rule.Condition == nil || strings.TrimSpace(*rule.Condition) == "" {
			return errors.InvalidInput("condition", "is required for expression rules")
		}
		if err := rules.Validate(*rule.Condition); err != nil {
			return errors.InvalidInput("condition", err.Error())
		}
	}

	if len(rule.Stages) == 0 {
		return errors.InvalidInput("stages", "at least one stage is required")
	}
	seen := make(map[int]bool, len(rule.Stages))
	for i, st := range rule.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if st.Stage < 1 {
			return errors.InvalidInput(field, "stage must be at least 1")
		}
		if seen[st.Stage] {
			return errors.InvalidInput(field, "duplicate stage number")
		}
		seen[st.Stage] = true
		if len(st.Approvers) == 0 && st.DelegateTo == nil && st.EscalateTo == nil {
			return errors.InvalidInput(field, "needs at least one approver")
		}
		if st.EscalationHours < 0 {
			return errors.InvalidInput(field, "escalation_hours must be positive")
		}
	}
	return nil
}

func ruleView(r *repository.ApprovalRule) RuleView {
	v := RuleView{
		ID:         r.ID,
		RuleName:   r.RuleName,
		RuleType:   r.RuleType,
		IsActive:   r.IsActive,
		CategoryID: r.CategoryID,
		Condition:  r.Condition,
		Stages:     r.Stages,
		Priority:   r.Priority,
	}
	if v.Stages == nil {
		v.Stages = []repository.ApprovalRuleStage{}
	}
	if r.MinAmount != nil {
		s := formatAmount(*r.MinAmount)
		v.MinAmount = &s
	}
	if r.MaxAmount != nil {
		s := formatAmount(*r.MaxAmount)
		v.MaxAmount = &s
	}
	return v
}
