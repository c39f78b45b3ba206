package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

func validRule() *repository.ApprovalRule {
	lo := decimal.RequireFromString("500")
	hi := decimal.RequireFromString("5000")
	return &repository.ApprovalRule{
		RuleName:  "  mid-size spend ",
		RuleType:  repository.RuleTypeAmountBased,
		IsActive:  true,
		MinAmount: &lo,
		MaxAmount: &hi,
		Priority:  10,
		Stages: []repository.ApprovalRuleStage{
			{Stage: 1, Approvers: []string{approver1ID}},
			{Stage: 2, Approvers: []string{approver2ID}, EscalationHours: 48},
		},
	}
}

func TestCreateRule(t *testing.T) {
	f := newFixture(t)

	view, err := f.ruleAdmin.CreateRule(context.Background(), actor(adminID, "admin"), validRule())
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "mid-size spend", view.RuleName)
	assert.Equal(t, "500.00", *view.MinAmount)
	assert.Equal(t, "5000.00", *view.MaxAmount)
	assert.Len(t, view.Stages, 2)

	list, err := f.ruleAdmin.ListRules(context.Background(), actor(adminID, "super_admin"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, view.ID, list[0].ID)
}

func TestCreateRule_RoutesNewSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule := validRule()
	rule.RuleType = repository.RuleTypeExpression
	rule.MinAmount, rule.MaxAmount = nil, nil
	rule.Condition = strPtr(`payment_method_type == "card" && urgency in ["high", "urgent"]`)
	_, err := f.ruleAdmin.CreateRule(ctx, actor(adminID, "admin"), rule)
	require.NoError(t, err)

	req := travelRequest("60")
	req.Urgency = "urgent"
	res, err := f.expenses.Submit(ctx, actor(submitterID), req)
	require.NoError(t, err)
	assert.Len(t, res.Stages, 2)

	req.Urgency = "low"
	res, err = f.expenses.Submit(ctx, actor(submitterID), req)
	require.NoError(t, err)
	assert.Nil(t, res.RuleID)
}

func TestRuleAdmin_RequiresAdmin(t *testing.T) {
	f := newFixture(t)

	_, err := f.ruleAdmin.CreateRule(context.Background(), actor(financeID, "finance_manager"), validRule())
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	_, err = f.ruleAdmin.ListRules(context.Background(), actor(approver1ID))
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))
	assert.Empty(t, f.db.rules)
}

func TestCreateRule_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*repository.ApprovalRule)
	}{
		{"blank name", func(r *repository.ApprovalRule) { r.RuleName = " " }},
		{"unknown type", func(r *repository.ApprovalRule) { r.RuleType = "role_based" }},
		{"negative min", func(r *repository.ApprovalRule) { d := decimal.NewFromInt(-1); r.MinAmount = &d }},
		{"empty range", func(r *repository.ApprovalRule) { r.MaxAmount = r.MinAmount }},
		{"category rule without category", func(r *repository.ApprovalRule) { r.RuleType = repository.RuleTypeCategoryBased }},
		{"expression without condition", func(r *repository.ApprovalRule) { r.RuleType = repository.RuleTypeExpression }},
		{"expression that does not compile", func(r *repository.ApprovalRule) {
			r.RuleType = repository.RuleTypeExpression
			r.Condition = strPtr("amount >")
		}},
		{"expression on unknown variable", func(r *repository.ApprovalRule) {
			r.RuleType = repository.RuleTypeExpression
			r.Condition = strPtr("department == 'sales'")
		}},
		{"no stages", func(r *repository.ApprovalRule) { r.Stages = nil }},
		{"stage zero", func(r *repository.ApprovalRule) { r.Stages[0].Stage = 0 }},
		{"duplicate stage", func(r *repository.ApprovalRule) { r.Stages[1].Stage = 1 }},
		{"stage without approvers", func(r *repository.ApprovalRule) { r.Stages[1].Approvers = nil }},
		{"negative escalation", func(r *repository.ApprovalRule) { r.Stages[0].EscalationHours = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rule := validRule()
			tt.mutate(rule)

			_, err := f.ruleAdmin.CreateRule(context.Background(), actor(adminID, "admin"), rule)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeValidation), err.Error())
			assert.Empty(t, f.db.rules)
		})
	}
}

func TestCreateRule_DelegateOnlyStage(t *testing.T) {
	f := newFixture(t)
	rule := validRule()
	rule.Stages[1].Approvers = nil
	rule.Stages[1].DelegateTo = strPtr(delegateID)

	_, err := f.ruleAdmin.CreateRule(context.Background(), actor(adminID, "admin"), rule)
	require.NoError(t, err)
}
