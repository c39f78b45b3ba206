package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/auth"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
	"github.com/syncedsports/be-expense-approvals/internal/rules"
)

// RoutingSettings controls how a submitted expense is routed when its
// approval rule leaves something unspecified.
type RoutingSettings struct {
	DefaultEscalationHours int
	FallbackApproverRoles  []string
}

// ExpenseService submits expenses into the approval workflow and reads them
// back.
type ExpenseService struct {
	store     Store
	evaluator rules.Evaluator
	notifier  Notifier
	settings  RoutingSettings
	log       *logger.Logger
}

// NewExpenseService creates a new ExpenseService.
func NewExpenseService(
	store Store,
	evaluator rules.Evaluator,
	notifier Notifier,
	settings RoutingSettings,
	log *logger.Logger,
) *ExpenseService {
	if settings.DefaultEscalationHours <= 0 {
		settings.DefaultEscalationHours = 72
	}
	return &ExpenseService{
		store:     store,
		evaluator: evaluator,
		notifier:  notifier,
		settings:  settings,
		log:       log,
	}
}

type SubmitExpenseRequest struct {
	Amount          decimal.Decimal
	Description     string
	VendorName      *string
	CategoryID      string
	PaymentMethodID *string
	Urgency         string
	BusinessPurpose *string
	ReceiptID       *string
}

// ResubmitExpenseRequest carries optional replacements for a rejected
// expense's fields. Nil fields keep their current value.
type ResubmitExpenseRequest struct {
	Amount          *decimal.Decimal
	Description     *string
	VendorName      *string
	CategoryID      *string
	PaymentMethodID *string
	Urgency         *string
	BusinessPurpose *string
	ReceiptID       *string
}

type SubmitResult struct {
	Expense    *ExpenseView `json:"expense"`
	WorkflowID string       `json:"workflow_id"`
	RuleID     *string      `json:"rule_id"`
	Stages     []StageView  `json:"stages"`
}

type ExpenseDetail struct {
	Expense *ExpenseView `json:"expense"`
	Stages  []StageView  `json:"stages"`
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit creates an expense and its approval workflow. Stage 1 is active on
// return; approval is never skipped.
func (s *ExpenseService) Submit(ctx context.Context, actor auth.Actor, req SubmitExpenseRequest) (*SubmitResult, error) {
	expense := &repository.Expense{
		Amount:          req.Amount,
		Description:     strings.TrimSpace(req.Description),
		VendorName:      req.VendorName,
		CategoryID:      req.CategoryID,
		PaymentMethodID: req.PaymentMethodID,
		SubmittedBy:     actor.UserID,
		Urgency:         req.Urgency,
		Status:          repository.ExpenseStatusPendingApproval,
		BusinessPurpose: req.BusinessPurpose,
		ReceiptID:       req.ReceiptID,
	}
	if expense.Urgency == "" {
		expense.Urgency = "normal"
	}
	if err := validateExpenseFields(expense); err != nil {
		return nil, err
	}

	var (
		result  *SubmitResult
		notices []pendingNotice
	)

	err := s.store.InTransaction(ctx, func(r Repos) error {
		subject, err := s.subjectFor(ctx, r, expense)
		if err != nil {
			return err
		}
		if err := r.Expenses.Create(ctx, expense); err != nil {
			return err
		}

		wf, stages, err := s.startWorkflow(ctx, r, expense, subject)
		if err != nil {
			return err
		}

		result = &SubmitResult{
			Expense:    expenseView(expense),
			WorkflowID: wf.ID,
			RuleID:     wf.RuleID,
			Stages:     stageViews(stages),
		}
		notices = s.approvalRequired(expense, stages[0])
		return nil
	})
	if err != nil {
		return nil, s.fail("submit", "", actor, err)
	}

	s.log.Info().
		Str("expense_id", result.Expense.ID).
		Str("submitted_by", actor.UserID).
		Str("amount", result.Expense.Amount).
		Int("total_stages", len(result.Stages)).
		Msg("Expense submitted")

	deliver(context.WithoutCancel(ctx), s.notifier, s.log, notices)
	return result, nil
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// Resubmit applies changes to a resubmittable rejected expense and routes it
// through a new workflow. Only the original submitter may resubmit.
func (s *ExpenseService) Resubmit(ctx context.Context, actor auth.Actor, expenseID string, req ResubmitExpenseRequest) (*SubmitResult, error) {
	var (
		result  *SubmitResult
		notices []pendingNotice
	)

	err := s.store.InTransaction(ctx, func(r Repos) error {
		expense, err := r.Expenses.GetByIDForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}
		if expense.SubmittedBy != actor.UserID {
			return errors.Forbidden("only the submitter can resubmit the expense")
		}
		if expense.Status != repository.ExpenseStatusRejectedResubmittable {
			return errors.InvalidState("expense cannot be resubmitted in its current state")
		}

		applyResubmitChanges(expense, req)
		if err := validateExpenseFields(expense); err != nil {
			return err
		}

		subject, err := s.subjectFor(ctx, r, expense)
		if err != nil {
			return err
		}
		if err := r.Expenses.Resubmit(ctx, expense); err != nil {
			return err
		}

		wf, stages, err := s.startWorkflow(ctx, r, expense, subject)
		if err != nil {
			return err
		}

		result = &SubmitResult{
			Expense:    expenseView(expense),
			WorkflowID: wf.ID,
			RuleID:     wf.RuleID,
			Stages:     stageViews(stages),
		}
		notices = s.approvalRequired(expense, stages[0])
		return nil
	})
	if err != nil {
		return nil, s.fail("resubmit", expenseID, actor, err)
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Str("workflow_id", result.WorkflowID).
		Msg("Expense resubmitted")

	deliver(context.WithoutCancel(ctx), s.notifier, s.log, notices)
	return result, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// Get returns an expense with the stages of its latest workflow.
func (s *ExpenseService) Get(ctx context.Context, expenseID string) (*ExpenseDetail, error) {
	r := s.store.Repos()

	expense, err := r.Expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	detail := &ExpenseDetail{Expense: expenseView(expense), Stages: []StageView{}}

	wf, err := r.Workflows.GetLatestByExpenseID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if wf != nil {
		stages, err := r.Stages.GetByWorkflowID(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		detail.Stages = stageViews(stages)
	}
	return detail, nil
}

// History returns every decision recorded for an expense, oldest first,
// across all of its workflows.
func (s *ExpenseService) History(ctx context.Context, expenseID string) ([]DecisionView, error) {
	r := s.store.Repos()

	if _, err := r.Expenses.GetByID(ctx, expenseID); err != nil {
		return nil, err
	}
	decisions, err := r.Decisions.ListByExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	return decisionViews(decisions), nil
}

// ── Routing ───────────────────────────────────────────────────────────────────

// subjectFor resolves the reference data rules are matched on, checking the
// category and payment method on the way.
func (s *ExpenseService) subjectFor(ctx context.Context, r Repos, e *repository.Expense) (rules.Subject, error) {
	category, err := r.Reference.GetCategory(ctx, e.CategoryID)
	if err != nil {
		return rules.Subject{}, err
	}
	if !category.Active {
		return rules.Subject{}, errors.InvalidInput("category_id", "category is inactive")
	}

	subject := rules.Subject{
		Amount:       e.Amount,
		Urgency:      e.Urgency,
		CategoryID:   category.ID,
		CategoryCode: category.Code,
	}
	if e.VendorName != nil {
		subject.VendorName = *e.VendorName
	}
	if e.PaymentMethodID != nil {
		pm, err := r.Reference.GetPaymentMethod(ctx, *e.PaymentMethodID)
		if err != nil {
			return rules.Subject{}, err
		}
		subject.PaymentMethodType = pm.Type
	}
	return subject, nil
}

// startWorkflow resolves the approval rule and creates the workflow with all
// of its stages. Stage 1 is created pending with its pending decision row.
func (s *ExpenseService) startWorkflow(
	ctx context.Context,
	r Repos,
	expense *repository.Expense,
	subject rules.Subject,
) (*repository.ApprovalWorkflow, []*repository.ApprovalStage, error) {
	candidates, err := r.Rules.List(ctx, true)
	if err != nil {
		return nil, nil, err
	}

	rule, evalErr := rules.Select(candidates, subject, s.evaluator)
	if evalErr != nil {
		s.log.Warn().Err(evalErr).Str("expense_id", expense.ID).Msg("Skipped approval rules that failed to evaluate")
	}

	var defs []repository.ApprovalRuleStage
	if rule != nil {
		defs = rule.Stages
	} else {
		if defs, err = s.fallbackStages(ctx, r); err != nil {
			return nil, nil, err
		}
	}

	stages := s.buildStages(defs)

	wf := &repository.ApprovalWorkflow{
		ExpenseID:    expense.ID,
		Status:       repository.WorkflowStatusInProgress,
		TotalStages:  len(stages),
		CurrentStage: 1,
		SubmittedBy:  expense.SubmittedBy,
	}
	if rule != nil {
		wf.RuleID = &rule.ID
	}

	if err := r.Workflows.Create(ctx, wf, stages); err != nil {
		return nil, nil, err
	}
	if _, err := r.Decisions.CreatePending(ctx, expense.ID, stages[0].ID); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("workflow_id", wf.ID).
		Int("total_stages", wf.TotalStages).
		Bool("rule_matched", rule != nil).
		Msg("Approval workflow created")

	return wf, stages, nil
}

// fallbackStages is the single stage used when no rule matches: every active
// user holding one of the fallback roles may approve.
func (s *ExpenseService) fallbackStages(ctx context.Context, r Repos) ([]repository.ApprovalRuleStage, error) {
	users, err := r.Users.ListActiveByRoles(ctx, s.settings.FallbackApproverRoles)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, errors.InvalidState("no approvers are available for this expense")
	}

	approvers := make([]string, 0, len(users))
	for _, u := range users {
		approvers = append(approvers, u.ID)
	}
	return []repository.ApprovalRuleStage{{Stage: 1, Approvers: approvers}}, nil
}

// buildStages orders rule stage definitions and numbers them 1..n. Only the
// first stage starts pending.
func (s *ExpenseService) buildStages(defs []repository.ApprovalRuleStage) []*repository.ApprovalStage {
	ordered := slices.Clone(defs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Stage < ordered[j].Stage })

	stages := make([]*repository.ApprovalStage, 0, len(ordered))
	for i, def := range ordered {
		hours := def.EscalationHours
		if hours <= 0 {
			hours = s.settings.DefaultEscalationHours
		}
		status := repository.StageStatusWaiting
		if i == 0 {
			status = repository.StageStatusPending
		}
		stages = append(stages, &repository.ApprovalStage{
			StageNumber:       i + 1,
			TotalStages:       len(ordered),
			Status:            status,
			RequiredApprovers: slices.Clone(def.Approvers),
			DelegateTo:        def.DelegateTo,
			EscalateTo:        def.EscalateTo,
			EscalationHours:   hours,
		})
	}
	return stages
}

func (s *ExpenseService) approvalRequired(e *repository.Expense, stage *repository.ApprovalStage) []pendingNotice {
	amount := e.Amount
	var notices []pendingNotice
	for _, target := range stageTargets(stage) {
		notices = append(notices, pendingNotice{target: target, n: Notification{
			Type:      NotifyApprovalRequired,
			ExpenseID: e.ID,
			Message:   fmt.Sprintf("Expense awaits your approval (%s)", stage.Label()),
			Amount:    &amount,
			CreatedAt: e.SubmittedAt,
		}})
	}
	return notices
}

func (s *ExpenseService) fail(op, expenseID string, actor auth.Actor, err error) error {
	if errors.IsDomain(err) {
		s.log.Debug().Err(err).Str("op", op).Str("expense_id", expenseID).Str("actor_id", actor.UserID).
			Msg("Expense operation refused")
		return err
	}
	s.log.Error().Err(err).Str("op", op).Str("expense_id", expenseID).Str("actor_id", actor.UserID).
		Msg("Expense operation failed")
	return errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to %s expense", op))
}

// ── Validation ────────────────────────────────────────────────────────────────

func validateExpenseFields(e *repository.Expense) error {
	if e.Amount.IsNegative() {
		return errors.InvalidInput("amount", "must not be negative")
	}
	if strings.TrimSpace(e.Description) == "" {
		return errors.InvalidInput("description", "is required")
	}
	if !slices.Contains(repository.Urgencies, e.Urgency) {
		return errors.InvalidInput("urgency", "must be one of "+strings.Join(repository.Urgencies, ", "))
	}
	if e.CategoryID == "" {
		return errors.InvalidInput("category_id", "is required")
	}
	e.Amount = repository.RoundAmount(e.Amount)
	return nil
}

func applyResubmitChanges(e *repository.Expense, req ResubmitExpenseRequest) {
	if req.Amount != nil {
		e.Amount = *req.Amount
	}
	if req.Description != nil {
		e.Description = strings.TrimSpace(*req.Description)
	}
	if req.VendorName != nil {
		e.VendorName = req.VendorName
	}
	if req.CategoryID != nil {
		e.CategoryID = *req.CategoryID
	}
	if req.PaymentMethodID != nil {
		e.PaymentMethodID = req.PaymentMethodID
	}
	if req.Urgency != nil {
		e.Urgency = *req.Urgency
	}
	if req.BusinessPurpose != nil {
		e.BusinessPurpose = req.BusinessPurpose
	}
	if req.ReceiptID != nil {
		e.ReceiptID = req.ReceiptID
	}
}
