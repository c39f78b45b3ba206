package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/syncedsports/be-expense-approvals/internal/auth"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

// MinRejectReasonLength is the minimum length of a rejection reason, in
// characters, after trimming.
const MinRejectReasonLength = 10

// CompleteLabel is the stage label of a fully approved expense.
const CompleteLabel = "Complete"

// ApprovalService is the approval decision engine. Every operation runs in
// one store transaction which first locks the expense row, so concurrent
// deciders of one expense are serialized.
type ApprovalService struct {
	store    Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(store Store, notifier Notifier, log *logger.Logger) *ApprovalService {
	return &ApprovalService{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

type ApproveInput struct {
	Notes      *string
	Conditions []string
	// ExpectedStage, when set, is the stage number the caller reviewed. The
	// decision fails with InvalidState if another stage is active by then.
	ExpectedStage *int
}

type ApproveResult struct {
	ExpenseID         string       `json:"expense_id"`
	Status            string       `json:"status"`
	CurrentStageLabel string       `json:"current_stage_label"`
	NextApprover      *UserSummary `json:"next_approver,omitempty"`
	IsFullyApproved   bool         `json:"is_fully_approved"`
}

type RejectInput struct {
	Reason            string
	AllowResubmission bool
	ExpectedStage     *int
}

type RejectResult struct {
	ExpenseID   string `json:"expense_id"`
	Status      string `json:"status"`
	CanResubmit bool   `json:"can_resubmit"`
}

type DelegateInput struct {
	DelegateTo string
	Reason     string
}

type DelegateResult struct {
	ExpenseID         string       `json:"expense_id"`
	CurrentStageLabel string       `json:"current_stage_label"`
	Delegate          *UserSummary `json:"delegate"`
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve records the actor's approval of the expense's active stage and
// either activates the next stage or completes the workflow.
func (s *ApprovalService) Approve(ctx context.Context, expenseID string, actor auth.Actor, in ApproveInput) (*ApproveResult, error) {
	var (
		result  *ApproveResult
		notices []pendingNotice
	)

	err := s.store.InTransaction(ctx, func(r Repos) error {
		expense, stage, err := s.lockActiveStage(ctx, r, expenseID, actor, in.ExpectedStage, "approved")
		if err != nil {
			return err
		}

		if err := r.Stages.Finalize(ctx, stage.ID, repository.StageStatusApproved, actor.UserID); err != nil {
			return err
		}
		if err := r.Decisions.Finalize(ctx, stage.ID, repository.DecisionApproved, actor.UserID, in.Notes, in.Conditions); err != nil {
			return err
		}

		if stage.IsLast() {
			if err := r.Expenses.UpdateStatus(ctx, expense.ID, repository.ExpenseStatusApproved); err != nil {
				return err
			}
			if err := r.Workflows.Complete(ctx, stage.WorkflowID, repository.WorkflowStatusApproved); err != nil {
				return err
			}

			result = &ApproveResult{
				ExpenseID:         expense.ID,
				Status:            repository.ExpenseStatusApproved,
				CurrentStageLabel: CompleteLabel,
				IsFullyApproved:   true,
			}
			notices = append(notices, pendingNotice{target: expense.SubmittedBy, n: s.notification(
				NotifyApproved, expense, "Your expense has been fully approved and is queued for payment", nil)})
			return nil
		}

		next, err := r.Stages.GetByNumber(ctx, stage.WorkflowID, stage.StageNumber+1)
		if err != nil {
			return err
		}
		if err := r.Stages.Activate(ctx, next.ID); err != nil {
			return err
		}
		if _, err := r.Decisions.CreatePending(ctx, expense.ID, next.ID); err != nil {
			return err
		}
		if err := r.Workflows.AdvanceStage(ctx, stage.WorkflowID, next.StageNumber); err != nil {
			return err
		}

		result = &ApproveResult{
			ExpenseID:         expense.ID,
			Status:            expense.Status,
			CurrentStageLabel: next.Label(),
			IsFullyApproved:   false,
		}
		if id, ok := next.FirstApprover(); ok {
			user, err := r.Users.GetByID(ctx, id)
			switch {
			case err == nil:
				result.NextApprover = summarize(user)
			case errors.Is(err, errors.ErrCodeNotFound):
				s.log.Warn().Str("expense_id", expense.ID).Str("user_id", id).Msg("Next approver not found")
			default:
				return err
			}
		}

		notices = append(notices, pendingNotice{target: expense.SubmittedBy, n: s.notification(
			NotifyStageApproved, expense, fmt.Sprintf("Stage %d of %d approved", stage.StageNumber, stage.TotalStages), nil)})
		for _, target := range stageTargets(next) {
			notices = append(notices, pendingNotice{target: target, n: s.notification(
				NotifyApprovalRequired, expense, fmt.Sprintf("Expense awaits your approval (%s)", next.Label()), nil)})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("approve", expenseID, actor, err)
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Str("actor_id", actor.UserID).
		Str("stage", result.CurrentStageLabel).
		Bool("fully_approved", result.IsFullyApproved).
		Msg("Expense approved")

	deliver(context.WithoutCancel(ctx), s.notifier, s.log, notices)
	return result, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject rejects the active stage. Rejection ends the workflow whatever the
// stage position; later stages are never activated.
func (s *ApprovalService) Reject(ctx context.Context, expenseID string, actor auth.Actor, in RejectInput) (*RejectResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) < MinRejectReasonLength {
		return nil, errors.InvalidInput("reason", fmt.Sprintf("must be at least %d characters", MinRejectReasonLength))
	}

	var (
		result  *RejectResult
		notices []pendingNotice
	)

	err := s.store.InTransaction(ctx, func(r Repos) error {
		expense, stage, err := s.lockActiveStage(ctx, r, expenseID, actor, in.ExpectedStage, "rejected")
		if err != nil {
			return err
		}

		if err := r.Stages.Finalize(ctx, stage.ID, repository.StageStatusRejected, actor.UserID); err != nil {
			return err
		}
		if err := r.Decisions.Finalize(ctx, stage.ID, repository.DecisionRejected, actor.UserID, &reason, nil); err != nil {
			return err
		}
		if err := r.Workflows.Complete(ctx, stage.WorkflowID, repository.WorkflowStatusRejected); err != nil {
			return err
		}

		status := repository.ExpenseStatusRejected
		if in.AllowResubmission {
			status = repository.ExpenseStatusRejectedResubmittable
		}
		if err := r.Expenses.UpdateStatus(ctx, expense.ID, status); err != nil {
			return err
		}

		result = &RejectResult{
			ExpenseID:   expense.ID,
			Status:      status,
			CanResubmit: in.AllowResubmission,
		}
		notices = append(notices, pendingNotice{target: expense.SubmittedBy, n: s.notification(
			NotifyRejected, expense, "Your expense was rejected: "+reason, map[string]string{
				"reason":       reason,
				"can_resubmit": fmt.Sprintf("%t", in.AllowResubmission),
				"stage":        stage.Label(),
			})})
		return nil
	})
	if err != nil {
		return nil, s.fail("reject", expenseID, actor, err)
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Str("actor_id", actor.UserID).
		Str("status", result.Status).
		Msg("Expense rejected")

	deliver(context.WithoutCancel(ctx), s.notifier, s.log, notices)
	return result, nil
}

// ── Delegate ──────────────────────────────────────────────────────────────────

// Delegate hands the active stage to another active user. The original
// approvers keep their right to act.
func (s *ApprovalService) Delegate(ctx context.Context, expenseID string, actor auth.Actor, in DelegateInput) (*DelegateResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "delegation reason is required")
	}
	if in.DelegateTo == "" {
		return nil, errors.InvalidInput("delegate_to", "is required")
	}
	if in.DelegateTo == actor.UserID {
		return nil, errors.InvalidInput("delegate_to", "cannot delegate to yourself")
	}

	var (
		result  *DelegateResult
		notices []pendingNotice
	)

	err := s.store.InTransaction(ctx, func(r Repos) error {
		expense, stage, err := s.lockActiveStage(ctx, r, expenseID, actor, nil, "delegated")
		if err != nil {
			return err
		}

		delegate, err := r.Users.GetByID(ctx, in.DelegateTo)
		if err != nil {
			return err
		}
		if !delegate.Active {
			return errors.NotFound("user", in.DelegateTo)
		}

		if err := r.Stages.SetDelegate(ctx, stage.ID, delegate.ID); err != nil {
			return err
		}

		result = &DelegateResult{
			ExpenseID:         expense.ID,
			CurrentStageLabel: stage.Label(),
			Delegate:          summarize(delegate),
		}
		notices = append(notices, pendingNotice{target: delegate.ID, n: s.notification(
			NotifyDelegated, expense, "An expense approval was delegated to you", map[string]string{
				"reason":       reason,
				"delegated_by": actor.UserID,
				"stage":        stage.Label(),
			})})
		return nil
	})
	if err != nil {
		return nil, s.fail("delegate", expenseID, actor, err)
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Str("actor_id", actor.UserID).
		Str("delegate_to", in.DelegateTo).
		Msg("Expense approval delegated")

	deliver(context.WithoutCancel(ctx), s.notifier, s.log, notices)
	return result, nil
}

// ── Payment ───────────────────────────────────────────────────────────────────

// MarkPaid moves a fully approved expense to paid. Admins only.
func (s *ApprovalService) MarkPaid(ctx context.Context, expenseID string, actor auth.Actor, reference *string) (*ExpenseView, error) {
	if !actor.IsAdmin {
		return nil, s.fail("pay", expenseID, actor, errors.Forbidden("only administrators can mark expenses paid"))
	}

	var (
		paid    *repository.Expense
		notices []pendingNotice
	)

	err := s.store.InTransaction(ctx, func(r Repos) error {
		expense, err := r.Expenses.GetByIDForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}
		if expense.Status != repository.ExpenseStatusApproved {
			return errors.InvalidState("expense cannot be paid in its current state")
		}
		if err := r.Expenses.MarkPaid(ctx, expense.ID, reference); err != nil {
			return err
		}
		if paid, err = r.Expenses.GetByID(ctx, expense.ID); err != nil {
			return err
		}

		notices = append(notices, pendingNotice{target: paid.SubmittedBy, n: s.notification(
			NotifyPaid, paid, "Your expense has been paid", nil)})
		return nil
	})
	if err != nil {
		return nil, s.fail("pay", expenseID, actor, err)
	}

	s.log.Info().Str("expense_id", expenseID).Str("actor_id", actor.UserID).Msg("Expense marked paid")

	deliver(context.WithoutCancel(ctx), s.notifier, s.log, notices)
	return expenseView(paid), nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// lockActiveStage locks the expense, loads its pending stage and checks that
// actor may act on it. A non-nil expectedStage must name the pending stage.
func (s *ApprovalService) lockActiveStage(
	ctx context.Context,
	r Repos,
	expenseID string,
	actor auth.Actor,
	expectedStage *int,
	verb string,
) (*repository.Expense, *repository.ApprovalStage, error) {
	expense, err := r.Expenses.GetByIDForUpdate(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	if expense.IsTerminal() {
		return nil, nil, errors.InvalidState(fmt.Sprintf("expense cannot be %s in its current state", verb))
	}

	stage, err := r.Stages.GetActiveForUpdate(ctx, expense.ID)
	if err != nil {
		return nil, nil, err
	}
	if stage == nil {
		return nil, nil, errors.InvalidState("no pending approval for this expense")
	}

	if !canAct(stage, actor) {
		return nil, nil, errors.Forbidden("user is not authorized to act on this approval stage")
	}
	if expectedStage != nil && *expectedStage != stage.StageNumber {
		return nil, nil, errors.InvalidState(fmt.Sprintf(
			"stage %d is no longer pending; the expense is at %s", *expectedStage, stage.Label()))
	}
	return expense, stage, nil
}

// canAct is the stage authorization rule: a named approver, the delegate,
// the escalation target, or an administrator.
func canAct(stage *repository.ApprovalStage, actor auth.Actor) bool {
	return actor.IsAdmin || stage.CanAct(actor.UserID)
}

// stageTargets returns everyone who may act on a stage, without duplicates.
func stageTargets(stage *repository.ApprovalStage) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range stage.RequiredApprovers {
		add(id)
	}
	if stage.DelegateTo != nil {
		add(*stage.DelegateTo)
	}
	if stage.EscalateTo != nil {
		add(*stage.EscalateTo)
	}
	return out
}

func (s *ApprovalService) notification(typ string, e *repository.Expense, msg string, meta map[string]string) Notification {
	amount := e.Amount
	return Notification{
		Type:      typ,
		ExpenseID: e.ID,
		Message:   msg,
		Amount:    &amount,
		Metadata:  meta,
		CreatedAt: s.now().UTC(),
	}
}

// fail logs err at the level its kind deserves and hides non-domain causes
// from the caller.
func (s *ApprovalService) fail(op, expenseID string, actor auth.Actor, err error) error {
	if errors.IsDomain(err) {
		s.log.Debug().Err(err).
			Str("op", op).
			Str("expense_id", expenseID).
			Str("actor_id", actor.UserID).
			Msg("Approval operation refused")
		return err
	}
	s.log.Error().Err(err).
		Str("op", op).
		Str("expense_id", expenseID).
		Str("actor_id", actor.UserID).
		Msg("Approval operation failed")
	return errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to %s expense", op))
}
