package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// ApprovalWorkflowRepository manages workflow instances and their stages.
// Workflow and stage creation is done by one Create call, which callers run
// inside the submission transaction.
type ApprovalWorkflowRepository struct {
	db database.Querier
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(q database.Querier) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: q}
}

// Create inserts a workflow and all of its stages. Stage 1 is inserted as
// pending with activated_at set; every later stage waits.
func (r *ApprovalWorkflowRepository) Create(ctx context.Context, wf *ApprovalWorkflow, stages []*ApprovalStage) error {
	wfQuery := `
		INSERT INTO expense_approval_workflows
		    (expense_id, rule_id, status, total_stages, current_stage, submitted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, submitted_at, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, wfQuery,
		wf.ExpenseID,
		wf.RuleID,
		wf.Status,
		wf.TotalStages,
		wf.CurrentStage,
		wf.SubmittedBy,
	).Scan(&wf.ID, &wf.SubmittedAt, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}

	stageQuery := `
		INSERT INTO expense_approval_stages
		    (workflow_id, expense_id, stage_number, total_stages, status,
		     required_approvers, delegate_to, escalate_to, escalation_hours,
		     activated_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6::uuid[], $7, $8, $9,
		        CASE WHEN $5 = 'pending' THEN NOW() END)
		RETURNING id, activated_at, created_at, updated_at
	`

	for _, stage := range stages {
		stage.WorkflowID = wf.ID
		stage.ExpenseID = wf.ExpenseID
		stage.TotalStages = wf.TotalStages
		if stage.RequiredApprovers == nil {
			stage.RequiredApprovers = []string{}
		}

		err := r.db.QueryRow(ctx, stageQuery,
			stage.WorkflowID,
			stage.ExpenseID,
			stage.StageNumber,
			stage.TotalStages,
			stage.Status,
			stage.RequiredApprovers,
			stage.DelegateTo,
			stage.EscalateTo,
			stage.EscalationHours,
		).Scan(&stage.ID, &stage.ActivatedAt, &stage.CreatedAt, &stage.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval stage")
		}
	}

	return nil
}

// GetLatestByExpenseID returns the most recent workflow of an expense, or
// nil when the expense was never routed.
func (r *ApprovalWorkflowRepository) GetLatestByExpenseID(ctx context.Context, expenseID string) (*ApprovalWorkflow, error) {
	query := `
		SELECT id, expense_id, rule_id, status,
		       total_stages, current_stage,
		       submitted_by, submitted_at, completed_at,
		       created_at, updated_at
		FROM expense_approval_workflows
		WHERE expense_id = $1
		ORDER BY submitted_at DESC, created_at DESC
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, expenseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval workflow")
	}
	return wf, nil
}

// Complete sets a terminal workflow status and stamps completed_at.
func (r *ApprovalWorkflowRepository) Complete(ctx context.Context, id, status string) error {
	query := `
		UPDATE expense_approval_workflows
		SET status       = $2,
		    completed_at = NOW(),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to complete approval workflow")
	}
	return nil
}

// AdvanceStage records the workflow's new current stage.
func (r *ApprovalWorkflowRepository) AdvanceStage(ctx context.Context, id string, nextStage int) error {
	query := `
		UPDATE expense_approval_workflows
		SET current_stage = $2,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, nextStage).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to advance approval workflow")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func (r *ApprovalWorkflowRepository) scanWorkflow(row rowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	err := row.Scan(
		&wf.ID,
		&wf.ExpenseID,
		&wf.RuleID,
		&wf.Status,
		&wf.TotalStages,
		&wf.CurrentStage,
		&wf.SubmittedBy,
		&wf.SubmittedAt,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
