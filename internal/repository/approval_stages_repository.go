package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// ApprovalStagesRepository handles reads and transitions of individual stages.
// Stage creation is handled by ApprovalWorkflowRepository.Create.
type ApprovalStagesRepository struct {
	db database.Querier
}

// NewApprovalStagesRepository creates a new ApprovalStagesRepository.
func NewApprovalStagesRepository(q database.Querier) *ApprovalStagesRepository {
	return &ApprovalStagesRepository{db: q}
}

const stageColumns = `
	id, workflow_id, expense_id,
	stage_number, total_stages, status,
	required_approvers::text[], delegate_to, escalate_to, escalation_hours,
	acted_by, acted_at, activated_at,
	created_at, updated_at
`

// GetByWorkflowID returns all stages for a workflow ordered by stage_number.
func (r *ApprovalStagesRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*ApprovalStage, error) {
	query := `SELECT ` + stageColumns + `
		FROM expense_approval_stages
		WHERE workflow_id = $1
		ORDER BY stage_number ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval stages")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetActiveForUpdate returns the expense's pending stage and locks it, or
// nil when no stage is pending.
func (r *ApprovalStagesRepository) GetActiveForUpdate(ctx context.Context, expenseID string) (*ApprovalStage, error) {
	query := `SELECT ` + stageColumns + `
		FROM expense_approval_stages
		WHERE expense_id = $1 AND status = 'pending'
		FOR UPDATE
	`

	stage, err := r.scanStage(r.db.QueryRow(ctx, query, expenseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active approval stage")
	}
	return stage, nil
}

// GetByNumber returns the stage with the given number within a workflow.
func (r *ApprovalStagesRepository) GetByNumber(ctx context.Context, workflowID string, stageNumber int) (*ApprovalStage, error) {
	query := `SELECT ` + stageColumns + `
		FROM expense_approval_stages
		WHERE workflow_id = $1 AND stage_number = $2
	`

	stage, err := r.scanStage(r.db.QueryRow(ctx, query, workflowID, stageNumber))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_stage", workflowID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval stage")
	}
	return stage, nil
}

// Finalize records a pending stage's outcome. A stage that is no longer
// pending is left untouched and reported as InvalidState, so a stage can
// receive at most one terminal decision.
func (r *ApprovalStagesRepository) Finalize(ctx context.Context, id, status, actedBy string) error {
	query := `
		UPDATE expense_approval_stages
		SET status     = $2,
		    acted_by   = $3,
		    acted_at   = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, status, actedBy)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to finalize approval stage")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidState("approval stage is no longer pending")
	}
	return nil
}

// Activate moves a waiting stage to pending.
func (r *ApprovalStagesRepository) Activate(ctx context.Context, id string) error {
	query := `
		UPDATE expense_approval_stages
		SET status       = 'pending',
		    activated_at = NOW(),
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = 'waiting'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to activate approval stage")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidState("approval stage cannot be activated")
	}
	return nil
}

// SetDelegate assigns a delegate to a pending stage.
func (r *ApprovalStagesRepository) SetDelegate(ctx context.Context, id, delegateTo string) error {
	query := `
		UPDATE expense_approval_stages
		SET delegate_to = $2,
		    updated_at  = NOW()
		WHERE id = $1
		  AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, delegateTo)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delegate approval stage")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidState("approval stage is no longer pending")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalStagesRepository) scanStage(row rowScanner) (*ApprovalStage, error) {
	s := &ApprovalStage{}
	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&s.ExpenseID,
		&s.StageNumber,
		&s.TotalStages,
		&s.Status,
		&s.RequiredApprovers,
		&s.DelegateTo,
		&s.EscalateTo,
		&s.EscalationHours,
		&s.ActedBy,
		&s.ActedAt,
		&s.ActivatedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *ApprovalStagesRepository) scanRows(rows pgx.Rows) ([]*ApprovalStage, error) {
	stages := make([]*ApprovalStage, 0)
	for rows.Next() {
		s, err := r.scanStage(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval stage")
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval stages")
	}
	return stages, nil
}
