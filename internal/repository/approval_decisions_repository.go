package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// ApprovalDecisionsRepository appends and reads approval decision history.
// A decision row is inserted as pending when its stage activates and
// finalised exactly once; nothing else is ever updated.
type ApprovalDecisionsRepository struct {
	db database.Querier
}

// NewApprovalDecisionsRepository creates a new ApprovalDecisionsRepository.
func NewApprovalDecisionsRepository(q database.Querier) *ApprovalDecisionsRepository {
	return &ApprovalDecisionsRepository{db: q}
}

// CreatePending inserts the pending decision row for a newly active stage.
func (r *ApprovalDecisionsRepository) CreatePending(ctx context.Context, expenseID, stageID string) (*ApprovalDecision, error) {
	query := `
		INSERT INTO expense_approval_decisions (expense_id, stage_id, decision)
		VALUES ($1, $2, 'pending')
		RETURNING id, created_at
	`

	d := &ApprovalDecision{
		ExpenseID:  expenseID,
		StageID:    stageID,
		Decision:   DecisionPending,
		Conditions: []string{},
	}
	if err := r.db.QueryRow(ctx, query, expenseID, stageID).Scan(&d.ID, &d.CreatedAt); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval decision")
	}
	return d, nil
}

// Finalize records the stage's outcome on its pending decision row.
func (r *ApprovalDecisionsRepository) Finalize(
	ctx context.Context,
	stageID, decision, approverID string,
	notes *string,
	conditions []string,
) error {
	if conditions == nil {
		conditions = []string{}
	}

	query := `
		UPDATE expense_approval_decisions
		SET decision    = $2,
		    approver_id = $3,
		    notes       = $4,
		    conditions  = $5,
		    decided_at  = NOW()
		WHERE stage_id = $1
		  AND decision = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, stageID, decision, approverID, notes, conditions)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to finalize approval decision")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidState("approval decision already recorded")
	}
	return nil
}

const decisionSelect = `
	SELECT d.id, d.expense_id, d.stage_id, s.stage_number,
	       d.approver_id, u.name,
	       d.decision, d.notes, d.conditions, d.decided_at, d.created_at
	FROM expense_approval_decisions d
	JOIN expense_approval_stages s ON s.id = d.stage_id
	LEFT JOIN users u ON u.id = d.approver_id
`

// ListByExpense returns the full decision history for an expense, oldest first.
func (r *ApprovalDecisionsRepository) ListByExpense(ctx context.Context, expenseID string) ([]*ApprovalDecision, error) {
	query := decisionSelect + `
		WHERE d.expense_id = $1
		ORDER BY d.created_at ASC, s.stage_number ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListByExpenses returns decision histories for several expenses at once,
// keyed by expense id.
func (r *ApprovalDecisionsRepository) ListByExpenses(ctx context.Context, expenseIDs []string) (map[string][]*ApprovalDecision, error) {
	out := make(map[string][]*ApprovalDecision, len(expenseIDs))
	if len(expenseIDs) == 0 {
		return out, nil
	}

	query := decisionSelect + `
		WHERE d.expense_id = ANY($1::uuid[])
		ORDER BY d.expense_id, d.created_at ASC, s.stage_number ASC
	`

	rows, err := r.db.Query(ctx, query, expenseIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval histories")
	}
	defer rows.Close()

	decisions, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		out[d.ExpenseID] = append(out[d.ExpenseID], d)
	}
	return out, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalDecisionsRepository) scanRows(rows pgx.Rows) ([]*ApprovalDecision, error) {
	decisions := make([]*ApprovalDecision, 0)
	for rows.Next() {
		d := &ApprovalDecision{}
		err := rows.Scan(
			&d.ID,
			&d.ExpenseID,
			&d.StageID,
			&d.StageNumber,
			&d.ApproverID,
			&d.ApproverName,
			&d.Decision,
			&d.Notes,
			&d.Conditions,
			&d.DecidedAt,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval decision")
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval decisions")
	}
	return decisions, nil
}
