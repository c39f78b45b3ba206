package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// PendingQueueRepository serves the read-only pending approval queue.
type PendingQueueRepository struct {
	db database.Querier
}

// NewPendingQueueRepository creates a new PendingQueueRepository.
func NewPendingQueueRepository(q database.Querier) *PendingQueueRepository {
	return &PendingQueueRepository{db: q}
}

const pendingFrom = `
	FROM expenses e
	JOIN expense_approval_stages s
	  ON s.expense_id = e.id AND s.status = 'pending'
	JOIN expense_categories c ON c.id = e.category_id
	JOIN users u ON u.id = e.submitted_by
	LEFT JOIN payment_methods pm ON pm.id = e.payment_method_id
`

const pendingColumns = `
	e.id, e.amount::text, e.description, e.vendor_name, e.urgency, e.status,
	e.business_purpose, e.submitted_at,
	c.id, c.name, c.color_code,
	pm.name, pm.type,
	u.id, u.name, u.email,
	s.id, s.stage_number, s.total_stages, s.escalation_hours
`

// buildPendingWhere renders the WHERE clause shared by the page and count
// queries. Placeholders start at $1.
func buildPendingWhere(f PendingFilter) (string, []any) {
	conds := []string{"e.status = 'pending_approval'"}
	args := make([]any, 0, 8)

	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if f.PaymentMethodType != nil {
		add("pm.type = $%d", *f.PaymentMethodType)
	}
	if f.Urgency != nil {
		add("e.urgency = $%d", *f.Urgency)
	}
	if f.AmountMin != nil {
		add("e.amount >= $%d::numeric", f.AmountMin.String())
	}
	if f.AmountMax != nil {
		add("e.amount <= $%d::numeric", f.AmountMax.String())
	}
	if f.CategoryID != nil {
		add("e.category_id = $%d", *f.CategoryID)
	}
	if f.Search != nil && *f.Search != "" {
		args = append(args, "%"+escapeLike(*f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(e.description ILIKE $%d OR e.vendor_name ILIKE $%d OR u.name ILIKE $%d)", n, n, n))
	}
	if f.ApproverID != nil {
		args = append(args, *f.ApproverID)
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"($%d::uuid = ANY(s.required_approvers) OR s.delegate_to = $%d::uuid OR s.escalate_to = $%d::uuid)", n, n, n))
	}

	return "WHERE " + strings.Join(conds, "\n\t  AND "), args
}

// buildPendingQuery renders the page query and its COUNT twin.
func buildPendingQuery(f PendingFilter) (pageQuery, countQuery string, pageArgs, countArgs []any) {
	where, args := buildPendingWhere(f)

	countQuery = "SELECT COUNT(*)" + pendingFrom + where
	countArgs = args

	pageArgs = append(append([]any{}, args...), f.Limit, f.Offset)
	pageQuery = fmt.Sprintf("SELECT %s%s%s\n\tORDER BY e.submitted_at ASC, e.id ASC\n\tLIMIT $%d OFFSET $%d",
		pendingColumns, pendingFrom, where, len(args)+1, len(args)+2)
	return pageQuery, countQuery, pageArgs, countArgs
}

// List returns one page of the pending queue plus the total row count for
// the same filters.
func (r *PendingQueueRepository) List(ctx context.Context, f PendingFilter) ([]*PendingExpense, int, error) {
	pageQuery, countQuery, pageArgs, countArgs := buildPendingQuery(f)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending expenses")
	}

	rows, err := r.db.Query(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending expenses")
	}
	defer rows.Close()

	items := make([]*PendingExpense, 0)
	for rows.Next() {
		p := &PendingExpense{}
		var amount string
		err := rows.Scan(
			&p.ID, &amount, &p.Description, &p.VendorName, &p.Urgency, &p.Status,
			&p.BusinessPurpose, &p.SubmittedAt,
			&p.CategoryID, &p.CategoryName, &p.CategoryColor,
			&p.PaymentMethodName, &p.PaymentMethodType,
			&p.SubmitterID, &p.SubmitterName, &p.SubmitterEmail,
			&p.StageID, &p.CurrentStage, &p.TotalStages, &p.EscalationHours,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending expense")
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse expense amount")
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read pending expenses")
	}
	return items, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
