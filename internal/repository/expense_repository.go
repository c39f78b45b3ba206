package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// ExpenseRepository handles expense rows. Status changes are only issued by
// the approval services, inside their transactions.
type ExpenseRepository struct {
	db database.Querier
}

// NewExpenseRepository creates a new expense repository bound to q, which
// may be the pool or a transaction.
func NewExpenseRepository(q database.Querier) *ExpenseRepository {
	return &ExpenseRepository{db: q}
}

const expenseColumns = `
	id, amount::text, description, vendor_name, category_id, payment_method_id,
	submitted_by, urgency, status, business_purpose, receipt_id, payment_reference,
	submitted_at, created_at, updated_at
`

// Create inserts a new expense. The amount is rounded to two decimals.
func (r *ExpenseRepository) Create(ctx context.Context, e *Expense) error {
	e.Amount = RoundAmount(e.Amount)

	query := `
		INSERT INTO expenses (amount, description, vendor_name, category_id, payment_method_id,
		                      submitted_by, urgency, status, business_purpose, receipt_id)
		VALUES ($1::numeric, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, submitted_at, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		e.Amount.StringFixed(AmountScale),
		e.Description,
		e.VendorName,
		e.CategoryID,
		e.PaymentMethodID,
		e.SubmittedBy,
		e.Urgency,
		e.Status,
		e.BusinessPurpose,
		e.ReceiptID,
	).Scan(&e.ID, &e.SubmittedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense")
	}
	return nil
}

// GetByID retrieves an expense.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	e, err := scanExpense(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense")
	}
	return e, nil
}

// GetByIDForUpdate retrieves an expense and locks its row until the
// surrounding transaction ends. Concurrent deciders on one expense queue here.
func (r *ExpenseRepository) GetByIDForUpdate(ctx context.Context, id string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1 FOR UPDATE`

	e, err := scanExpense(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock expense")
	}
	return e, nil
}

// UpdateStatus sets the lifecycle status of an expense.
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE expenses
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("expense", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense status")
	}
	return nil
}

// MarkPaid moves an approved expense to paid and records the payment reference.
func (r *ExpenseRepository) MarkPaid(ctx context.Context, id string, reference *string) error {
	query := `
		UPDATE expenses
		SET status = 'paid',
		    payment_reference = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`

	tag, err := r.db.Exec(ctx, query, id, reference)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark expense paid")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidState("expense is not approved")
	}
	return nil
}

// Resubmit replaces the editable fields of a rejected expense and puts it
// back into pending_approval with a fresh submission time.
func (r *ExpenseRepository) Resubmit(ctx context.Context, e *Expense) error {
	e.Amount = RoundAmount(e.Amount)

	query := `
		UPDATE expenses
		SET amount = $2::numeric,
		    description = $3,
		    vendor_name = $4,
		    category_id = $5,
		    payment_method_id = $6,
		    urgency = $7,
		    business_purpose = $8,
		    receipt_id = $9,
		    status = 'pending_approval',
		    submitted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'rejected_resubmittable'
		RETURNING status, submitted_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		e.ID,
		e.Amount.StringFixed(AmountScale),
		e.Description,
		e.VendorName,
		e.CategoryID,
		e.PaymentMethodID,
		e.Urgency,
		e.BusinessPurpose,
		e.ReceiptID,
	).Scan(&e.Status, &e.SubmittedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.InvalidState("expense cannot be resubmitted in its current state")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to resubmit expense")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*Expense, error) {
	e := &Expense{}
	var amount string
	err := row.Scan(
		&e.ID,
		&amount,
		&e.Description,
		&e.VendorName,
		&e.CategoryID,
		&e.PaymentMethodID,
		&e.SubmittedBy,
		&e.Urgency,
		&e.Status,
		&e.BusinessPurpose,
		&e.ReceiptID,
		&e.PaymentReference,
		&e.SubmittedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return e, nil
}

// parseOptionalAmount converts a nullable numeric::text column.
func parseOptionalAmount(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// formatOptionalAmount renders a nullable amount parameter.
func formatOptionalAmount(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := RoundAmount(*d).StringFixed(AmountScale)
	return &s
}
