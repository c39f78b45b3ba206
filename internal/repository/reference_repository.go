package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// ReferenceRepository reads categories, vendors and payment methods.
type ReferenceRepository struct {
	db database.Querier
}

// NewReferenceRepository creates a new ReferenceRepository.
func NewReferenceRepository(q database.Querier) *ReferenceRepository {
	return &ReferenceRepository{db: q}
}

const categoryColumns = `
	id, name, code, color_code, requires_approval, approval_threshold::text, active
`

// ListCategories returns categories ordered by name.
func (r *ReferenceRepository) ListCategories(ctx context.Context, includeInactive bool) ([]*Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM expense_categories`
	if !includeInactive {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY name ASC, id ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list categories")
	}
	defer rows.Close()

	categories := make([]*Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan category")
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read categories")
	}
	return categories, nil
}

// GetCategory returns one category by id.
func (r *ReferenceRepository) GetCategory(ctx context.Context, id string) (*Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM expense_categories WHERE id = $1`

	c, err := scanCategory(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("category", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get category")
	}
	return c, nil
}

// SearchVendors returns active vendors whose name contains search,
// case-insensitively, ordered by name.
func (r *ReferenceRepository) SearchVendors(ctx context.Context, search string, limit int) ([]*Vendor, error) {
	query := `
		SELECT id, name, email, phone, payment_terms, active
		FROM vendors
		WHERE active = TRUE
		  AND ($1 = '' OR name ILIKE '%' || $1 || '%')
		ORDER BY name ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, escapeLike(search), limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to search vendors")
	}
	defer rows.Close()

	vendors := make([]*Vendor, 0)
	for rows.Next() {
		v := &Vendor{}
		if err := rows.Scan(&v.ID, &v.Name, &v.Email, &v.Phone, &v.PaymentTerms, &v.Active); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan vendor")
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read vendors")
	}
	return vendors, nil
}

// GetPaymentMethod returns one payment method by id.
func (r *ReferenceRepository) GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	query := `SELECT id, name, type FROM payment_methods WHERE id = $1`

	pm := &PaymentMethod{}
	err := r.db.QueryRow(ctx, query, id).Scan(&pm.ID, &pm.Name, &pm.Type)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payment_method", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payment method")
	}
	return pm, nil
}

func scanCategory(row rowScanner) (*Category, error) {
	c := &Category{}
	var threshold *string
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Code,
		&c.ColorCode,
		&c.RequiresApproval,
		&threshold,
		&c.Active,
	)
	if err != nil {
		return nil, err
	}
	if c.ApprovalThreshold, err = parseOptionalAmount(threshold); err != nil {
		return nil, err
	}
	return c, nil
}
