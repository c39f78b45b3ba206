package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// ApprovalRulesRepository handles expense_approval_rules.
type ApprovalRulesRepository struct {
	db database.Querier
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(q database.Querier) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: q}
}

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	stagesJSON, err := json.Marshal(rule.Stages)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval stages")
	}

	query := `
		INSERT INTO expense_approval_rules
		    (rule_name, rule_type, is_active,
		     min_amount, max_amount, category_id, condition,
		     stages, priority)
		VALUES ($1, $2, $3,
		        $4::numeric, $5::numeric, $6, $7,
		        $8, $9)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.RuleName,
		rule.RuleType,
		rule.IsActive,
		formatOptionalAmount(rule.MinAmount),
		formatOptionalAmount(rule.MaxAmount),
		rule.CategoryID,
		rule.Condition,
		stagesJSON,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
	}
	return nil
}

// List returns rules in evaluation order, optionally active only.
func (r *ApprovalRulesRepository) List(ctx context.Context, activeOnly bool) ([]*ApprovalRule, error) {
	query := `
		SELECT id, rule_name, rule_type, is_active,
		       min_amount::text, max_amount::text, category_id, condition,
		       stages, priority, created_at, updated_at
		FROM expense_approval_rules
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY priority ASC, rule_name ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	rules := make([]*ApprovalRule, 0)
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval rules")
	}
	return rules, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *ApprovalRulesRepository) scanRule(rows pgx.Rows) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var (
		stagesJSON []byte
		minAmount  *string
		maxAmount  *string
	)

	err := rows.Scan(
		&rule.ID,
		&rule.RuleName,
		&rule.RuleType,
		&rule.IsActive,
		&minAmount,
		&maxAmount,
		&rule.CategoryID,
		&rule.Condition,
		&stagesJSON,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
	}

	if rule.MinAmount, err = parseOptionalAmount(minAmount); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse rule min_amount")
	}
	if rule.MaxAmount, err = parseOptionalAmount(maxAmount); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse rule max_amount")
	}
	if err := json.Unmarshal(stagesJSON, &rule.Stages); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval stages")
	}
	return rule, nil
}
