package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// UsersRepository reads the users the workflow routes to.
type UsersRepository struct {
	db database.Querier
}

// NewUsersRepository creates a new UsersRepository.
func NewUsersRepository(q database.Querier) *UsersRepository {
	return &UsersRepository{db: q}
}

// GetByID returns a user, active or not.
func (r *UsersRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, name, email, role, active FROM users WHERE id = $1`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// ListActiveByRoles returns active users holding any of roles, ordered by name.
func (r *UsersRepository) ListActiveByRoles(ctx context.Context, roles []string) ([]*User, error) {
	users := make([]*User, 0)
	if len(roles) == 0 {
		return users, nil
	}

	query := `
		SELECT id, name, email, role, active
		FROM users
		WHERE active = TRUE
		  AND role = ANY($1::text[])
		ORDER BY name ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, roles)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users by role")
	}
	defer rows.Close()

	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read users")
	}
	return users, nil
}
