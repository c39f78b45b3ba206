package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

// ExpenseStore persists expenses.
type ExpenseStore interface {
	Create(ctx context.Context, e *repository.Expense) error
	GetByID(ctx context.Context, id string) (*repository.Expense, error)
	GetByIDForUpdate(ctx context.Context, id string) (*repository.Expense, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkPaid(ctx context.Context, id string, reference *string) error
	Resubmit(ctx context.Context, e *repository.Expense) error
}

// WorkflowStore persists workflow instances and creates their stages.
type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.ApprovalWorkflow, stages []*repository.ApprovalStage) error
	GetLatestByExpenseID(ctx context.Context, expenseID string) (*repository.ApprovalWorkflow, error)
	Complete(ctx context.Context, id, status string) error
	AdvanceStage(ctx context.Context, id string, nextStage int) error
}

// StageStore reads and transitions approval stages.
type StageStore interface {
	GetByWorkflowID(ctx context.Context, workflowID string) ([]*repository.ApprovalStage, error)
	GetActiveForUpdate(ctx context.Context, expenseID string) (*repository.ApprovalStage, error)
	GetByNumber(ctx context.Context, workflowID string, stageNumber int) (*repository.ApprovalStage, error)
	Finalize(ctx context.Context, id, status, actedBy string) error
	Activate(ctx context.Context, id string) error
	SetDelegate(ctx context.Context, id, delegateTo string) error
}

// DecisionStore appends and reads decision history.
type DecisionStore interface {
	CreatePending(ctx context.Context, expenseID, stageID string) (*repository.ApprovalDecision, error)
	Finalize(ctx context.Context, stageID, decision, approverID string, notes *string, conditions []string) error
	ListByExpense(ctx context.Context, expenseID string) ([]*repository.ApprovalDecision, error)
	ListByExpenses(ctx context.Context, expenseIDs []string) (map[string][]*repository.ApprovalDecision, error)
}

// RuleStore reads approval routing rules.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	List(ctx context.Context, activeOnly bool) ([]*repository.ApprovalRule, error)
}

// UserStore reads users.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
	ListActiveByRoles(ctx context.Context, roles []string) ([]*repository.User, error)
}

// ReferenceStore reads categories, vendors and payment methods.
type ReferenceStore interface {
	ListCategories(ctx context.Context, includeInactive bool) ([]*repository.Category, error)
	GetCategory(ctx context.Context, id string) (*repository.Category, error)
	SearchVendors(ctx context.Context, search string, limit int) ([]*repository.Vendor, error)
	GetPaymentMethod(ctx context.Context, id string) (*repository.PaymentMethod, error)
}

// PendingStore serves the pending queue.
type PendingStore interface {
	List(ctx context.Context, f repository.PendingFilter) ([]*repository.PendingExpense, int, error)
}

// Repos groups the stores bound to one connection or transaction.
type Repos struct {
	Expenses  ExpenseStore
	Workflows WorkflowStore
	Stages    StageStore
	Decisions DecisionStore
	Rules     RuleStore
	Users     UserStore
	Reference ReferenceStore
	Pending   PendingStore
}

// Store hands out repositories outside and inside a transaction. Every
// state-changing operation of the services runs through InTransaction.
type Store interface {
	Repos() Repos
	InTransaction(ctx context.Context, fn func(r Repos) error) error
}

// PostgresStore is the Store backed by the pgx pool.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Repos() Repos {
	return reposFor(s.db)
}

func (s *PostgresStore) InTransaction(ctx context.Context, fn func(r Repos) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(reposFor(tx))
	})
}

func reposFor(q database.Querier) Repos {
	return Repos{
		Expenses:  repository.NewExpenseRepository(q),
		Workflows: repository.NewApprovalWorkflowRepository(q),
		Stages:    repository.NewApprovalStagesRepository(q),
		Decisions: repository.NewApprovalDecisionsRepository(q),
		Rules:     repository.NewApprovalRulesRepository(q),
		Users:     repository.NewUsersRepository(q),
		Reference: repository.NewReferenceRepository(q),
		Pending:   repository.NewPendingQueueRepository(q),
	}
}
