package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ── Expense lifecycle ────────────────────────────────────────────────────────

const (
	ExpenseStatusPendingApproval       = "pending_approval"
	ExpenseStatusApproved              = "approved"
	ExpenseStatusPaid                  = "paid"
	ExpenseStatusRejected              = "rejected"
	ExpenseStatusRejectedResubmittable = "rejected_resubmittable"
)

const (
	StageStatusWaiting   = "waiting"
	StageStatusPending   = "pending"
	StageStatusApproved  = "approved"
	StageStatusRejected  = "rejected"
	StageStatusDelegated = "delegated"
	StageStatusEscalated = "escalated"
)

const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

const (
	WorkflowStatusInProgress = "in_progress"
	WorkflowStatusApproved   = "approved"
	WorkflowStatusRejected   = "rejected"
)

// Urgency levels accepted on an expense.
var Urgencies = []string{"low", "normal", "high", "urgent"}

// AmountScale is the number of decimal places amounts are stored with.
const AmountScale = 2

// RoundAmount rounds an amount to storage precision.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// ── Domain types ─────────────────────────────────────────────────────────────

// Expense is a financial claim submitted by a user.
type Expense struct {
	ID               string
	Amount           decimal.Decimal
	Description      string
	VendorName       *string
	CategoryID       string
	PaymentMethodID  *string
	SubmittedBy      string
	Urgency          string
	Status           string
	BusinessPurpose  *string
	ReceiptID        *string
	PaymentReference *string
	SubmittedAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether no decision can be taken on the expense any more.
func (e *Expense) IsTerminal() bool {
	switch e.Status {
	case ExpenseStatusApproved, ExpenseStatusRejected, ExpenseStatusPaid, ExpenseStatusRejectedResubmittable:
		return true
	}
	return false
}

// ApprovalWorkflow is the workflow instance created on each submission.
type ApprovalWorkflow struct {
	ID           string
	ExpenseID    string
	RuleID       *string
	Status       string // in_progress | approved | rejected
	TotalStages  int
	CurrentStage int
	SubmittedBy  string
	SubmittedAt  time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApprovalStage is one sequential step of a workflow instance.
type ApprovalStage struct {
	ID                string
	WorkflowID        string
	ExpenseID         string
	StageNumber       int
	TotalStages       int
	Status            string // waiting | pending | approved | rejected | delegated | escalated
	RequiredApprovers []string
	DelegateTo        *string
	EscalateTo        *string
	EscalationHours   int
	ActedBy           *string
	ActedAt           *time.Time
	ActivatedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLast reports whether approving this stage completes the workflow.
func (s *ApprovalStage) IsLast() bool {
	return s.StageNumber >= s.TotalStages
}

// Label renders the "Stage n of m" display string.
func (s *ApprovalStage) Label() string {
	return fmt.Sprintf("Stage %d of %d", s.StageNumber, s.TotalStages)
}

// CanAct reports whether userID is a named approver, the delegate or the
// escalation target of the stage.
func (s *ApprovalStage) CanAct(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range s.RequiredApprovers {
		if id == userID {
			return true
		}
	}
	if s.DelegateTo != nil && *s.DelegateTo == userID {
		return true
	}
	return s.EscalateTo != nil && *s.EscalateTo == userID
}

// FirstApprover returns the first named approver, if any.
func (s *ApprovalStage) FirstApprover() (string, bool) {
	if len(s.RequiredApprovers) == 0 {
		return "", false
	}
	return s.RequiredApprovers[0], true
}

// ApprovalDecision is one history entry: a stage's outcome.
type ApprovalDecision struct {
	ID           string
	ExpenseID    string
	StageID      string
	StageNumber  int
	ApproverID   *string
	ApproverName *string
	Decision     string // pending | approved | rejected
	Notes        *string
	Conditions   []string
	DecidedAt    *time.Time
	CreatedAt    time.Time
}

// ApprovalRuleStage is one entry of an approval rule's stages JSONB array.
type ApprovalRuleStage struct {
	Stage           int      `json:"stage"`
	Approvers       []string `json:"approvers"`
	DelegateTo      *string  `json:"delegate_to,omitempty"`
	EscalateTo      *string  `json:"escalate_to,omitempty"`
	EscalationHours int      `json:"escalation_hours,omitempty"`
}

const (
	RuleTypeAmountBased   = "amount_based"
	RuleTypeCategoryBased = "category_based"
	RuleTypeExpression    = "expression"
)

// ApprovalRule decides how many stages an expense gets and who approves them.
type ApprovalRule struct {
	ID         string
	RuleName   string
	RuleType   string
	IsActive   bool
	MinAmount  *decimal.Decimal // inclusive
	MaxAmount  *decimal.Decimal // exclusive
	CategoryID *string
	Condition  *string // expr-lang boolean expression
	Stages     []ApprovalRuleStage
	Priority   int // lower = evaluated first
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ── Reference data ───────────────────────────────────────────────────────────

type User struct {
	ID     string
	Name   string
	Email  string
	Role   string
	Active bool
}

type Category struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Code              string           `json:"code"`
	ColorCode         string           `json:"color_code"`
	RequiresApproval  bool             `json:"requires_approval"`
	ApprovalThreshold *decimal.Decimal `json:"approval_threshold,omitempty"`
	Active            bool             `json:"active"`
}

type Vendor struct {
	ID           string
	Name         string
	Email        *string
	Phone        *string
	PaymentTerms *string
	Active       bool
}

type PaymentMethod struct {
	ID   string
	Name string
	Type string
}

// ── Pending queue ────────────────────────────────────────────────────────────

// PendingFilter narrows the pending queue. Nil fields are not applied.
type PendingFilter struct {
	PaymentMethodType *string
	Urgency           *string
	AmountMin         *decimal.Decimal
	AmountMax         *decimal.Decimal
	Search            *string
	CategoryID        *string
	ApproverID        *string
	Limit             int
	Offset            int
}

// PendingExpense is a pending-queue row joined with its display metadata and
// active stage.
type PendingExpense struct {
	ID                string
	Amount            decimal.Decimal
	Description       string
	VendorName        *string
	Urgency           string
	Status            string
	BusinessPurpose   *string
	SubmittedAt       time.Time
	CategoryID        string
	CategoryName      string
	CategoryColor     string
	PaymentMethodName *string
	PaymentMethodType *string
	SubmitterID       string
	SubmitterName     string
	SubmitterEmail    string
	StageID           string
	CurrentStage      int
	TotalStages       int
	EscalationHours   int
}
