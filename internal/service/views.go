package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

// UserSummary identifies a user for display.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func summarize(u *repository.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// DecisionView is one decision history entry.
type DecisionView struct {
	ID           string     `json:"id"`
	StageNumber  int        `json:"stage_number"`
	ApproverID   *string    `json:"approver_id"`
	ApproverName *string    `json:"approver_name"`
	Decision     string     `json:"decision"`
	Notes        *string    `json:"notes"`
	Conditions   []string   `json:"conditions"`
	DecidedAt    *time.Time `json:"decided_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func decisionViews(ds []*repository.ApprovalDecision) []DecisionView {
	out := make([]DecisionView, 0, len(ds))
	for _, d := range ds {
		conditions := d.Conditions
		if conditions == nil {
			conditions = []string{}
		}
		out = append(out, DecisionView{
			ID:           d.ID,
			StageNumber:  d.StageNumber,
			ApproverID:   d.ApproverID,
			ApproverName: d.ApproverName,
			Decision:     d.Decision,
			Notes:        d.Notes,
			Conditions:   conditions,
			DecidedAt:    d.DecidedAt,
			CreatedAt:    d.CreatedAt,
		})
	}
	return out
}

// ExpenseView is the caller-facing expense representation.
type ExpenseView struct {
	ID               string          `json:"id"`
	Amount           string          `json:"amount"`
	Description      string          `json:"description"`
	VendorName       *string         `json:"vendor_name"`
	CategoryID       string          `json:"category_id"`
	PaymentMethodID  *string         `json:"payment_method_id"`
	SubmittedBy      string          `json:"submitted_by"`
	Urgency          string          `json:"urgency"`
	Status           string          `json:"status"`
	BusinessPurpose  *string         `json:"business_purpose"`
	ReceiptID        *string         `json:"receipt_id"`
	PaymentReference *string         `json:"payment_reference,omitempty"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func expenseView(e *repository.Expense) *ExpenseView {
	return &ExpenseView{
		ID:               e.ID,
		Amount:           formatAmount(e.Amount),
		Description:      e.Description,
		VendorName:       e.VendorName,
		CategoryID:       e.CategoryID,
		PaymentMethodID:  e.PaymentMethodID,
		SubmittedBy:      e.SubmittedBy,
		Urgency:          e.Urgency,
		Status:           e.Status,
		BusinessPurpose:  e.BusinessPurpose,
		ReceiptID:        e.ReceiptID,
		PaymentReference: e.PaymentReference,
		SubmittedAt:      e.SubmittedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// StageView is one stage of a workflow instance.
type StageView struct {
	StageNumber       int        `json:"stage_number"`
	TotalStages       int        `json:"total_stages"`
	Status            string     `json:"status"`
	RequiredApprovers []string   `json:"required_approvers"`
	DelegateTo        *string    `json:"delegate_to"`
	EscalateTo        *string    `json:"escalate_to"`
	EscalationHours   int        `json:"escalation_hours"`
	ActedBy           *string    `json:"acted_by"`
	ActedAt           *time.Time `json:"acted_at"`
}

func stageViews(stages []*repository.ApprovalStage) []StageView {
	out := make([]StageView, 0, len(stages))
	for _, s := range stages {
		out = append(out, StageView{
			StageNumber:       s.StageNumber,
			TotalStages:       s.TotalStages,
			Status:            s.Status,
			RequiredApprovers: s.RequiredApprovers,
			DelegateTo:        s.DelegateTo,
			EscalateTo:        s.EscalateTo,
			EscalationHours:   s.EscalationHours,
			ActedBy:           s.ActedBy,
			ActedAt:           s.ActedAt,
		})
	}
	return out
}

// formatAmount renders an amount with exactly two decimals.
func formatAmount(d decimal.Decimal) string {
	return repository.RoundAmount(d).StringFixed(repository.AmountScale)
}
