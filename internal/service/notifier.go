package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/logger"
)

// Notification types emitted by the approval workflow.
const (
	NotifyApprovalRequired = "expense_approval_required"
	NotifyStageApproved    = "expense_stage_approved"
	NotifyApproved         = "expense_approved"
	NotifyRejected         = "expense_rejected"
	NotifyDelegated        = "expense_delegated"
	NotifyPaid             = "expense_paid"
)

// Notification is one message for one user.
type Notification struct {
	Type      string            `json:"type"`
	ExpenseID string            `json:"expense_id"`
	Message   string            `json:"message"`
	Amount    *decimal.Decimal  `json:"amount,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers notifications. Delivery is best-effort: the services
// log failures and never roll back because of them.
type Notifier interface {
	Notify(ctx context.Context, targetUserID string, n Notification) error
}

type pendingNotice struct {
	target string
	n      Notification
}

// deliver sends queued notices once the transaction has committed.
// Failures are logged only.
func deliver(ctx context.Context, notifier Notifier, log *logger.Logger, notices []pendingNotice) {
	for _, p := range notices {
		if p.target == "" {
			continue
		}
		if err := notifier.Notify(ctx, p.target, p.n); err != nil {
			log.Warn().Err(err).
				Str("target_user_id", p.target).
				Str("type", p.n.Type).
				Str("expense_id", p.n.ExpenseID).
				Msg("notification delivery failed (non-fatal)")
		}
	}
}
