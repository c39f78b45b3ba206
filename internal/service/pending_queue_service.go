package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PendingQueueService lists expenses waiting on an approval decision. It is
// read-only.
type PendingQueueService struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

// NewPendingQueueService creates a new PendingQueueService.
func NewPendingQueueService(store Store, log *logger.Logger) *PendingQueueService {
	return &PendingQueueService{store: store, log: log, now: time.Now}
}

// PendingQuery holds already validated filters. Nil filters are not applied.
type PendingQuery struct {
	PaymentMethodType *string
	Urgency           *string
	AmountMin         *decimal.Decimal
	AmountMax         *decimal.Decimal
	Search            *string
	CategoryID        *string
	ApproverID        *string
	Page              int
	Limit             int
}

type PendingItem struct {
	ID                string         `json:"id"`
	Amount            string         `json:"amount"`
	Description       string         `json:"description"`
	VendorName        *string        `json:"vendor_name"`
	Urgency           string         `json:"urgency"`
	Status            string         `json:"status"`
	BusinessPurpose   *string        `json:"business_purpose"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	CategoryID        string         `json:"category_id"`
	CategoryName      string         `json:"category_name"`
	CategoryColor     string         `json:"category_color"`
	PaymentMethodName *string        `json:"payment_method_name"`
	PaymentMethodType *string        `json:"payment_method_type"`
	SubmitterID       string         `json:"submitter_id"`
	SubmitterName     string         `json:"submitter_name"`
	SubmitterEmail    string         `json:"submitter_email"`
	CurrentStage      int            `json:"current_stage"`
	TotalStages       int            `json:"total_stages"`
	IsOverdue         bool           `json:"is_overdue"`
	History           []DecisionView `json:"approval_history"`
}

type PendingPage struct {
	Items []PendingItem `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// ClampPage normalises page and limit: page at least 1, limit within
// 1..MaxPageLimit, zero meaning the default.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit == 0:
		limit = DefaultPageLimit
	case limit < 1:
		limit = 1
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return page, limit
}

// ListPending returns one page of pending expenses, oldest submission first,
// each with its full decision history.
func (s *PendingQueueService) ListPending(ctx context.Context, q PendingQuery) (*PendingPage, error) {
	page, limit := ClampPage(q.Page, q.Limit)
	r := s.store.Repos()

	rows, total, err := r.Pending.List(ctx, repository.PendingFilter{
		PaymentMethodType: q.PaymentMethodType,
		Urgency:           q.Urgency,
		AmountMin:         q.AmountMin,
		AmountMax:         q.AmountMax,
		Search:            q.Search,
		CategoryID:        q.CategoryID,
		ApproverID:        q.ApproverID,
		Limit:             limit,
		Offset:            (page - 1) * limit,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	histories, err := r.Decisions.ListByExpenses(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]PendingItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, PendingItem{
			ID:                row.ID,
			Amount:            formatAmount(row.Amount),
			Description:       row.Description,
			VendorName:        row.VendorName,
			Urgency:           row.Urgency,
			Status:            row.Status,
			BusinessPurpose:   row.BusinessPurpose,
			SubmittedAt:       row.SubmittedAt,
			CategoryID:        row.CategoryID,
			CategoryName:      row.CategoryName,
			CategoryColor:     row.CategoryColor,
			PaymentMethodName: row.PaymentMethodName,
			PaymentMethodType: row.PaymentMethodType,
			SubmitterID:       row.SubmitterID,
			SubmitterName:     row.SubmitterName,
			SubmitterEmail:    row.SubmitterEmail,
			CurrentStage:      row.CurrentStage,
			TotalStages:       row.TotalStages,
			IsOverdue:         IsOverdue(row.SubmittedAt, row.EscalationHours, now),
			History:           decisionViews(histories[row.ID]),
		})
	}

	s.log.Debug().Int("total", total).Int("page", page).Int("limit", limit).Msg("Pending queue listed")

	return &PendingPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// IsOverdue reports whether the escalation deadline, counted from the
// submission time, has passed.
func IsOverdue(submittedAt time.Time, escalationHours int, now time.Time) bool {
	return now.After(submittedAt.Add(time.Duration(escalationHours) * time.Hour))
}
