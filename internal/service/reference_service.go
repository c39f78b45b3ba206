package service

import (
	"context"
	"strings"

	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

// CategoryCache caches category listings. Implementations may fail; the
// service then reads through to the store.
type CategoryCache interface {
	GetCategories(ctx context.Context, includeInactive bool) ([]*repository.Category, bool, error)
	SetCategories(ctx context.Context, includeInactive bool, categories []*repository.Category) error
}

// ReferenceService looks up categories and vendors for UI population.
type ReferenceService struct {
	store Store
	cache CategoryCache
	log   *logger.Logger
}

// NewReferenceService creates a new ReferenceService. cache may be nil.
func NewReferenceService(store Store, cache CategoryCache, log *logger.Logger) *ReferenceService {
	return &ReferenceService{store: store, cache: cache, log: log}
}

type CategoryView struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Code              string  `json:"code"`
	ColorCode         string  `json:"color_code"`
	RequiresApproval  bool    `json:"requires_approval"`
	ApprovalThreshold *string `json:"approval_threshold"`
	Active            bool    `json:"active"`
}

type VendorView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	PaymentTerms *string `json:"payment_terms"`
	Active       bool    `json:"active"`
}

// GetCategories returns categories ordered by name; never nil.
func (s *ReferenceService) GetCategories(ctx context.Context, includeInactive bool) ([]CategoryView, error) {
	if s.cache != nil {
		cached, found, err := s.cache.GetCategories(ctx, includeInactive)
		if err != nil {
			s.log.Warn().Err(err).Msg("Category cache read failed; reading from database")
		} else if found {
			return categoryViews(cached), nil
		}
	}

	categories, err := s.store.Repos().Reference.ListCategories(ctx, includeInactive)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetCategories(ctx, includeInactive, categories); err != nil {
			s.log.Warn().Err(err).Msg("Category cache write failed")
		}
	}
	return categoryViews(categories), nil
}

// GetVendors returns active vendors whose name contains search, at most
// limit of them (clamped to 1..MaxPageLimit, zero meaning the default).
func (s *ReferenceService) GetVendors(ctx context.Context, search string, limit int) ([]VendorView, error) {
	_, limit = ClampPage(1, limit)

	vendors, err := s.store.Repos().Reference.SearchVendors(ctx, strings.TrimSpace(search), limit)
	if err != nil {
		return nil, err
	}

	out := make([]VendorView, 0, len(vendors))
	for _, v := range vendors {
		out = append(out, VendorView{
			ID:           v.ID,
			Name:         v.Name,
			Email:        v.Email,
			Phone:        v.Phone,
			PaymentTerms: v.PaymentTerms,
			Active:       v.Active,
		})
	}
	return out, nil
}

func categoryViews(categories []*repository.Category) []CategoryView {
	out := make([]CategoryView, 0, len(categories))
	for _, c := range categories {
		var threshold *string
		if c.ApprovalThreshold != nil {
			t := formatAmount(*c.ApprovalThreshold)
			threshold = &t
		}
		out = append(out, CategoryView{
			ID:                c.ID,
			Name:              c.Name,
			Code:              c.Code,
			ColorCode:         c.ColorCode,
			RequiresApproval:  c.RequiresApproval,
			ApprovalThreshold: threshold,
			Active:            c.Active,
		})
	}
	return out
}
