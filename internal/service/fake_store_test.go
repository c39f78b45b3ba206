package service

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

// fakeDB is an in-memory Store. InTransaction holds the mutex for the whole
// callback and restores a snapshot when the callback fails, which gives the
// same all-or-nothing behaviour as the Postgres store.
type fakeDB struct {
	mu    sync.Mutex
	clock time.Time

	expenses       map[string]repository.Expense
	workflows      map[string]repository.ApprovalWorkflow
	stages         map[string]repository.ApprovalStage
	decisions      map[string]repository.ApprovalDecision
	rules          map[string]repository.ApprovalRule
	users          map[string]repository.User
	categories     map[string]repository.Category
	vendors        map[string]repository.Vendor
	paymentMethods map[string]repository.PaymentMethod

	// failOn makes the named operation return the error.
	failOn map[string]error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		clock:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		expenses:       map[string]repository.Expense{},
		workflows:      map[string]repository.ApprovalWorkflow{},
		stages:         map[string]repository.ApprovalStage{},
		decisions:      map[string]repository.ApprovalDecision{},
		rules:          map[string]repository.ApprovalRule{},
		users:          map[string]repository.User{},
		categories:     map[string]repository.Category{},
		vendors:        map[string]repository.Vendor{},
		paymentMethods: map[string]repository.PaymentMethod{},
		failOn:         map[string]error{},
	}
}

type fakeSnapshot struct {
	expenses  map[string]repository.Expense
	workflows map[string]repository.ApprovalWorkflow
	stages    map[string]repository.ApprovalStage
	decisions map[string]repository.ApprovalDecision
	rules     map[string]repository.ApprovalRule
}

func (db *fakeDB) snapshot() fakeSnapshot {
	return fakeSnapshot{
		expenses:  maps.Clone(db.expenses),
		workflows: maps.Clone(db.workflows),
		stages:    maps.Clone(db.stages),
		decisions: maps.Clone(db.decisions),
		rules:     maps.Clone(db.rules),
	}
}

func (db *fakeDB) restore(s fakeSnapshot) {
	db.expenses = s.expenses
	db.workflows = s.workflows
	db.stages = s.stages
	db.decisions = s.decisions
	db.rules = s.rules
}

// tick advances the fake clock so rows get strictly increasing timestamps.
func (db *fakeDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func (db *fakeDB) fail(op string) error {
	return db.failOn[op]
}

func (db *fakeDB) Repos() Repos {
	return db.repos(true)
}

func (db *fakeDB) InTransaction(ctx context.Context, fn func(r Repos) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap := db.snapshot()
	if err := fn(db.repos(false)); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func (db *fakeDB) repos(autoLock bool) Repos {
	h := &fakeHandle{db: db, autoLock: autoLock}
	return Repos{
		Expenses:  fakeExpenses{h},
		Workflows: fakeWorkflows{h},
		Stages:    fakeStages{h},
		Decisions: fakeDecisions{h},
		Rules:     fakeRules{h},
		Users:     fakeUsers{h},
		Reference: fakeReference{h},
		Pending:   fakePending{h},
	}
}

type fakeHandle struct {
	db       *fakeDB
	autoLock bool
}

// lock takes the mutex for calls made outside a transaction.
func (h *fakeHandle) lock() func() {
	if !h.autoLock {
		return func() {}
	}
	h.db.mu.Lock()
	return h.db.mu.Unlock
}

// ── expenses ─────────────────────────────────────────────────────────────────

type fakeExpenses struct{ *fakeHandle }

func (f fakeExpenses) Create(ctx context.Context, e *repository.Expense) error {
	defer f.lock()()
	if err := f.db.fail("expenses.create"); err != nil {
		return err
	}
	now := f.db.tick()
	e.ID = uuid.NewString()
	e.Amount = repository.RoundAmount(e.Amount)
	e.SubmittedAt, e.CreatedAt, e.UpdatedAt = now, now, now
	f.db.expenses[e.ID] = *e
	return nil
}

func (f fakeExpenses) GetByID(ctx context.Context, id string) (*repository.Expense, error) {
	defer f.lock()()
	e, ok := f.db.expenses[id]
	if !ok {
		return nil, errors.NotFound("expense", id)
	}
	return &e, nil
}

func (f fakeExpenses) GetByIDForUpdate(ctx context.Context, id string) (*repository.Expense, error) {
	return f.GetByID(ctx, id)
}

func (f fakeExpenses) UpdateStatus(ctx context.Context, id, status string) error {
	defer f.lock()()
	if err := f.db.fail("expenses.update_status"); err != nil {
		return err
	}
	e, ok := f.db.expenses[id]
	if !ok {
		return errors.NotFound("expense", id)
	}
	e.Status = status
	e.UpdatedAt = f.db.tick()
	f.db.expenses[id] = e
	return nil
}

func (f fakeExpenses) MarkPaid(ctx context.Context, id string, reference *string) error {
	defer f.lock()()
	e, ok := f.db.expenses[id]
	if !ok || e.Status != repository.ExpenseStatusApproved {
		return errors.InvalidState("expense is not approved")
	}
	e.Status = repository.ExpenseStatusPaid
	e.PaymentReference = reference
	e.UpdatedAt = f.db.tick()
	f.db.expenses[id] = e
	return nil
}

func (f fakeExpenses) Resubmit(ctx context.Context, e *repository.Expense) error {
	defer f.lock()()
	cur, ok := f.db.expenses[e.ID]
	if !ok || cur.Status != repository.ExpenseStatusRejectedResubmittable {
		return errors.InvalidState("expense cannot be resubmitted in its current state")
	}
	now := f.db.tick()
	e.Amount = repository.RoundAmount(e.Amount)
	e.Status = repository.ExpenseStatusPendingApproval
	e.SubmittedAt, e.UpdatedAt = now, now
	f.db.expenses[e.ID] = *e
	return nil
}

// ── workflows ────────────────────────────────────────────────────────────────

type fakeWorkflows struct{ *fakeHandle }

func (f fakeWorkflows) Create(ctx context.Context, wf *repository.ApprovalWorkflow, stages []*repository.ApprovalStage) error {
	defer f.lock()()
	if err := f.db.fail("workflows.create"); err != nil {
		return err
	}
	for _, other := range f.db.workflows {
		if other.ExpenseID == wf.ExpenseID && other.Status == repository.WorkflowStatusInProgress {
			return errors.New(errors.ErrCodeInternal, "duplicate in-progress workflow")
		}
	}

	now := f.db.tick()
	wf.ID = uuid.NewString()
	wf.SubmittedAt, wf.CreatedAt, wf.UpdatedAt = now, now, now
	f.db.workflows[wf.ID] = *wf

	for _, s := range stages {
		s.ID = uuid.NewString()
		s.WorkflowID = wf.ID
		s.ExpenseID = wf.ExpenseID
		s.TotalStages = wf.TotalStages
		s.CreatedAt, s.UpdatedAt = now, now
		if s.Status == repository.StageStatusPending {
			t := now
			s.ActivatedAt = &t
		}
		f.db.stages[s.ID] = *s
	}
	return nil
}

func (f fakeWorkflows) GetLatestByExpenseID(ctx context.Context, expenseID string) (*repository.ApprovalWorkflow, error) {
	defer f.lock()()
	var latest *repository.ApprovalWorkflow
	for _, wf := range f.db.workflows {
		if wf.ExpenseID != expenseID {
			continue
		}
		if latest == nil || wf.CreatedAt.After(latest.CreatedAt) {
			w := wf
			latest = &w
		}
	}
	return latest, nil
}

func (f fakeWorkflows) Complete(ctx context.Context, id, status string) error {
	defer f.lock()()
	wf, ok := f.db.workflows[id]
	if !ok {
		return errors.NotFound("approval_workflow", id)
	}
	now := f.db.tick()
	wf.Status = status
	wf.CompletedAt = &now
	f.db.workflows[id] = wf
	return nil
}

func (f fakeWorkflows) AdvanceStage(ctx context.Context, id string, nextStage int) error {
	defer f.lock()()
	if err := f.db.fail("workflows.advance_stage"); err != nil {
		return err
	}
	wf, ok := f.db.workflows[id]
	if !ok {
		return errors.NotFound("approval_workflow", id)
	}
	wf.CurrentStage = nextStage
	f.db.workflows[id] = wf
	return nil
}

// ── stages ───────────────────────────────────────────────────────────────────

type fakeStages struct{ *fakeHandle }

func (f fakeStages) GetByWorkflowID(ctx context.Context, workflowID string) ([]*repository.ApprovalStage, error) {
	defer f.lock()()
	out := make([]*repository.ApprovalStage, 0)
	for _, s := range f.db.stages {
		if s.WorkflowID == workflowID {
			st := s
			out = append(out, &st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out, nil
}

func (f fakeStages) GetActiveForUpdate(ctx context.Context, expenseID string) (*repository.ApprovalStage, error) {
	defer f.lock()()
	for _, s := range f.db.stages {
		if s.ExpenseID == expenseID && s.Status == repository.StageStatusPending {
			st := s
			return &st, nil
		}
	}
	return nil, nil
}

func (f fakeStages) GetByNumber(ctx context.Context, workflowID string, stageNumber int) (*repository.ApprovalStage, error) {
	defer f.lock()()
	for _, s := range f.db.stages {
		if s.WorkflowID == workflowID && s.StageNumber == stageNumber {
			st := s
			return &st, nil
		}
	}
	return nil, errors.NotFound("approval_stage", workflowID)
}

func (f fakeStages) Finalize(ctx context.Context, id, status, actedBy string) error {
	defer f.lock()()
	s, ok := f.db.stages[id]
	if !ok || s.Status != repository.StageStatusPending {
		return errors.InvalidState("approval stage is no longer pending")
	}
	now := f.db.tick()
	s.Status = status
	s.ActedBy = &actedBy
	s.ActedAt = &now
	f.db.stages[id] = s
	return nil
}

func (f fakeStages) Activate(ctx context.Context, id string) error {
	defer f.lock()()
	s, ok := f.db.stages[id]
	if !ok || s.Status != repository.StageStatusWaiting {
		return errors.InvalidState("approval stage cannot be activated")
	}
	for _, other := range f.db.stages {
		if other.ExpenseID == s.ExpenseID && other.Status == repository.StageStatusPending {
			return errors.New(errors.ErrCodeInternal, "unique violation: uq_stages_pending_per_expense")
		}
	}
	now := f.db.tick()
	s.Status = repository.StageStatusPending
	s.ActivatedAt = &now
	f.db.stages[id] = s
	return nil
}

func (f fakeStages) SetDelegate(ctx context.Context, id, delegateTo string) error {
	defer f.lock()()
	s, ok := f.db.stages[id]
	if !ok || s.Status != repository.StageStatusPending {
		return errors.InvalidState("approval stage is no longer pending")
	}
	s.DelegateTo = &delegateTo
	f.db.stages[id] = s
	return nil
}

// ── decisions ────────────────────────────────────────────────────────────────

type fakeDecisions struct{ *fakeHandle }

func (f fakeDecisions) CreatePending(ctx context.Context, expenseID, stageID string) (*repository.ApprovalDecision, error) {
	defer f.lock()()
	for _, d := range f.db.decisions {
		if d.StageID == stageID {
			return nil, errors.New(errors.ErrCodeInternal, "unique violation: decisions.stage_id")
		}
	}
	d := repository.ApprovalDecision{
		ID:          uuid.NewString(),
		ExpenseID:   expenseID,
		StageID:     stageID,
		StageNumber: f.db.stages[stageID].StageNumber,
		Decision:    repository.DecisionPending,
		Conditions:  []string{},
		CreatedAt:   f.db.tick(),
	}
	f.db.decisions[d.ID] = d
	return &d, nil
}

func (f fakeDecisions) Finalize(ctx context.Context, stageID, decision, approverID string, notes *string, conditions []string) error {
	defer f.lock()()
	if err := f.db.fail("decisions.finalize"); err != nil {
		return err
	}
	for id, d := range f.db.decisions {
		if d.StageID != stageID || d.Decision != repository.DecisionPending {
			continue
		}
		now := f.db.tick()
		if conditions == nil {
			conditions = []string{}
		}
		d.Decision = decision
		d.ApproverID = &approverID
		d.Notes = notes
		d.Conditions = conditions
		d.DecidedAt = &now
		f.db.decisions[id] = d
		return nil
	}
	return errors.InvalidState("approval decision already recorded")
}

func (f fakeDecisions) list(expenseID string) []*repository.ApprovalDecision {
	out := make([]*repository.ApprovalDecision, 0)
	for _, d := range f.db.decisions {
		if d.ExpenseID != expenseID {
			continue
		}
		dd := d
		if d.ApproverID != nil {
			if u, ok := f.db.users[*d.ApproverID]; ok {
				name := u.Name
				dd.ApproverName = &name
			}
		}
		out = append(out, &dd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f fakeDecisions) ListByExpense(ctx context.Context, expenseID string) ([]*repository.ApprovalDecision, error) {
	defer f.lock()()
	return f.list(expenseID), nil
}

func (f fakeDecisions) ListByExpenses(ctx context.Context, expenseIDs []string) (map[string][]*repository.ApprovalDecision, error) {
	defer f.lock()()
	out := make(map[string][]*repository.ApprovalDecision, len(expenseIDs))
	for _, id := range expenseIDs {
		if ds := f.list(id); len(ds) > 0 {
			out[id] = ds
		}
	}
	return out, nil
}

// ── rules ────────────────────────────────────────────────────────────────────

type fakeRules struct{ *fakeHandle }

func (f fakeRules) Create(ctx context.Context, rule *repository.ApprovalRule) error {
	defer f.lock()()
	now := f.db.tick()
	rule.ID = uuid.NewString()
	rule.CreatedAt, rule.UpdatedAt = now, now
	f.db.rules[rule.ID] = *rule
	return nil
}

func (f fakeRules) List(ctx context.Context, activeOnly bool) ([]*repository.ApprovalRule, error) {
	defer f.lock()()
	out := make([]*repository.ApprovalRule, 0)
	for _, r := range f.db.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		rr := r
		out = append(out, &rr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RuleName < out[j].RuleName
	})
	return out, nil
}

// ── users ────────────────────────────────────────────────────────────────────

type fakeUsers struct{ *fakeHandle }

func (f fakeUsers) GetByID(ctx context.Context, id string) (*repository.User, error) {
	defer f.lock()()
	u, ok := f.db.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return &u, nil
}

func (f fakeUsers) ListActiveByRoles(ctx context.Context, roles []string) ([]*repository.User, error) {
	defer f.lock()()
	out := make([]*repository.User, 0)
	for _, u := range f.db.users {
		if u.Active && slices.Contains(roles, u.Role) {
			uu := u
			out = append(out, &uu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ── reference data ───────────────────────────────────────────────────────────

type fakeReference struct{ *fakeHandle }

func (f fakeReference) ListCategories(ctx context.Context, includeInactive bool) ([]*repository.Category, error) {
	defer f.lock()()
	if err := f.db.fail("reference.list_categories"); err != nil {
		return nil, err
	}
	out := make([]*repository.Category, 0)
	for _, c := range f.db.categories {
		if includeInactive || c.Active {
			cc := c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f fakeReference) GetCategory(ctx context.Context, id string) (*repository.Category, error) {
	defer f.lock()()
	c, ok := f.db.categories[id]
	if !ok {
		return nil, errors.NotFound("category", id)
	}
	return &c, nil
}

func (f fakeReference) SearchVendors(ctx context.Context, search string, limit int) ([]*repository.Vendor, error) {
	defer f.lock()()
	out := make([]*repository.Vendor, 0)
	for _, v := range f.db.vendors {
		if v.Active && strings.Contains(strings.ToLower(v.Name), strings.ToLower(search)) {
			vv := v
			out = append(out, &vv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeReference) GetPaymentMethod(ctx context.Context, id string) (*repository.PaymentMethod, error) {
	defer f.lock()()
	pm, ok := f.db.paymentMethods[id]
	if !ok {
		return nil, errors.NotFound("payment_method", id)
	}
	return &pm, nil
}

// ── pending queue ────────────────────────────────────────────────────────────

type fakePending struct{ *fakeHandle }

func (f fakePending) List(ctx context.Context, filter repository.PendingFilter) ([]*repository.PendingExpense, int, error) {
	defer f.lock()()
	if err := f.db.fail("pending.list"); err != nil {
		return nil, 0, err
	}

	contains := func(s *string, needle string) bool {
		return s != nil && strings.Contains(strings.ToLower(*s), strings.ToLower(needle))
	}

	matched := make([]*repository.PendingExpense, 0)
	for _, e := range f.db.expenses {
		if e.Status != repository.ExpenseStatusPendingApproval {
			continue
		}
		var stage *repository.ApprovalStage
		for _, s := range f.db.stages {
			if s.ExpenseID == e.ID && s.Status == repository.StageStatusPending {
				st := s
				stage = &st
			}
		}
		if stage == nil {
			continue
		}

		submitter := f.db.users[e.SubmittedBy]
		category := f.db.categories[e.CategoryID]
		var pmName, pmType *string
		if e.PaymentMethodID != nil {
			pm := f.db.paymentMethods[*e.PaymentMethodID]
			pmName, pmType = &pm.Name, &pm.Type
		}

		if filter.PaymentMethodType != nil && (pmType == nil || *pmType != *filter.PaymentMethodType) {
			continue
		}
		if filter.Urgency != nil && e.Urgency != *filter.Urgency {
			continue
		}
		if filter.AmountMin != nil && e.Amount.LessThan(*filter.AmountMin) {
			continue
		}
		if filter.AmountMax != nil && e.Amount.GreaterThan(*filter.AmountMax) {
			continue
		}
		if filter.CategoryID != nil && e.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.Search != nil && *filter.Search != "" {
			q := *filter.Search
			if !contains(&e.Description, q) && !contains(e.VendorName, q) && !contains(&submitter.Name, q) {
				continue
			}
		}
		if filter.ApproverID != nil && !stage.CanAct(*filter.ApproverID) {
			continue
		}

		matched = append(matched, &repository.PendingExpense{
			ID:                e.ID,
			Amount:            e.Amount,
			Description:       e.Description,
			VendorName:        e.VendorName,
			Urgency:           e.Urgency,
			Status:            e.Status,
			BusinessPurpose:   e.BusinessPurpose,
			SubmittedAt:       e.SubmittedAt,
			CategoryID:        category.ID,
			CategoryName:      category.Name,
			CategoryColor:     category.ColorCode,
			PaymentMethodName: pmName,
			PaymentMethodType: pmType,
			SubmitterID:       submitter.ID,
			SubmitterName:     submitter.Name,
			SubmitterEmail:    submitter.Email,
			StageID:           stage.ID,
			CurrentStage:      stage.StageNumber,
			TotalStages:       stage.TotalStages,
			EscalationHours:   stage.EscalationHours,
		})
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].SubmittedAt.Equal(matched[j].SubmittedAt) {
			return matched[i].SubmittedAt.Before(matched[j].SubmittedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := min(start+filter.Limit, total)
	return matched[start:end], total, nil
}
