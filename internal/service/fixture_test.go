package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncedsports/be-expense-approvals/internal/auth"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
	"github.com/syncedsports/be-expense-approvals/internal/rules"
)

const (
	submitterID = "00000000-0000-0000-0000-000000000001"
	approver1ID = "00000000-0000-0000-0000-000000000011"
	approver2ID = "00000000-0000-0000-0000-000000000012"
	approver3ID = "00000000-0000-0000-0000-000000000013"
	delegateID  = "00000000-0000-0000-0000-000000000021"
	escalateID  = "00000000-0000-0000-0000-000000000022"
	outsiderID  = "00000000-0000-0000-0000-000000000031"
	adminID     = "00000000-0000-0000-0000-000000000041"
	financeID   = "00000000-0000-0000-0000-000000000042"
	inactiveID  = "00000000-0000-0000-0000-000000000051"

	categoryTravel   = "10000000-0000-0000-0000-000000000001"
	categoryMeals    = "10000000-0000-0000-0000-000000000002"
	categoryArchived = "10000000-0000-0000-0000-000000000003"

	paymentCard = "20000000-0000-0000-0000-000000000001"
	paymentCash = "20000000-0000-0000-0000-000000000002"
)

// ── notifier ─────────────────────────────────────────────────────────────────

type sentNotification struct {
	target string
	n      Notification
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, target string, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{target: target, n: msg})
	return n.err
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

func (n *recordingNotifier) to(target string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, s := range n.sent {
		if s.target == target {
			out = append(out, s.n)
		}
	}
	return out
}

// ── fixture ──────────────────────────────────────────────────────────────────

type fixture struct {
	db        *fakeDB
	notifier  *recordingNotifier
	approvals *ApprovalService
	expenses  *ExpenseService
	pending   *PendingQueueService
	refs      *ReferenceService
	ruleAdmin *RuleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newFakeDB()
	seedReferenceData(db)

	notifier := &recordingNotifier{}
	log := logger.Nop()

	return &fixture{
		db:        db,
		notifier:  notifier,
		approvals: NewApprovalService(db, notifier, log),
		expenses: NewExpenseService(db, rules.NewExprEvaluator(), notifier, RoutingSettings{
			DefaultEscalationHours: 72,
			FallbackApproverRoles:  []string{"admin", "finance_manager"},
		}, log),
		pending:   NewPendingQueueService(db, log),
		refs:      NewReferenceService(db, nil, log),
		ruleAdmin: NewRuleService(db, log),
	}
}

func seedReferenceData(db *fakeDB) {
	users := []repository.User{
		{ID: submitterID, Name: "Sam Submitter", Email: "sam@example.com", Role: "employee", Active: true},
		{ID: approver1ID, Name: "Ada Approver", Email: "ada@example.com", Role: "manager", Active: true},
		{ID: approver2ID, Name: "Ben Approver", Email: "ben@example.com", Role: "manager", Active: true},
		{ID: approver3ID, Name: "Cy Approver", Email: "cy@example.com", Role: "director", Active: true},
		{ID: delegateID, Name: "Dee Delegate", Email: "dee@example.com", Role: "manager", Active: true},
		{ID: escalateID, Name: "Eli Escalation", Email: "eli@example.com", Role: "director", Active: true},
		{ID: outsiderID, Name: "Olive Outsider", Email: "olive@example.com", Role: "employee", Active: true},
		{ID: adminID, Name: "Alex Admin", Email: "alex@example.com", Role: "admin", Active: true},
		{ID: financeID, Name: "Fran Finance", Email: "fran@example.com", Role: "finance_manager", Active: true},
		{ID: inactiveID, Name: "Ivy Inactive", Email: "ivy@example.com", Role: "finance_manager", Active: false},
	}
	for _, u := range users {
		db.users[u.ID] = u
	}

	threshold := decimal.RequireFromString("250")
	db.categories[categoryTravel] = repository.Category{ID: categoryTravel, Name: "Travel", Code: "TRAVEL",
		ColorCode: "#2563EB", RequiresApproval: true, ApprovalThreshold: &threshold, Active: true}
	db.categories[categoryMeals] = repository.Category{ID: categoryMeals, Name: "Meals", Code: "MEALS",
		ColorCode: "#16A34A", RequiresApproval: true, Active: true}
	db.categories[categoryArchived] = repository.Category{ID: categoryArchived, Name: "Archived", Code: "OLD",
		ColorCode: "#6B7280", Active: false}

	db.paymentMethods[paymentCard] = repository.PaymentMethod{ID: paymentCard, Name: "Corporate Card", Type: "card"}
	db.paymentMethods[paymentCash] = repository.PaymentMethod{ID: paymentCash, Name: "Petty Cash", Type: "cash"}

	for _, v := range []repository.Vendor{
		{ID: "v1", Name: "Acme Travel", Active: true},
		{ID: "v2", Name: "Blue Cab Co", Active: true},
		{ID: "v3", Name: "Acme Catering", Active: false},
	} {
		db.vendors[v.ID] = v
	}
}

func actor(id string, roles ...string) auth.Actor {
	return auth.NewActor(id, roles...)
}

func strPtr(s string) *string { return &s }

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// routeAll installs a single amount-based rule whose stages are approved by
// the given approver sets, replacing any other rules.
func (f *fixture) routeAll(stageApprovers ...[]string) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	stages := make([]repository.ApprovalRuleStage, 0, len(stageApprovers))
	for i, approvers := range stageApprovers {
		stages = append(stages, repository.ApprovalRuleStage{Stage: i + 1, Approvers: approvers})
	}
	f.db.rules = map[string]repository.ApprovalRule{
		"rule-all": {ID: "rule-all", RuleName: "all", RuleType: repository.RuleTypeAmountBased,
			IsActive: true, Stages: stages, Priority: 100},
	}
}

// submit creates a pending expense routed through the given stages.
func (f *fixture) submit(t *testing.T, amt string, stageApprovers ...[]string) string {
	t.Helper()
	f.routeAll(stageApprovers...)

	res, err := f.expenses.Submit(context.Background(), actor(submitterID), SubmitExpenseRequest{
		Amount:          amount(amt),
		Description:     "Client visit",
		VendorName:      strPtr("Blue Cab Co"),
		CategoryID:      categoryTravel,
		PaymentMethodID: strPtr(paymentCard),
		Urgency:         "normal",
	})
	require.NoError(t, err)
	f.notifier.reset()
	return res.Expense.ID
}

func (f *fixture) expense(id string) repository.Expense {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.expenses[id]
}

// stagesOf returns the stages of an expense's latest workflow, in order.
func (f *fixture) stagesOf(t *testing.T, expenseID string) []*repository.ApprovalStage {
	t.Helper()
	r := f.db.Repos()
	wf, err := r.Workflows.GetLatestByExpenseID(context.Background(), expenseID)
	require.NoError(t, err)
	require.NotNil(t, wf)
	stages, err := r.Stages.GetByWorkflowID(context.Background(), wf.ID)
	require.NoError(t, err)
	return stages
}

func (f *fixture) decisionsOf(t *testing.T, expenseID string) []*repository.ApprovalDecision {
	t.Helper()
	ds, err := f.db.Repos().Decisions.ListByExpense(context.Background(), expenseID)
	require.NoError(t, err)
	return ds
}

// assertWorkflowInvariants checks the stage ordering invariants of every
// workflow of an expense.
func (f *fixture) assertWorkflowInvariants(t *testing.T, expenseID string) {
	t.Helper()
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	pending := 0
	byWorkflow := map[string][]repository.ApprovalStage{}
	for _, s := range f.db.stages {
		if s.ExpenseID != expenseID {
			continue
		}
		if s.Status == repository.StageStatusPending {
			pending++
		}
		byWorkflow[s.WorkflowID] = append(byWorkflow[s.WorkflowID], s)
	}
	assert.LessOrEqual(t, pending, 1, "more than one pending stage")

	for _, stages := range byWorkflow {
		approvedBelow := map[int]bool{}
		for _, s := range stages {
			approvedBelow[s.StageNumber] = s.Status == repository.StageStatusApproved
		}
		for _, s := range stages {
			if s.Status != repository.StageStatusApproved && s.Status != repository.StageStatusPending {
				continue
			}
			for k := 1; k < s.StageNumber; k++ {
				assert.True(t, approvedBelow[k], "stage %d is %s but stage %d is not approved", s.StageNumber, s.Status, k)
			}
		}
	}
}

var errStoreDown = stderrors.New("connection reset by peer")
