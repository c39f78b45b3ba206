package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/syncedsports/be-expense-approvals/internal/auth"
	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
	"github.com/syncedsports/be-expense-approvals/internal/middleware"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
	"github.com/syncedsports/be-expense-approvals/internal/service"
)

// ApprovalEngine is the decision engine as seen by the transport.
type ApprovalEngine interface {
	Approve(ctx context.Context, expenseID string, actor auth.Actor, in service.ApproveInput) (*service.ApproveResult, error)
	Reject(ctx context.Context, expenseID string, actor auth.Actor, in service.RejectInput) (*service.RejectResult, error)
	Delegate(ctx context.Context, expenseID string, actor auth.Actor, in service.DelegateInput) (*service.DelegateResult, error)
	MarkPaid(ctx context.Context, expenseID string, actor auth.Actor, reference *string) (*service.ExpenseView, error)
}

// Expenses submits and reads expenses.
type Expenses interface {
	Submit(ctx context.Context, actor auth.Actor, req service.SubmitExpenseRequest) (*service.SubmitResult, error)
	Resubmit(ctx context.Context, actor auth.Actor, expenseID string, req service.ResubmitExpenseRequest) (*service.SubmitResult, error)
	Get(ctx context.Context, expenseID string) (*service.ExpenseDetail, error)
	History(ctx context.Context, expenseID string) ([]service.DecisionView, error)
}

type PendingQueue interface {
	ListPending(ctx context.Context, q service.PendingQuery) (*service.PendingPage, error)
}

type ReferenceData interface {
	GetCategories(ctx context.Context, includeInactive bool) ([]service.CategoryView, error)
	GetVendors(ctx context.Context, search string, limit int) ([]service.VendorView, error)
}

type RuleAdmin interface {
	ListRules(ctx context.Context, actor auth.Actor) ([]service.RuleView, error)
	CreateRule(ctx context.Context, actor auth.Actor, rule *repository.ApprovalRule) (*service.RuleView, error)
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals ApprovalEngine
	expenses  Expenses
	pending   PendingQueue
	refs      ReferenceData
	rules     RuleAdmin
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	approvals ApprovalEngine,
	expenses Expenses,
	pending PendingQueue,
	refs ReferenceData,
	rules RuleAdmin,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		expenses:  expenses,
		pending:   pending,
		refs:      refs,
		rules:     rules,
		log:       log,
	}
}

// Register mounts the API routes on r. r is expected to run the
// authentication middleware.
func (h *HTTPHandler) Register(r *mux.Router) {
	r.HandleFunc("/expenses/pending", h.ListPending).Methods(http.MethodGet)
	r.HandleFunc("/expenses", h.SubmitExpense).Methods(http.MethodPost)
	r.HandleFunc("/expenses/{id}", h.GetExpense).Methods(http.MethodGet)
	r.HandleFunc("/expenses/{id}/approvals", h.GetHistory).Methods(http.MethodGet)
	r.HandleFunc("/expenses/{id}/approve", h.Approve).Methods(http.MethodPost)
	r.HandleFunc("/expenses/{id}/reject", h.Reject).Methods(http.MethodPost)
	r.HandleFunc("/expenses/{id}/delegate", h.Delegate).Methods(http.MethodPost)
	r.HandleFunc("/expenses/{id}/resubmit", h.Resubmit).Methods(http.MethodPost)
	r.HandleFunc("/expenses/{id}/pay", h.MarkPaid).Methods(http.MethodPost)
	r.HandleFunc("/categories", h.ListCategories).Methods(http.MethodGet)
	r.HandleFunc("/vendors", h.ListVendors).Methods(http.MethodGet)
	r.HandleFunc("/approval-rules", h.ListRules).Methods(http.MethodGet)
	r.HandleFunc("/approval-rules", h.CreateRule).Methods(http.MethodPost)
}

// actorAndID returns the authenticated actor and the validated {id} path
// variable.
func actorAndID(r *http.Request) (auth.Actor, string, error) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Actor{}, "", errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	id, err := parseUUID("id", mux.Vars(r)["id"])
	if err != nil {
		return auth.Actor{}, "", err
	}
	return actor, id, nil
}

func requireActor(r *http.Request) (auth.Actor, error) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Actor{}, errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	return actor, nil
}

// fail writes err, logging what the caller cannot see.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.IsDomain(err) {
		h.log.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	middleware.WriteError(w, err)
}

// ListPending handles GET /expenses/pending
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := pendingQuery(r.URL.Query(), actor.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.pending.ListPending(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// SubmitExpense handles POST /expenses
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body submitRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.expenses.Submit(r.Context(), actor, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// GetExpense handles GET /expenses/{id}
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	_, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	detail, err := h.expenses.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}

// GetHistory handles GET /expenses/{id}/approvals
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	_, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	history, err := h.expenses.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"expense_id": id,
		"decisions":  history,
	})
}

// Approve handles POST /expenses/{id}/approve
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body approveRequest
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.approvals.Approve(r.Context(), id, actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// Reject handles POST /expenses/{id}/reject
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body rejectRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.approvals.Reject(r.Context(), id, actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// Delegate handles POST /expenses/{id}/delegate
func (h *HTTPHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	actor, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body delegateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.approvals.Delegate(r.Context(), id, actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// Resubmit handles POST /expenses/{id}/resubmit
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	actor, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body resubmitRequest
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.expenses.Resubmit(r.Context(), actor, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// MarkPaid handles POST /expenses/{id}/pay
func (h *HTTPHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	actor, id, err := actorAndID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body payRequest
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	reference, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	expense, err := h.approvals.MarkPaid(r.Context(), id, actor, reference)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, expense)
}

// ListCategories handles GET /categories
func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := parseBoolParam("include_inactive", r.URL.Query().Get("include_inactive"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	categories, err := h.refs.GetCategories(r.Context(), includeInactive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// ListVendors handles GET /vendors
func (h *HTTPHandler) ListVendors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := q.Get("search")
	if err := checkLength("search", search, maxSearchLen); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := parseIntParam("limit", q.Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	vendors, err := h.refs.GetVendors(r.Context(), search, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"vendors": vendors})
}

// ListRules handles GET /approval-rules
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.rules.ListRules(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"rules": list})
}

// CreateRule handles POST /approval-rules
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body ruleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := body.validate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view, err := h.rules.CreateRule(r.Context(), actor, rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/approval-rules/"+view.ID)
	middleware.WriteJSON(w, http.StatusCreated, view)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health. It reports 503 while the database is
// unreachable.
func Health(db Pinger, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		middleware.WriteJSON(w, code, map[string]string{"status": status, "version": version})
	}
}

// RouterConfig carries what NewRouter needs besides the handler.
type RouterConfig struct {
	Tokens         *auth.TokenManager
	DB             Pinger
	Version        string
	AllowedOrigins []string
	Log            *logger.Logger
	// RequestTimeout bounds each request; zero disables it.
	RequestTimeout time.Duration
}

// NewRouter builds the full HTTP handler: /health in the open and the API
// under /api/v1 behind bearer authentication, all wrapped in the middleware
// chain.
func NewRouter(h *HTTPHandler, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", Health(cfg.DB, cfg.Version)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(middleware.Authenticate(cfg.Tokens)))
	h.Register(api)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, errors.New(errors.ErrCodeNotFound, "route not found: "+r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, middleware.ErrorBody{Error: middleware.ErrorDetail{
			Kind:    "Validation",
			Message: "method " + r.Method + " not allowed on " + r.URL.Path,
		}})
	})

	var handler http.Handler = router
	handler = middleware.Timeout(cfg.RequestTimeout)(handler)
	handler = middleware.CORS(cfg.AllowedOrigins)(handler)
	handler = middleware.Recovery(cfg.Log)(handler)
	handler = middleware.Logging(cfg.Log)(handler)
	handler = middleware.RequestID(handler)
	return handler
}
