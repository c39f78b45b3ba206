package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/repository"
	"github.com/syncedsports/be-expense-approvals/internal/service"
)

// Field limits enforced before a request reaches the services.
const (
	maxBodyBytes       = 1 << 20
	maxDescriptionLen  = 500
	maxTextLen         = 1000
	maxSearchLen       = 200
	maxShortTextLen    = 100
	maxConditions      = 20
	maxRuleStages      = 10
	maxApproversPerRow = 50
)

// maxAmount is the largest value numeric(12,2) can hold.
var maxAmount = decimal.RequireFromString("9999999999.99")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeBody(w, r, dst); err != nil {
		if err == io.EOF {
			return errors.InvalidInput("body", "request body is required")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeBody(w, r, dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return err
		}
		return errors.InvalidInput("body", "malformed JSON: "+err.Error())
	}
	return nil
}

func parseUUID(field, value string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", errors.InvalidInput(field, "must be a valid UUID")
	}
	return id.String(), nil
}

func parseOptionalUUID(field string, value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	id, err := parseUUID(field, *value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func checkAmount(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return errors.InvalidInput(field, "must not be negative")
	}
	if d.GreaterThan(maxAmount) {
		return errors.InvalidInput(field, "is too large")
	}
	return nil
}

func parseAmountParam(field, value string) (*decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, errors.InvalidInput(field, "must be a number")
	}
	if err := checkAmount(field, d); err != nil {
		return nil, err
	}
	return &d, nil
}

func parseIntParam(field, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.InvalidInput(field, "must be an integer")
	}
	return n, nil
}

func parseBoolParam(field, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.InvalidInput(field, "must be true or false")
	}
	return b, nil
}

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return errors.InvalidInput(field, fmt.Sprintf("must be at most %d characters", max))
	}
	return nil
}

func checkOptionalLength(field string, value *string, max int) error {
	if value == nil {
		return nil
	}
	return checkLength(field, *value, max)
}

func checkUrgency(value string) error {
	if !slices.Contains(repository.Urgencies, value) {
		return errors.InvalidInput("urgency", "must be one of "+strings.Join(repository.Urgencies, ", "))
	}
	return nil
}

// checkStage validates the optional stage number a decision is made against.
func checkStage(stage *int) error {
	if stage != nil && *stage < 1 {
		return errors.InvalidInput("stage", "must be at least 1")
	}
	return nil
}

// optionalParam returns nil for an absent or blank query parameter.
func optionalParam(q url.Values, key string) *string {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	return &v
}

// pendingQuery validates the pending-queue filters. mine=true restricts the
// queue to stages the caller may act on.
func pendingQuery(q url.Values, actorID string) (service.PendingQuery, error) {
	var (
		out service.PendingQuery
		err error
	)

	if v := optionalParam(q, "payment_method_type"); v != nil {
		if err := checkLength("payment_method_type", *v, maxShortTextLen); err != nil {
			return out, err
		}
		out.PaymentMethodType = v
	}
	if v := optionalParam(q, "urgency"); v != nil {
		if err := checkUrgency(*v); err != nil {
			return out, err
		}
		out.Urgency = v
	}
	if v := optionalParam(q, "amount_min"); v != nil {
		if out.AmountMin, err = parseAmountParam("amount_min", *v); err != nil {
			return out, err
		}
	}
	if v := optionalParam(q, "amount_max"); v != nil {
		if out.AmountMax, err = parseAmountParam("amount_max", *v); err != nil {
			return out, err
		}
	}
	if out.AmountMin != nil && out.AmountMax != nil && out.AmountMin.GreaterThan(*out.AmountMax) {
		return out, errors.InvalidInput("amount_min", "must not exceed amount_max")
	}
	if v := optionalParam(q, "search"); v != nil {
		if err := checkLength("search", *v, maxSearchLen); err != nil {
			return out, err
		}
		out.Search = v
	}
	if out.CategoryID, err = parseOptionalUUID("category_id", optionalParam(q, "category_id")); err != nil {
		return out, err
	}

	mine, err := parseBoolParam("mine", q.Get("mine"))
	if err != nil {
		return out, err
	}
	if mine {
		out.ApproverID = &actorID
	}

	if out.Page, err = parseIntParam("page", q.Get("page")); err != nil {
		return out, err
	}
	if out.Limit, err = parseIntParam("limit", q.Get("limit")); err != nil {
		return out, err
	}
	return out, nil
}

// ── Request bodies ───────────────────────────────────────────────────────────

type submitRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	Description     string           `json:"description"`
	VendorName      *string          `json:"vendor_name"`
	CategoryID      string           `json:"category_id"`
	PaymentMethodID *string          `json:"payment_method_id"`
	Urgency         string           `json:"urgency"`
	BusinessPurpose *string          `json:"business_purpose"`
	ReceiptID       *string          `json:"receipt_id"`
}

func (r submitRequest) validate() (service.SubmitExpenseRequest, error) {
	var out service.SubmitExpenseRequest

	if r.Amount == nil {
		return out, errors.InvalidInput("amount", "is required")
	}
	if err := checkAmount("amount", *r.Amount); err != nil {
		return out, err
	}
	if strings.TrimSpace(r.Description) == "" {
		return out, errors.InvalidInput("description", "is required")
	}
	if err := checkLength("description", r.Description, maxDescriptionLen); err != nil {
		return out, err
	}
	if err := checkOptionalLength("vendor_name", r.VendorName, maxShortTextLen*2); err != nil {
		return out, err
	}
	if err := checkOptionalLength("business_purpose", r.BusinessPurpose, maxTextLen); err != nil {
		return out, err
	}
	if r.Urgency != "" {
		if err := checkUrgency(r.Urgency); err != nil {
			return out, err
		}
	}

	categoryID, err := parseUUID("category_id", r.CategoryID)
	if err != nil {
		return out, err
	}
	paymentMethodID, err := parseOptionalUUID("payment_method_id", r.PaymentMethodID)
	if err != nil {
		return out, err
	}
	receiptID, err := parseOptionalUUID("receipt_id", r.ReceiptID)
	if err != nil {
		return out, err
	}

	return service.SubmitExpenseRequest{
		Amount:          *r.Amount,
		Description:     r.Description,
		VendorName:      r.VendorName,
		CategoryID:      categoryID,
		PaymentMethodID: paymentMethodID,
		Urgency:         r.Urgency,
		BusinessPurpose: r.BusinessPurpose,
		ReceiptID:       receiptID,
	}, nil
}

type resubmitRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	Description     *string          `json:"description"`
	VendorName      *string          `json:"vendor_name"`
	CategoryID      *string          `json:"category_id"`
	PaymentMethodID *string          `json:"payment_method_id"`
	Urgency         *string          `json:"urgency"`
	BusinessPurpose *string          `json:"business_purpose"`
	ReceiptID       *string          `json:"receipt_id"`
}

func (r resubmitRequest) validate() (service.ResubmitExpenseRequest, error) {
	var (
		out service.ResubmitExpenseRequest
		err error
	)

	if r.Amount != nil {
		if err := checkAmount("amount", *r.Amount); err != nil {
			return out, err
		}
	}
	if r.Description != nil {
		if strings.TrimSpace(*r.Description) == "" {
			return out, errors.InvalidInput("description", "must not be blank")
		}
		if err := checkLength("description", *r.Description, maxDescriptionLen); err != nil {
			return out, err
		}
	}
	if err := checkOptionalLength("vendor_name", r.VendorName, maxShortTextLen*2); err != nil {
		return out, err
	}
	if err := checkOptionalLength("business_purpose", r.BusinessPurpose, maxTextLen); err != nil {
		return out, err
	}
	if r.Urgency != nil {
		if err := checkUrgency(*r.Urgency); err != nil {
			return out, err
		}
	}

	out = service.ResubmitExpenseRequest{
		Amount:          r.Amount,
		Description:     r.Description,
		VendorName:      r.VendorName,
		Urgency:         r.Urgency,
		BusinessPurpose: r.BusinessPurpose,
	}
	if out.CategoryID, err = parseOptionalUUID("category_id", r.CategoryID); err != nil {
		return out, err
	}
	if out.PaymentMethodID, err = parseOptionalUUID("payment_method_id", r.PaymentMethodID); err != nil {
		return out, err
	}
	if out.ReceiptID, err = parseOptionalUUID("receipt_id", r.ReceiptID); err != nil {
		return out, err
	}
	return out, nil
}

type approveRequest struct {
	Notes      *string  `json:"notes"`
	Conditions []string `json:"conditions"`
	Stage      *int     `json:"stage"`
}

func (r approveRequest) validate() (service.ApproveInput, error) {
	if err := checkOptionalLength("notes", r.Notes, maxTextLen); err != nil {
		return service.ApproveInput{}, err
	}
	if err := checkStage(r.Stage); err != nil {
		return service.ApproveInput{}, err
	}
	if len(r.Conditions) > maxConditions {
		return service.ApproveInput{}, errors.InvalidInput("conditions", fmt.Sprintf("at most %d conditions are allowed", maxConditions))
	}
	conditions := make([]string, 0, len(r.Conditions))
	for i, c := range r.Conditions {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := checkLength(fmt.Sprintf("conditions[%d]", i), c, maxDescriptionLen); err != nil {
			return service.ApproveInput{}, err
		}
		conditions = append(conditions, c)
	}
	return service.ApproveInput{Notes: r.Notes, Conditions: conditions, ExpectedStage: r.Stage}, nil
}

type rejectRequest struct {
	Reason            string `json:"reason"`
	AllowResubmission *bool  `json:"allow_resubmission"`
	Stage             *int   `json:"stage"`
}

func (r rejectRequest) validate() (service.RejectInput, error) {
	if err := checkLength("reason", r.Reason, maxTextLen); err != nil {
		return service.RejectInput{}, err
	}
	// Omitting the flag must not default to a final rejection.
	if r.AllowResubmission == nil {
		return service.RejectInput{}, errors.InvalidInput("allow_resubmission", "is required")
	}
	if err := checkStage(r.Stage); err != nil {
		return service.RejectInput{}, err
	}
	return service.RejectInput{
		Reason:            r.Reason,
		AllowResubmission: *r.AllowResubmission,
		ExpectedStage:     r.Stage,
	}, nil
}

type delegateRequest struct {
	DelegateTo string `json:"delegate_to"`
	Reason     string `json:"reason"`
}

func (r delegateRequest) validate() (service.DelegateInput, error) {
	id, err := parseUUID("delegate_to", r.DelegateTo)
	if err != nil {
		return service.DelegateInput{}, err
	}
	if err := checkLength("reason", r.Reason, maxTextLen); err != nil {
		return service.DelegateInput{}, err
	}
	return service.DelegateInput{DelegateTo: id, Reason: r.Reason}, nil
}

type payRequest struct {
	Reference *string `json:"reference"`
}

func (r payRequest) validate() (*string, error) {
	if r.Reference == nil {
		return nil, nil
	}
	ref := strings.TrimSpace(*r.Reference)
	if ref == "" {
		return nil, nil
	}
	if err := checkLength("reference", ref, maxShortTextLen); err != nil {
		return nil, err
	}
	return &ref, nil
}

type ruleStageRequest struct {
	Stage           int      `json:"stage"`
	Approvers       []string `json:"approvers"`
	DelegateTo      *string  `json:"delegate_to"`
	EscalateTo      *string  `json:"escalate_to"`
	EscalationHours int      `json:"escalation_hours"`
}

type ruleRequest struct {
	RuleName   string             `json:"rule_name"`
	RuleType   string             `json:"rule_type"`
	IsActive   *bool              `json:"is_active"`
	MinAmount  *decimal.Decimal   `json:"min_amount"`
	MaxAmount  *decimal.Decimal   `json:"max_amount"`
	CategoryID *string            `json:"category_id"`
	Condition  *string            `json:"condition"`
	Stages     []ruleStageRequest `json:"stages"`
	Priority   int                `json:"priority"`
}

// validate checks shapes only; RuleService checks the rule's semantics.
func (r ruleRequest) validate() (*repository.ApprovalRule, error) {
	if err := checkLength("rule_name", r.RuleName, maxShortTextLen); err != nil {
		return nil, err
	}
	if err := checkOptionalLength("condition", r.Condition, maxTextLen); err != nil {
		return nil, err
	}
	if len(r.Stages) > maxRuleStages {
		return nil, errors.InvalidInput("stages", fmt.Sprintf("at most %d stages are allowed", maxRuleStages))
	}

	rule := &repository.ApprovalRule{
		RuleName:  r.RuleName,
		RuleType:  r.RuleType,
		IsActive:  r.IsActive == nil || *r.IsActive,
		MinAmount: r.MinAmount,
		MaxAmount: r.MaxAmount,
		Condition: r.Condition,
		Priority:  r.Priority,
	}

	var err error
	if rule.CategoryID, err = parseOptionalUUID("category_id", r.CategoryID); err != nil {
		return nil, err
	}

	for i, st := range r.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if len(st.Approvers) > maxApproversPerRow {
			return nil, errors.InvalidInput(field, "too many approvers")
		}
		stage := repository.ApprovalRuleStage{Stage: st.Stage, EscalationHours: st.EscalationHours}
		for j, a := range st.Approvers {
			id, err := parseUUID(fmt.Sprintf("%s.approvers[%d]", field, j), a)
			if err != nil {
				return nil, err
			}
			stage.Approvers = append(stage.Approvers, id)
		}
		if stage.DelegateTo, err = parseOptionalUUID(field+".delegate_to", st.DelegateTo); err != nil {
			return nil, err
		}
		if stage.EscalateTo, err = parseOptionalUUID(field+".escalate_to", st.EscalateTo); err != nil {
			return nil, err
		}
		rule.Stages = append(rule.Stages, stage)
	}
	return rule, nil
}
