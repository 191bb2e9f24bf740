package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-contracts/httpx"
	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/diewo77/go-contracts/validation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ContractHandler exposes the contract lifecycle over JSON.
type ContractHandler struct {
	contracts *services.ContractService
	cancels   *services.CancellationService
	entries   *services.EntryService
	log       zerolog.Logger
	now       func() time.Time
}

func NewContractHandler(contracts *services.ContractService, cancels *services.CancellationService, entries *services.EntryService, log zerolog.Logger) *ContractHandler {
	return &ContractHandler{contracts: contracts, cancels: cancels, entries: entries, log: log, now: time.Now}
}

type itemRequest struct {
	ProductID uint             `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type createContractRequest struct {
	CompanyID           uint             `json:"company_id"`
	CustomerID          uint             `json:"customer_id"`
	PackageID           *uint            `json:"package_id"`
	CategoryID          *uint            `json:"category_id"`
	PaymentMethodID     *uint            `json:"payment_method_id"`
	Description         string           `json:"description"`
	Items               []itemRequest    `json:"items"`
	Discount            decimal.Decimal  `json:"discount"`
	Addition            decimal.Decimal  `json:"addition"`
	MonthlyValue        *decimal.Decimal `json:"monthly_value"`
	BillingType         string           `json:"billing_type"`
	BillingDay          int              `json:"billing_day"`
	StartDate           string           `json:"start_date"`
	FirstBillingDate    string           `json:"first_billing_date"`
	DurationMonths      int              `json:"contract_duration_months"`
	GracePeriodDays     *int             `json:"grace_period_days"`
	AutomaticRenewal    bool             `json:"automatic_renewal"`
	RenewalPeriodMonths int              `json:"renewal_period_months"`
	Activate            bool             `json:"activate"`
}

type updateContractRequest struct {
	Description         *string          `json:"description"`
	CategoryID          *uint            `json:"category_id"`
	PaymentMethodID     *uint            `json:"payment_method_id"`
	MonthlyValue        *decimal.Decimal `json:"monthly_value"`
	BillingType         *string          `json:"billing_type"`
	BillingDay          *int             `json:"billing_day"`
	FirstBillingDate    *string          `json:"first_billing_date"`
	EndDate             *string          `json:"end_date"`
	GracePeriodDays     *int             `json:"grace_period_days"`
	AutomaticRenewal    *bool            `json:"automatic_renewal"`
	RenewalPeriodMonths *int             `json:"renewal_period_months"`
}

type cancelRequest struct {
	Reason           string           `json:"reason"`
	Details          string           `json:"details"`
	CancellationDate string           `json:"cancellation_date"`
	Fee              *decimal.Decimal `json:"fee"`
}

// parseDate reads an optional YYYY-MM-DD value, recording a violation when malformed.
func parseDate(field, s string, v validation.Violations) *time.Time {
	if s == "" {
		return nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		v[field] = "invalid_date"
		return nil
	}
	return &d
}

// billingType normalizes a cadence name. Unknown names pass through for the
// service to report.
func billingType(s string) cadence.BillingType {
	b, err := cadence.ParseBillingType(s)
	if err != nil {
		return cadence.BillingType(s)
	}
	return b
}

func (h *ContractHandler) badJSON(w http.ResponseWriter) {
	httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
}

// Create handles POST /contracts.
func (h *ContractHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badJSON(w)
		return
	}
	v := validation.Violations{}
	in := services.CreateContractInput{
		CompanyID:           req.CompanyID,
		CustomerID:          req.CustomerID,
		PackageID:           req.PackageID,
		CategoryID:          req.CategoryID,
		PaymentMethodID:     req.PaymentMethodID,
		Description:         req.Description,
		Discount:            req.Discount,
		Addition:            req.Addition,
		MonthlyValue:        req.MonthlyValue,
		BillingType:         billingType(req.BillingType),
		BillingDay:          req.BillingDay,
		FirstBillingDate:    parseDate("first_billing_date", req.FirstBillingDate, v),
		DurationMonths:      req.DurationMonths,
		GracePeriodDays:     req.GracePeriodDays,
		AutomaticRenewal:    req.AutomaticRenewal,
		RenewalPeriodMonths: req.RenewalPeriodMonths,
		Activate:            req.Activate,
	}
	if start := parseDate("start_date", req.StartDate, v); start != nil {
		in.StartDate = *start
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, services.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	c, err := h.contracts.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

// Get handles GET /contracts/{id}.
func (h *ContractHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	c, err := h.contracts.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Update handles PATCH /contracts/{id}.
func (h *ContractHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req updateContractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badJSON(w)
		return
	}
	v := validation.Violations{}
	in := services.UpdateTermsInput{
		Description:         req.Description,
		CategoryID:          req.CategoryID,
		PaymentMethodID:     req.PaymentMethodID,
		MonthlyValue:        req.MonthlyValue,
		BillingDay:          req.BillingDay,
		GracePeriodDays:     req.GracePeriodDays,
		AutomaticRenewal:    req.AutomaticRenewal,
		RenewalPeriodMonths: req.RenewalPeriodMonths,
	}
	if req.BillingType != nil {
		bt := billingType(*req.BillingType)
		in.BillingType = &bt
	}
	if req.FirstBillingDate != nil {
		in.FirstBillingDate = parseDate("first_billing_date", *req.FirstBillingDate, v)
	}
	if req.EndDate != nil {
		in.EndDate = parseDate("end_date", *req.EndDate, v)
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	c, err := h.contracts.UpdateTerms(r.Context(), id, in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Delete handles DELETE /contracts/{id}.
func (h *ContractHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if err := h.contracts.Delete(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /contracts/{id}/activate.
func (h *ContractHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contracts.Activate)
}

// Pause handles POST /contracts/{id}/pause.
func (h *ContractHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contracts.Pause)
}

// Resume handles POST /contracts/{id}/resume.
func (h *ContractHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contracts.Resume)
}

func (h *ContractHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uint) (*models.Contract, error)) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	c, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Cancel handles POST /contracts/{id}/cancel.
func (h *ContractHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badJSON(w)
		return
	}
	v := validation.Violations{}
	in := services.CancelRequest{ContractID: id, Reason: req.Reason, Details: req.Details, Fee: req.Fee}
	if d := parseDate("cancellation_date", req.CancellationDate, v); d != nil {
		in.CancellationDate = *d
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	res, err := h.cancels.Cancel(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Entries handles GET /contracts/{id}/entries.
func (h *ContractHandler) Entries(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if _, err := h.contracts.Get(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	entries, err := h.entries.ListByContract(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

// companyParam reads the optional company_id query parameter; 0 means all tenants.
func companyParam(r *http.Request) (uint, bool) {
	v := r.URL.Query().Get("company_id")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

// Due handles GET /contracts/due?date=YYYY-MM-DD&company_id=N.
func (h *ContractHandler) Due(w http.ResponseWriter, r *http.Request) {
	date, err := httpx.QueryDate(r, "date", cadence.Date(h.now()))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"date": "invalid_date"})
		return
	}
	company, ok := companyParam(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"company_id": "invalid"})
		return
	}
	list, err := h.contracts.ContractsDueOn(r.Context(), company, date)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

// Expiring handles GET /contracts/expiring?days=N&company_id=N.
func (h *ContractHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, err := httpx.QueryInt(r, "days", 30)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"days": "invalid"})
		return
	}
	company, ok := companyParam(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"company_id": "invalid"})
		return
	}
	list, err := h.contracts.ContractsExpiringWithin(r.Context(), company, days)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

// Revenue handles GET /contracts/mrr?company_id=N.
func (h *ContractHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	company, ok := companyParam(r)
	if !ok || company == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"company_id": "required"})
		return
	}
	mrr, err := h.contracts.MonthlyRecurringRevenue(r.Context(), company)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"company_id": company, "monthly_recurring_revenue": mrr})
}
