package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/platform/httpx"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler manages payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.record)
	r.Get("/{id}", h.get)
	r.Get("/{id}/applications", h.listApplications)
	r.Post("/{id}/apply", h.apply)
	r.Post("/{id}/clear", h.clear)
	r.Post("/{id}/void", h.void)
	r.Post("/{id}/bounce", h.bounce)
	r.Post("/applications/{id}/unapply", h.unapply)
}

type recordPaymentRequest struct {
	UnitID           int64           `json:"unit_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount" validate:"required"`
	Method           string          `json:"method" validate:"required,oneof=CHECK ACH CARD CASH WIRE"`
	Reference        string          `json:"reference" validate:"max=64"`
	DepositAccountID int64           `json:"deposit_account_id" validate:"required"`
	ReceivedAt       time.Time       `json:"received_at"`
}

type applyPaymentRequest struct {
	ChargeIDs []int64 `json:"charge_ids"`
}

type paymentView struct {
	ID               int64     `json:"id"`
	UnitID           int64     `json:"unit_id"`
	Amount           string    `json:"amount"`
	AppliedAmount    string    `json:"applied_amount"`
	UnappliedAmount  string    `json:"unapplied_amount"`
	Status           string    `json:"status"`
	Method           string    `json:"method"`
	Reference        string    `json:"reference,omitempty"`
	DepositAccountID int64     `json:"deposit_account_id"`
	ReceivedAt       time.Time `json:"received_at"`
	JournalEntryID   *int64    `json:"journal_entry_id,omitempty"`
}

func toPaymentView(p Payment) paymentView {
	return paymentView{
		ID:               p.ID,
		UnitID:           p.UnitID,
		Amount:           p.Amount.StringFixed(2),
		AppliedAmount:    p.AppliedAmount.StringFixed(2),
		UnappliedAmount:  p.UnappliedAmount.StringFixed(2),
		Status:           string(p.Status),
		Method:           p.Method,
		Reference:        p.Reference,
		DepositAccountID: p.DepositAccountID,
		ReceivedAt:       p.ReceivedAt,
		JournalEntryID:   p.JournalEntryID,
	}
}

type applicationView struct {
	ID             int64      `json:"id"`
	PaymentID      int64      `json:"payment_id"`
	ChargeID       int64      `json:"charge_id"`
	Amount         string     `json:"amount"`
	AppliedAt      time.Time  `json:"applied_at"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	JournalEntryID *int64     `json:"journal_entry_id,omitempty"`
}

func toApplicationView(a Application) applicationView {
	return applicationView{
		ID:             a.ID,
		PaymentID:      a.PaymentID,
		ChargeID:       a.ChargeID,
		Amount:         a.Amount.StringFixed(2),
		AppliedAt:      a.AppliedAt,
		ReversedAt:     a.ReversedAt,
		JournalEntryID: a.JournalEntryID,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	list, err := h.service.ListPayments(r.Context(), scope)
	if err != nil {
		h.respondError(w, "list payments", err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := internalShared.NewPagination(page, perPage, len(list))
	start := (pagination.Page - 1) * pagination.PerPage
	if start > len(list) {
		start = len(list)
	}
	end := start + pagination.PerPage
	if end > len(list) {
		end = len(list)
	}
	views := make([]paymentView, 0, end-start)
	for _, p := range list[start:end] {
		views = append(views, toPaymentView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": pagination,
	})
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payment, err := h.service.RecordPayment(r.Context(), scope, RecordInput{
		UnitID:           req.UnitID,
		Amount:           req.Amount,
		Method:           req.Method,
		Reference:        req.Reference,
		DepositAccountID: req.DepositAccountID,
		ReceivedAt:       req.ReceivedAt,
	})
	if err != nil {
		h.respondError(w, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentView(payment))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	apps, err := h.service.ListApplications(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "list applications", err)
		return
	}
	views := make([]applicationView, 0, len(apps))
	for _, a := range apps {
		views = append(views, toApplicationView(a))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req applyPaymentRequest
	_ = httpx.DecodeJSON(r, &req)
	result, err := h.service.ApplyPayment(r.Context(), scope, id, req.ChargeIDs)
	if err != nil {
		h.respondError(w, "apply payment", err)
		return
	}
	views := make([]applicationView, 0, len(result.Applications))
	for _, a := range result.Applications {
		views = append(views, toApplicationView(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"applications":     views,
		"applied_total":    result.AppliedTotal.StringFixed(2),
		"unapplied_amount": result.UnappliedAmount.StringFixed(2),
		"journal_entry_id": result.JournalEntryID,
	})
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.ClearPayment, "clear payment")
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.VoidPayment, "void payment")
}

func (h *Handler) bounce(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.BouncePayment, "bounce payment")
}

func (h *Handler) statusChange(w http.ResponseWriter, r *http.Request, fn func(context.Context, tenant.Scope, int64) error, action string) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), scope, id); err != nil {
		h.respondError(w, action, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unapply(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.UnapplyPayment(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "unapply payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (tenant.Scope, int64, bool) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return tenant.Scope{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return tenant.Scope{}, 0, false
	}
	return scope, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrApplicationNotFound), errors.Is(err, billing.ErrChargeNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPaymentNotApplicable),
		errors.Is(err, ErrNoEligibleCharges),
		errors.Is(err, ErrApplicationReversed),
		errors.Is(err, ErrPaymentHasApplications),
		errors.Is(err, billing.ErrChargeNotOpen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, tenant.ErrMissingScope):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
