package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strataledger/strataledger/internal/platform/httpx"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler manages assessment billing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/charges", h.generateCharge)
	r.Get("/charges/{id}", h.getCharge)
	r.Get("/units/{unitID}/charges", h.listUnitCharges)
	r.Post("/cycle/run", h.runCycle)
	r.Post("/charges/{id}/late-fee", h.applyLateFee)
	r.Post("/late-fees/scan", h.scanLateFees)
	r.Post("/charges/{id}/write-off", h.writeOff)
	r.Post("/charges/{id}/credit", h.credit)
}

type generateChargeRequest struct {
	UnitID           int64     `json:"unit_id" validate:"required"`
	AssessmentTypeID int64     `json:"assessment_type_id" validate:"required"`
	PeriodStart      time.Time `json:"period_start" validate:"required"`
	PeriodEnd        time.Time `json:"period_end" validate:"required"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=240"`
}

type chargeView struct {
	ID               int64     `json:"id"`
	UnitID           int64     `json:"unit_id"`
	AssessmentTypeID int64     `json:"assessment_type_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	ChargeDate       time.Time `json:"charge_date"`
	DueDate          time.Time `json:"due_date"`
	Amount           string    `json:"amount"`
	LateFeeAmount    string    `json:"late_fee_amount"`
	TotalAmount      string    `json:"total_amount"`
	PaidAmount       string    `json:"paid_amount"`
	BalanceDue       string    `json:"balance_due"`
	Status           string    `json:"status"`
	LateFeeApplied   bool      `json:"late_fee_applied"`
	JournalEntryID   *int64    `json:"journal_entry_id,omitempty"`
}

func toChargeView(c Charge) chargeView {
	return chargeView{
		ID:               c.ID,
		UnitID:           c.UnitID,
		AssessmentTypeID: c.AssessmentTypeID,
		PeriodStart:      c.PeriodStart,
		PeriodEnd:        c.PeriodEnd,
		ChargeDate:       c.ChargeDate,
		DueDate:          c.DueDate,
		Amount:           c.Amount.StringFixed(2),
		LateFeeAmount:    c.LateFeeAmount.StringFixed(2),
		TotalAmount:      c.TotalAmount.StringFixed(2),
		PaidAmount:       c.PaidAmount.StringFixed(2),
		BalanceDue:       c.BalanceDue.StringFixed(2),
		Status:           string(c.Status),
		LateFeeApplied:   c.LateFeeApplied,
		JournalEntryID:   c.JournalEntryID,
	}
}

func (h *Handler) generateCharge(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	var req generateChargeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	charge, err := h.service.GenerateCharge(r.Context(), scope, req.UnitID, req.AssessmentTypeID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.respondError(w, "generate charge", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toChargeView(charge))
}

func (h *Handler) getCharge(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r, "id")
	if !ok {
		return
	}
	charge, err := h.service.GetCharge(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get charge", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toChargeView(charge))
}

func (h *Handler) listUnitCharges(w http.ResponseWriter, r *http.Request) {
	scope, unitID, ok := h.scopeAndID(w, r, "unitID")
	if !ok {
		return
	}
	charges, err := h.service.ListUnitCharges(r.Context(), scope, unitID)
	if err != nil {
		h.respondError(w, "list unit charges", err)
		return
	}
	views := make([]chargeView, 0, len(charges))
	for _, c := range charges {
		views = append(views, toChargeView(c))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) runCycle(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	asOf := time.Time{}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	result, err := h.service.RunBillingCycle(r.Context(), scope, asOf)
	if err != nil {
		h.respondError(w, "run billing cycle", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"generated":   result.Generated,
		"skipped":     result.Skipped,
		"already_ran": result.AlreadyRan,
	})
}

func (h *Handler) applyLateFee(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r, "id")
	if !ok {
		return
	}
	charge, err := h.service.ApplyLateFee(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "apply late fee", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toChargeView(charge))
}

func (h *Handler) scanLateFees(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	applied, err := h.service.ScanLateFees(r.Context(), scope, time.Time{})
	if err != nil {
		h.respondError(w, "scan late fees", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	_ = httpx.DecodeJSON(r, &req)
	charge, err := h.service.WriteOffCharge(r.Context(), scope, id, req.Reason)
	if err != nil {
		h.respondError(w, "write off charge", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toChargeView(charge))
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	_ = httpx.DecodeJSON(r, &req)
	charge, err := h.service.CreditCharge(r.Context(), scope, id, req.Reason)
	if err != nil {
		h.respondError(w, "credit charge", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toChargeView(charge))
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request, param string) (tenant.Scope, int64, bool) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return tenant.Scope{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", param+" must be numeric")
		return tenant.Scope{}, 0, false
	}
	return scope, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrChargeNotFound), errors.Is(err, ErrUnknownAssessmentType):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCharge):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrNotYetOverdue), errors.Is(err, ErrChargeNotOpen), errors.Is(err, ErrNoLateFeeRule):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, tenant.ErrMissingScope):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
