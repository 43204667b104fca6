package ap

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/platform/httpx"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler manages accounts payable endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers AP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/vendors", h.listVendors)
	r.Post("/vendors", h.createVendor)
	r.Get("/vendors/{id}", h.getVendor)
	r.Get("/invoices", h.listInvoices)
	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/post", h.postInvoice)
	r.Post("/invoices/{id}/pay", h.payInvoice)
	r.Post("/invoices/{id}/void", h.voidInvoice)
	r.Get("/aging", h.aging)
}

type createVendorRequest struct {
	Name  string `json:"name" validate:"required,max=160"`
	TaxID string `json:"tax_id" validate:"max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

type invoiceLineRequest struct {
	Description      string          `json:"description" validate:"required,max=240"`
	ExpenseAccountID int64           `json:"expense_account_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount" validate:"required"`
}

type createInvoiceRequest struct {
	VendorID         int64                `json:"vendor_id" validate:"required"`
	Number           string               `json:"number" validate:"required,max=64"`
	Memo             string               `json:"memo" validate:"max=240"`
	PayableAccountID int64                `json:"payable_account_id" validate:"required"`
	InvoiceDate      time.Time            `json:"invoice_date"`
	DueDate          time.Time            `json:"due_date"`
	Lines            []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type payInvoiceRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	BankAccountID int64           `json:"bank_account_id" validate:"required"`
}

type vendorView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"is_active"`
}

func toVendorView(v Vendor) vendorView {
	return vendorView{ID: v.ID, Name: v.Name, TaxID: v.TaxID, Email: v.Email, IsActive: v.IsActive}
}

type invoiceLineView struct {
	LineNumber       int    `json:"line_number"`
	Description      string `json:"description"`
	ExpenseAccountID int64  `json:"expense_account_id"`
	Amount           string `json:"amount"`
}

type invoiceView struct {
	ID               int64             `json:"id"`
	VendorID         int64             `json:"vendor_id"`
	Number           string            `json:"number"`
	Memo             string            `json:"memo,omitempty"`
	Total            string            `json:"total"`
	PaidAmount       string            `json:"paid_amount"`
	Balance          string            `json:"balance"`
	Status           string            `json:"status"`
	PayableAccountID int64             `json:"payable_account_id"`
	InvoiceDate      time.Time         `json:"invoice_date"`
	DueDate          time.Time         `json:"due_date"`
	JournalEntryID   *int64            `json:"journal_entry_id,omitempty"`
	PostedAt         *time.Time        `json:"posted_at,omitempty"`
	Lines            []invoiceLineView `json:"lines,omitempty"`
}

func toInvoiceView(inv Invoice) invoiceView {
	view := invoiceView{
		ID:               inv.ID,
		VendorID:         inv.VendorID,
		Number:           inv.Number,
		Memo:             inv.Memo,
		Total:            inv.Total.StringFixed(2),
		PaidAmount:       inv.PaidAmount.StringFixed(2),
		Balance:          inv.Balance.StringFixed(2),
		Status:           string(inv.Status),
		PayableAccountID: inv.PayableAccountID,
		InvoiceDate:      inv.InvoiceDate,
		DueDate:          inv.DueDate,
		JournalEntryID:   inv.JournalEntryID,
		PostedAt:         inv.PostedAt,
	}
	for _, line := range inv.Lines {
		view.Lines = append(view.Lines, invoiceLineView{
			LineNumber:       line.LineNumber,
			Description:      line.Description,
			ExpenseAccountID: line.ExpenseAccountID,
			Amount:           line.Amount.StringFixed(2),
		})
	}
	return view
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	vendors, err := h.service.ListVendors(r.Context(), scope)
	if err != nil {
		h.respondError(w, "list vendors", err)
		return
	}
	views := make([]vendorView, 0, len(vendors))
	for _, v := range vendors {
		views = append(views, toVendorView(v))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	var req createVendorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	vendor, err := h.service.CreateVendor(r.Context(), scope, CreateVendorInput{Name: req.Name, TaxID: req.TaxID, Email: req.Email})
	if err != nil {
		h.respondError(w, "create vendor", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toVendorView(vendor))
}

func (h *Handler) getVendor(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	vendor, err := h.service.GetVendor(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get vendor", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVendorView(vendor))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), scope, InvoiceStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.respondError(w, "list invoices", err)
		return
	}
	views := make([]invoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, toInvoiceView(inv))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateInvoiceInput{
		VendorID:         req.VendorID,
		Number:           req.Number,
		Memo:             req.Memo,
		PayableAccountID: req.PayableAccountID,
		InvoiceDate:      req.InvoiceDate,
		DueDate:          req.DueDate,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, InvoiceLineInput{
			Description:      line.Description,
			ExpenseAccountID: line.ExpenseAccountID,
			Amount:           line.Amount,
		})
	}
	invoice, err := h.service.CreateInvoice(r.Context(), scope, in)
	if err != nil {
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceView(invoice))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceView(invoice))
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.PostInvoice(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "post invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceView(invoice))
}

func (h *Handler) payInvoice(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req payInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	invoice, err := h.service.PayInvoice(r.Context(), scope, id, req.Amount, req.BankAccountID)
	if err != nil {
		h.respondError(w, "pay invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceView(invoice))
}

func (h *Handler) voidInvoice(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.VoidInvoice(r.Context(), scope, id); err != nil {
		h.respondError(w, "void invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	bucket, err := h.service.Aging(r.Context(), scope, time.Time{})
	if err != nil {
		h.respondError(w, "ap aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"current": bucket.Current.StringFixed(2),
		"30":      bucket.Days30.StringFixed(2),
		"60":      bucket.Days60.StringFixed(2),
		"90":      bucket.Days90.StringFixed(2),
		"90_plus": bucket.Days90Pls.StringFixed(2),
	})
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
	case errors.Is(err, ErrVendorNotFound), errors.Is(err, ErrInvoiceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateInvoiceNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrOverpayment):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, tenant.ErrMissingScope):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
