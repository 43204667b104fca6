package journals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/platform/httpx"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler manages journal entry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/reverse", h.reverse)
}

type lineRequest struct {
	AccountID int64           `json:"account_id" validate:"required"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

type createEntryRequest struct {
	Number string        `json:"number" validate:"max=32"`
	Date   time.Time     `json:"date"`
	Memo   string        `json:"memo" validate:"max=240"`
	Lines  []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=240"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"max=240"`
}

type lineView struct {
	LineNumber int    `json:"line_number"`
	AccountID  int64  `json:"account_id"`
	Debit      string `json:"debit"`
	Credit     string `json:"credit"`
}

type entryView struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	Date         time.Time  `json:"date"`
	Memo         string     `json:"memo,omitempty"`
	Status       string     `json:"status"`
	IsReversal   bool       `json:"is_reversal"`
	ReversedByID *int64     `json:"reversed_by_id,omitempty"`
	SourceKind   string     `json:"source_kind"`
	SourceID     int64      `json:"source_id,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	Lines        []lineView `json:"lines,omitempty"`
}

func toEntryView(e Entry) entryView {
	view := entryView{
		ID:           e.ID,
		Number:       e.Number,
		Date:         e.Date,
		Memo:         e.Memo,
		Status:       string(e.Status),
		IsReversal:   e.IsReversal,
		ReversedByID: e.ReversedByID,
		SourceKind:   string(e.Source.Kind),
		SourceID:     e.Source.ID,
		PostedAt:     e.PostedAt,
	}
	for _, line := range e.Lines {
		view.Lines = append(view.Lines, lineView{
			LineNumber: line.LineNumber,
			AccountID:  line.AccountID,
			Debit:      line.Debit.StringFixed(2),
			Credit:     line.Credit.StringFixed(2),
		})
	}
	return view
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	entries, err := h.service.List(r.Context(), scope)
	if err != nil {
		h.respondError(w, "list entries", err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toEntryView(e))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := EntryInput{
		Number: req.Number,
		Date:   req.Date,
		Memo:   req.Memo,
		Source: SourceRef{Kind: SourceManual},
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, LineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	entry, err := h.service.CreateEntry(r.Context(), scope, in)
	if err != nil {
		h.respondError(w, "create entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryView(entry))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryView(entry))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.SubmitForApproval(r.Context(), scope, id, req.Note); err != nil {
		h.respondError(w, "submit entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	entry, err := h.service.ApproveEntry(r.Context(), scope, id, req.Note)
	if err != nil {
		h.respondError(w, "approve entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryView(entry))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.RejectEntry(r.Context(), scope, id, req.Note); err != nil {
		h.respondError(w, "reject entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.PostEntry(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "post entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryView(entry))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	_ = httpx.DecodeJSON(r, &req)
	entry, err := h.service.ReverseEntry(r.Context(), scope, ReverseInput{EntryID: id, Reason: req.Reason})
	if err != nil {
		h.respondError(w, "reverse entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryView(entry))
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (tenant.Scope, int64, bool) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return tenant.Scope{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return tenant.Scope{}, 0, false
	}
	return scope, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, shared.ErrEntryNotFound), errors.Is(err, shared.ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicateEntryNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrUnbalanced), errors.Is(err, shared.ErrTooFewLines):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unbalanced Entry", err.Error())
	case errors.Is(err, shared.ErrInvalidStatus),
		errors.Is(err, shared.ErrNotPosted),
		errors.Is(err, shared.ErrAlreadyReversed),
		errors.Is(err, shared.ErrReversalOfReversal),
		errors.Is(err, shared.ErrAccountInactive),
		errors.Is(err, shared.ErrAccountFrozen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, tenant.ErrMissingScope):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
