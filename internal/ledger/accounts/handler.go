package accounts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/platform/httpx"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler manages chart-of-accounts endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/balance", h.balance)
	r.Post("/{id}/deactivate", h.deactivate)
	r.Post("/{id}/rebuild", h.rebuild)
	r.Post("/{id}/verify", h.verify)
}

type accountView struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Category       string    `json:"category,omitempty"`
	Fund           string    `json:"fund"`
	ParentID       *int64    `json:"parent_id,omitempty"`
	NormalDebit    bool      `json:"normal_debit"`
	CurrentBalance string    `json:"current_balance"`
	IsActive       bool      `json:"is_active"`
	IsSystem       bool      `json:"is_system"`
	Frozen         bool      `json:"frozen"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAccountView(a Account) accountView {
	return accountView{
		ID:             a.ID,
		Code:           a.Code,
		Name:           a.Name,
		Type:           string(a.Type),
		Category:       a.Category,
		Fund:           string(a.Fund),
		ParentID:       a.ParentID,
		NormalDebit:    a.NormalDebit,
		CurrentBalance: a.CurrentBalance.StringFixed(2),
		IsActive:       a.IsActive,
		IsSystem:       a.IsSystem,
		Frozen:         a.Frozen,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type createAccountRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Name        string `json:"name" validate:"required,max=160"`
	Type        string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Category    string `json:"category" validate:"max=80"`
	Fund        string `json:"fund" validate:"required,oneof=OPERATING RESERVE SPECIAL"`
	ParentID    *int64 `json:"parent_id"`
	NormalDebit *bool  `json:"normal_debit"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	list, err := h.service.List(r.Context(), scope)
	if err != nil {
		h.respondError(w, "list accounts", err)
		return
	}
	views := make([]accountView, 0, len(list))
	for _, a := range list {
		views = append(views, toAccountView(a))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	account, err := h.service.CreateAccount(r.Context(), scope, CreateInput{
		Code:        req.Code,
		Name:        req.Name,
		Type:        AccountType(req.Type),
		Category:    req.Category,
		Fund:        FundType(req.Fund),
		ParentID:    req.ParentID,
		NormalDebit: req.NormalDebit,
	})
	if err != nil {
		h.respondError(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountView(account))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	account, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountView(account))
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance.StringFixed(2)})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeactivateAccount(r.Context(), scope, id); err != nil {
		h.respondError(w, "deactivate account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	result, err := h.service.RebuildBalance(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, "rebuild balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rebuildView(result))
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	result, err := h.service.VerifyBalance(r.Context(), scope, id)
	if err != nil && !errors.Is(err, shared.ErrBalanceDrift) {
		h.respondError(w, "verify balance", err)
		return
	}
	view := rebuildView(result)
	view["drift_detected"] = err != nil
	httpx.JSON(w, http.StatusOK, view)
}

func rebuildView(result RebuildResult) map[string]any {
	return map[string]any{
		"account_id": result.AccountID,
		"cached":     result.Cached.StringFixed(2),
		"computed":   result.Computed.StringFixed(2),
		"drift":      result.Drift.StringFixed(2),
		"repaired":   result.Repaired,
	}
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (tenant.Scope, int64, bool) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return tenant.Scope{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return tenant.Scope{}, 0, false
	}
	return scope, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, shared.ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicateAccount):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrAccountInactive),
		errors.Is(err, shared.ErrAccountHasBalance),
		errors.Is(err, shared.ErrAccountHasChildren),
		errors.Is(err, shared.ErrSystemAccount),
		errors.Is(err, shared.ErrAccountFrozen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, tenant.ErrMissingScope):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
