package reversal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/platform/httpx"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler manages reversal and audit-trail endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reversal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/entries/{id}", h.reverse)
	r.Get("/trail/{entity}/{entityID}", h.trail)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	var req reverseRequest
	_ = httpx.DecodeJSON(r, &req)
	result, err := h.service.ReverseBusinessEntry(r.Context(), scope, id, req.Reason)
	if err != nil {
		h.respondError(w, "reverse business entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"reversal_entry_id":     result.Reversal.ID,
		"reversal_entry_number": result.Reversal.Number,
		"source_kind":           result.SourceKind,
		"source_id":             result.SourceID,
		"applications_reopened": result.ApplicationsReopen,
	})
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
		return
	}
	entity := chi.URLParam(r, "entity")
	entityID := chi.URLParam(r, "entityID")
	logs, err := h.service.Trail(r.Context(), scope, entity, entityID)
	if err != nil {
		h.respondError(w, "audit trail", err)
		return
	}
	views := make([]map[string]any, 0, len(logs))
	for _, log := range logs {
		views = append(views, map[string]any{
			"actor_id":    log.ActorID,
			"action":      log.Action,
			"entity":      log.Entity,
			"entity_id":   log.EntityID,
			"meta":        log.Meta,
			"occurred_at": log.At,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, shared.ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrAlreadyReversed),
		errors.Is(err, shared.ErrNotPosted),
		errors.Is(err, shared.ErrReversalOfReversal):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, tenant.ErrMissingScope):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
