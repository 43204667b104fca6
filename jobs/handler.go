package jobs

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/strataledger/strataledger/internal/platform/httpx"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Handler exposes queue health plus on-demand triggers for the
// scheduled jobs. Triggers enqueue for the caller's association only
// and are limited to staff users.
type Handler struct {
	client    *Client
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(client *Client, inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	return &Handler{client: client, inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/billing-run", h.trigger("enqueue billing run", h.client.EnqueueBillingRun))
	r.Post("/late-fee-scan", h.trigger("enqueue late fee scan", h.client.EnqueueLateFeeScan))
	r.Post("/reconcile", h.trigger("enqueue ledger reconcile", h.client.EnqueueLedgerReconcile))
}

type enqueueFunc func(context.Context, TenantPayload) (*asynq.TaskInfo, error)

func (h *Handler) trigger(action string, enqueue enqueueFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := tenant.ScopeFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant scope required")
			return
		}
		if !scope.IsStaff {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "staff role required")
			return
		}
		payload := TenantPayload{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
		}
		if raw := r.URL.Query().Get("as_of"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "as_of must be YYYY-MM-DD")
				return
			}
			payload.AsOf = parsed
		}
		info, err := enqueue(r.Context(), payload)
		if err != nil {
			h.logger.Error(action, slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{
			"task_id": info.ID,
			"type":    info.Type,
			"queue":   info.Queue,
		})
	}
}

type queueHealthView struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	queues, err := h.inspector.Queues()
	if err != nil {
		h.logger.Warn("queue health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	if !slices.Contains(queues, QueueDefault) {
		// No task has touched the queue yet.
		httpx.JSON(w, http.StatusOK, queueHealthView{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("queue health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, queueHealthView{
		Queue:   info.Queue,
		Pending: info.Pending,
		Active:  info.Active,
		Retry:   info.Retry,
	})
}
