package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/strataledger/strataledger/internal/ap"
	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/accounts"
	"github.com/strataledger/strataledger/internal/ledger/journals"
	"github.com/strataledger/strataledger/internal/observability"
	"github.com/strataledger/strataledger/internal/payments"
	"github.com/strataledger/strataledger/internal/reversal"
	"github.com/strataledger/strataledger/internal/tenant"
	"github.com/strataledger/strataledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	AccountsHandler *accounts.Handler
	JournalsHandler *journals.Handler
	BillingHandler  *billing.Handler
	PaymentsHandler *payments.Handler
	APHandler       *ap.Handler
	ReversalHandler *reversal.Handler
	JobsHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router. All business routes sit behind
// the tenant middleware; only the health check and metrics are open.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(tenant.Middleware)

		if params.AccountsHandler != nil {
			r.Route("/ledger/accounts", params.AccountsHandler.MountRoutes)
		}
		if params.JournalsHandler != nil {
			r.Route("/ledger/entries", params.JournalsHandler.MountRoutes)
		}
		if params.BillingHandler != nil {
			r.Route("/billing", params.BillingHandler.MountRoutes)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}
		if params.APHandler != nil {
			r.Route("/ap", params.APHandler.MountRoutes)
		}
		if params.ReversalHandler != nil {
			r.Route("/reversals", params.ReversalHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
