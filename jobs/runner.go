package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/accounts"
	ledgerShared "github.com/strataledger/strataledger/internal/ledger/shared"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

// lockTTL bounds how long a crashed worker can hold a tenant lock.
const lockTTL = 30 * time.Minute

// reconcileWorkers bounds the per-association fan-out of balance checks.
const reconcileWorkers = 4

// Runner executes the scheduled financial jobs.
type Runner struct {
	logger   *slog.Logger
	billing  *billing.Service
	accounts *accounts.Service
	ledger   accounts.Repository
	tenants  TenantSource
	rdb      *redis.Client
	metrics  *Metrics
}

func NewRunner(logger *slog.Logger, billingSvc *billing.Service, accountsSvc *accounts.Service, ledgerRepo accounts.Repository, tenants TenantSource, rdb *redis.Client) *Runner {
	return &Runner{
		logger:   logger,
		billing:  billingSvc,
		accounts: accountsSvc,
		ledger:   ledgerRepo,
		tenants:  tenants,
		rdb:      rdb,
	}
}

// WithMetrics attaches job instrumentation.
func (r *Runner) WithMetrics(m *Metrics) {
	r.metrics = m
}

func (r *Runner) scopes(ctx context.Context, payload TenantPayload) ([]tenant.Scope, error) {
	if payload.AssociationID != 0 {
		return []tenant.Scope{{
			OrganizationID: payload.OrganizationID,
			AssociationID:  payload.AssociationID,
			IsStaff:        true,
		}}, nil
	}
	return r.tenants.ListAssociations(ctx)
}

// HandleBillingRun generates the current period's charges for each
// association. A redis lock keeps concurrent workers off the same tenant.
func (r *Runner) HandleBillingRun(ctx context.Context, t *asynq.Task) error {
	return r.metrics.Track(TaskBillingRun).End(r.handleBillingRun(ctx, t))
}

func (r *Runner) handleBillingRun(ctx context.Context, t *asynq.Task) error {
	var payload TenantPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	scopes, err := r.scopes(ctx, payload)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		key := internalShared.BillingCycleLockKey(scope.AssociationID)
		held, err := internalShared.AcquireLock(ctx, r.rdb, key, lockTTL)
		if err != nil {
			return err
		}
		if !held {
			r.logger.Info("billing run skipped, lock held", slog.Int64("association_id", scope.AssociationID))
			continue
		}
		result, err := r.billing.RunBillingCycle(ctx, scope, payload.AsOf)
		releaseErr := internalShared.ReleaseLock(ctx, r.rdb, key)
		if err != nil {
			return err
		}
		if releaseErr != nil {
			r.logger.Warn("release billing lock", slog.Any("error", releaseErr))
		}
		r.logger.Info("billing run",
			slog.Int64("association_id", scope.AssociationID),
			slog.Int("generated", result.Generated),
			slog.Int("skipped", result.Skipped),
			slog.Bool("already_ran", result.AlreadyRan))
	}
	return nil
}

// HandleLateFeeScan applies late fees across every overdue charge.
func (r *Runner) HandleLateFeeScan(ctx context.Context, t *asynq.Task) error {
	return r.metrics.Track(TaskLateFeeScan).End(r.handleLateFeeScan(ctx, t))
}

func (r *Runner) handleLateFeeScan(ctx context.Context, t *asynq.Task) error {
	var payload TenantPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	scopes, err := r.scopes(ctx, payload)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		applied, err := r.billing.ScanLateFees(ctx, scope, payload.AsOf)
		if err != nil {
			return err
		}
		r.logger.Info("late fee scan",
			slog.Int64("association_id", scope.AssociationID),
			slog.Int("applied", applied))
	}
	return nil
}

// HandleLedgerReconcile verifies every account's balance cache against
// its posted lines. Drift freezes the account and is reported, not
// repaired; an operator runs the rebuild once the cause is understood.
func (r *Runner) HandleLedgerReconcile(ctx context.Context, t *asynq.Task) error {
	return r.metrics.Track(TaskLedgerReconcile).End(r.handleLedgerReconcile(ctx, t))
}

func (r *Runner) handleLedgerReconcile(ctx context.Context, t *asynq.Task) error {
	var payload TenantPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	scopes, err := r.scopes(ctx, payload)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		key := internalShared.ReconcileLockKey(scope.AssociationID)
		held, err := internalShared.AcquireLock(ctx, r.rdb, key, lockTTL)
		if err != nil {
			return err
		}
		if !held {
			r.logger.Info("reconcile skipped, lock held", slog.Int64("association_id", scope.AssociationID))
			continue
		}
		drifted, err := r.reconcileAssociation(ctx, scope)
		releaseErr := internalShared.ReleaseLock(ctx, r.rdb, key)
		if err != nil {
			return err
		}
		if releaseErr != nil {
			r.logger.Warn("release reconcile lock", slog.Any("error", releaseErr))
		}
		if drifted > 0 {
			r.metrics.AddDrift(scope.AssociationID, drifted)
			r.logger.Error("ledger reconcile found drift",
				slog.Int64("association_id", scope.AssociationID),
				slog.Int("drifted_accounts", drifted))
		} else {
			r.logger.Info("ledger reconcile clean", slog.Int64("association_id", scope.AssociationID))
		}
	}
	return nil
}

func (r *Runner) reconcileAssociation(ctx context.Context, scope tenant.Scope) (int, error) {
	list, err := r.ledger.List(ctx, scope)
	if err != nil {
		return 0, err
	}
	var (
		g, gctx = errgroup.WithContext(ctx)
		drift   = make(chan int64, len(list))
	)
	g.SetLimit(reconcileWorkers)
	for _, account := range list {
		id := account.ID
		g.Go(func() error {
			_, err := r.accounts.VerifyBalance(gctx, scope, id)
			if err != nil {
				if errors.Is(err, ledgerShared.ErrBalanceDrift) {
					drift <- id
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(drift)
	drifted := 0
	for id := range drift {
		drifted++
		r.logger.Warn("account balance drift",
			slog.Int64("association_id", scope.AssociationID),
			slog.Int64("account_id", id))
	}
	return drifted, nil
}
