package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// CreateInput groups fields required to open an account.
type CreateInput struct {
	Code        string
	Name        string
	Type        AccountType
	Category    string
	Fund        FundType
	ParentID    *int64
	NormalDebit *bool
	IsSystem    bool
}

// Validate ensures create input meets minimum criteria.
func (in CreateInput) Validate() error {
	if in.Code == "" {
		return errors.New("ledger: account code required")
	}
	if in.Name == "" {
		return errors.New("ledger: account name required")
	}
	switch in.Type {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
	default:
		return fmt.Errorf("ledger: unknown account type %q", in.Type)
	}
	switch in.Fund {
	case FundOperating, FundReserve, FundSpecial:
	default:
		return fmt.Errorf("ledger: unknown fund type %q", in.Fund)
	}
	return nil
}

func (in CreateInput) normalDebit() bool {
	if in.NormalDebit != nil {
		return *in.NormalDebit
	}
	return NormalDebitFor(in.Type)
}

// RebuildResult reports a cache-vs-recomputed comparison for one account.
type RebuildResult struct {
	AccountID int64
	Cached    decimal.Decimal
	Computed  decimal.Decimal
	Drift     decimal.Decimal
	Repaired  bool
}

type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context, scope tenant.Scope) ([]Account, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope)
}

func (s *Service) Get(ctx context.Context, scope tenant.Scope, id int64) (Account, error) {
	if err := scope.Validate(); err != nil {
		return Account{}, err
	}
	return s.repo.Get(ctx, scope, id)
}

// CreateAccount opens a new account under the tenant's chart.
func (s *Service) CreateAccount(ctx context.Context, scope tenant.Scope, in CreateInput) (Account, error) {
	if err := scope.Validate(); err != nil {
		return Account{}, err
	}
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	if in.ParentID != nil {
		parent, err := s.repo.Get(ctx, scope, *in.ParentID)
		if err != nil {
			return Account{}, err
		}
		if !parent.IsActive {
			return Account{}, shared.ErrAccountInactive
		}
		if parent.Type != in.Type {
			return Account{}, fmt.Errorf("ledger: parent account type %s does not match %s", parent.Type, in.Type)
		}
	}
	account, err := s.repo.Insert(ctx, scope, in)
	if err != nil {
		return Account{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "account.create",
			Entity:         "gl_account",
			EntityID:       fmt.Sprintf("%d", account.ID),
			Meta:           map[string]any{"code": account.Code, "type": account.Type},
			At:             s.now(),
		})
	}
	return account, nil
}

// DeactivateAccount closes an account. System accounts and accounts still
// carrying value or active children are refused.
func (s *Service) DeactivateAccount(ctx context.Context, scope tenant.Scope, id int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if account.IsSystem {
			return shared.ErrSystemAccount
		}
		if !account.CurrentBalance.IsZero() {
			return shared.ErrAccountHasBalance
		}
		children, err := tx.CountActiveChildren(ctx, scope, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return shared.ErrAccountHasChildren
		}
		return tx.SetActive(ctx, scope, id, false)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "account.deactivate",
			Entity:         "gl_account",
			EntityID:       fmt.Sprintf("%d", id),
			At:             s.now(),
		})
	}
	return nil
}

// GetBalance returns the cached balance.
func (s *Service) GetBalance(ctx context.Context, scope tenant.Scope, id int64) (decimal.Decimal, error) {
	if err := scope.Validate(); err != nil {
		return decimal.Zero, err
	}
	account, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CurrentBalance, nil
}

// RebuildBalance recomputes the balance from posted lines and repairs the
// cache when it has drifted. Reconciliation tool, not part of the hot path.
func (s *Service) RebuildBalance(ctx context.Context, scope tenant.Scope, id int64) (RebuildResult, error) {
	if err := scope.Validate(); err != nil {
		return RebuildResult{}, err
	}
	var result RebuildResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		debit, credit, err := tx.SumPostedLines(ctx, scope, id)
		if err != nil {
			return err
		}
		computed := account.Delta(debit, credit)
		result = RebuildResult{
			AccountID: id,
			Cached:    account.CurrentBalance,
			Computed:  computed,
			Drift:     account.CurrentBalance.Sub(computed),
		}
		if !result.Drift.IsZero() || account.Frozen {
			result.Repaired = !result.Drift.IsZero()
			return tx.SetBalance(ctx, scope, id, computed, false)
		}
		return nil
	})
	if err != nil {
		return RebuildResult{}, err
	}
	if result.Repaired && s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "account.rebuild_balance",
			Entity:         "gl_account",
			EntityID:       fmt.Sprintf("%d", id),
			Meta:           map[string]any{"drift": result.Drift.String()},
			At:             s.now(),
		})
	}
	return result, nil
}

// VerifyBalance compares cache to recomputed sum without repairing; on
// drift it freezes the account so further postings are blocked until an
// operator runs RebuildBalance.
func (s *Service) VerifyBalance(ctx context.Context, scope tenant.Scope, id int64) (RebuildResult, error) {
	if err := scope.Validate(); err != nil {
		return RebuildResult{}, err
	}
	var result RebuildResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		debit, credit, err := tx.SumPostedLines(ctx, scope, id)
		if err != nil {
			return err
		}
		computed := account.Delta(debit, credit)
		result = RebuildResult{
			AccountID: id,
			Cached:    account.CurrentBalance,
			Computed:  computed,
			Drift:     account.CurrentBalance.Sub(computed),
		}
		if result.Drift.IsZero() {
			return nil
		}
		// Freeze must survive the transaction, so the drift error is
		// surfaced only after commit.
		return tx.SetBalance(ctx, scope, id, account.CurrentBalance, true)
	})
	if err != nil {
		return RebuildResult{}, err
	}
	if !result.Drift.IsZero() {
		return result, shared.ErrBalanceDrift
	}
	return result, nil
}
