package accounts

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

type memoryAccountsRepo struct {
	nextID   int64
	accounts map[int64]*Account
	debits   map[int64]decimal.Decimal
	credits  map[int64]decimal.Decimal
}

func newMemoryAccountsRepo() *memoryAccountsRepo {
	return &memoryAccountsRepo{
		accounts: make(map[int64]*Account),
		debits:   make(map[int64]decimal.Decimal),
		credits:  make(map[int64]decimal.Decimal),
	}
}

func (m *memoryAccountsRepo) List(_ context.Context, _ tenant.Scope) ([]Account, error) {
	out := make([]Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		out = append(out, *account)
	}
	return out, nil
}

func (m *memoryAccountsRepo) Get(_ context.Context, _ tenant.Scope, id int64) (Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrAccountNotFound
	}
	return *account, nil
}

func (m *memoryAccountsRepo) Insert(_ context.Context, scope tenant.Scope, in CreateInput) (Account, error) {
	for _, existing := range m.accounts {
		if existing.Code == in.Code {
			return Account{}, shared.ErrDuplicateAccount
		}
	}
	m.nextID++
	account := &Account{
		ID:             m.nextID,
		OrganizationID: scope.OrganizationID,
		AssociationID:  scope.AssociationID,
		Code:           in.Code,
		Name:           in.Name,
		Type:           in.Type,
		Category:       in.Category,
		Fund:           in.Fund,
		ParentID:       in.ParentID,
		NormalDebit:    in.normalDebit(),
		IsActive:       true,
		IsSystem:       in.IsSystem,
	}
	m.accounts[account.ID] = account
	return *account, nil
}

func (m *memoryAccountsRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryAccountsRepo) GetForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Account, error) {
	return m.Get(ctx, scope, id)
}

func (m *memoryAccountsRepo) CountActiveChildren(_ context.Context, _ tenant.Scope, id int64) (int, error) {
	count := 0
	for _, account := range m.accounts {
		if account.ParentID != nil && *account.ParentID == id && account.IsActive {
			count++
		}
	}
	return count, nil
}

func (m *memoryAccountsRepo) SetActive(_ context.Context, _ tenant.Scope, id int64, active bool) error {
	account, ok := m.accounts[id]
	if !ok {
		return shared.ErrAccountNotFound
	}
	account.IsActive = active
	return nil
}

func (m *memoryAccountsRepo) SumPostedLines(_ context.Context, _ tenant.Scope, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	return m.debits[accountID], m.credits[accountID], nil
}

func (m *memoryAccountsRepo) SetBalance(_ context.Context, _ tenant.Scope, id int64, balance decimal.Decimal, frozen bool) error {
	account, ok := m.accounts[id]
	if !ok {
		return shared.ErrAccountNotFound
	}
	account.CurrentBalance = balance
	account.Frozen = frozen
	return nil
}

func accountsScope() tenant.Scope {
	return tenant.Scope{OrganizationID: 1, AssociationID: 10, ActorID: 7}
}

func TestCreateAccountDefaultsNormalSide(t *testing.T) {
	repo := newMemoryAccountsRepo()
	svc := NewService(repo, nil)
	scope := accountsScope()

	cash, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Operating Cash", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.NoError(t, err)
	require.True(t, cash.NormalDebit)
	require.True(t, cash.IsActive)

	dues, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "4000", Name: "Assessment Income", Type: AccountTypeRevenue, Fund: FundOperating,
	})
	require.NoError(t, err)
	require.False(t, dues.NormalDebit)
}

func TestCreateAccountValidation(t *testing.T) {
	svc := NewService(newMemoryAccountsRepo(), nil)
	scope := accountsScope()

	_, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Name: "No Code", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.Error(t, err)

	_, err = svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Bad Type", Type: "GOODWILL", Fund: FundOperating,
	})
	require.Error(t, err)

	_, err = svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Bad Fund", Type: AccountTypeAsset, Fund: "SLUSH",
	})
	require.Error(t, err)
}

func TestCreateAccountParentTypeMustMatch(t *testing.T) {
	repo := newMemoryAccountsRepo()
	svc := NewService(repo, nil)
	scope := accountsScope()

	parent, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Assets", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.NoError(t, err)

	_, err = svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "4100", Name: "Late Fee Income", Type: AccountTypeRevenue, Fund: FundOperating,
		ParentID: &parent.ID,
	})
	require.Error(t, err)

	child, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1010", Name: "Reserve Cash", Type: AccountTypeAsset, Fund: FundReserve,
		ParentID: &parent.ID,
	})
	require.NoError(t, err)
	require.Equal(t, parent.ID, *child.ParentID)
}

func TestDeactivateAccountGuards(t *testing.T) {
	repo := newMemoryAccountsRepo()
	svc := NewService(repo, nil)
	scope := accountsScope()

	parent, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Assets", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.NoError(t, err)
	child, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1010", Name: "Petty Cash", Type: AccountTypeAsset, Fund: FundOperating,
		ParentID: &parent.ID,
	})
	require.NoError(t, err)
	system, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "2000", Name: "Accounts Payable", Type: AccountTypeLiability, Fund: FundOperating,
		IsSystem: true,
	})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeactivateAccount(context.Background(), scope, system.ID), shared.ErrSystemAccount)
	require.ErrorIs(t, svc.DeactivateAccount(context.Background(), scope, parent.ID), shared.ErrAccountHasChildren)

	repo.accounts[child.ID].CurrentBalance = decimal.RequireFromString("12.50")
	require.ErrorIs(t, svc.DeactivateAccount(context.Background(), scope, child.ID), shared.ErrAccountHasBalance)

	repo.accounts[child.ID].CurrentBalance = decimal.Zero
	require.NoError(t, svc.DeactivateAccount(context.Background(), scope, child.ID))
	require.False(t, repo.accounts[child.ID].IsActive)

	// With the child closed the parent may be deactivated too.
	require.NoError(t, svc.DeactivateAccount(context.Background(), scope, parent.ID))
}

func TestVerifyBalanceFreezesOnDrift(t *testing.T) {
	repo := newMemoryAccountsRepo()
	svc := NewService(repo, nil)
	scope := accountsScope()

	account, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Operating Cash", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.NoError(t, err)

	repo.accounts[account.ID].CurrentBalance = decimal.RequireFromString("100.00")
	repo.debits[account.ID] = decimal.RequireFromString("90.00")

	result, err := svc.VerifyBalance(context.Background(), scope, account.ID)
	require.ErrorIs(t, err, shared.ErrBalanceDrift)
	require.True(t, result.Drift.Equal(decimal.RequireFromString("10.00")))
	require.True(t, repo.accounts[account.ID].Frozen)
	// Verify reports, it never repairs the cache.
	require.True(t, repo.accounts[account.ID].CurrentBalance.Equal(decimal.RequireFromString("100.00")))
}

func TestVerifyBalanceCleanLeavesAccountAlone(t *testing.T) {
	repo := newMemoryAccountsRepo()
	svc := NewService(repo, nil)
	scope := accountsScope()

	account, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Operating Cash", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.NoError(t, err)

	repo.accounts[account.ID].CurrentBalance = decimal.RequireFromString("90.00")
	repo.debits[account.ID] = decimal.RequireFromString("90.00")

	result, err := svc.VerifyBalance(context.Background(), scope, account.ID)
	require.NoError(t, err)
	require.True(t, result.Drift.IsZero())
	require.False(t, repo.accounts[account.ID].Frozen)
}

func TestRebuildBalanceRepairsDriftAndUnfreezes(t *testing.T) {
	repo := newMemoryAccountsRepo()
	svc := NewService(repo, nil)
	scope := accountsScope()

	account, err := svc.CreateAccount(context.Background(), scope, CreateInput{
		Code: "1000", Name: "Operating Cash", Type: AccountTypeAsset, Fund: FundOperating,
	})
	require.NoError(t, err)

	repo.accounts[account.ID].CurrentBalance = decimal.RequireFromString("100.00")
	repo.accounts[account.ID].Frozen = true
	repo.debits[account.ID] = decimal.RequireFromString("90.00")

	result, err := svc.RebuildBalance(context.Background(), scope, account.ID)
	require.NoError(t, err)
	require.True(t, result.Repaired)
	require.True(t, result.Computed.Equal(decimal.RequireFromString("90.00")))
	require.True(t, repo.accounts[account.ID].CurrentBalance.Equal(decimal.RequireFromString("90.00")))
	require.False(t, repo.accounts[account.ID].Frozen)
}
