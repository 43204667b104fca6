package journals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strataledger/strataledger/internal/ledger/accounts"
	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

type memoryJournalRepo struct {
	nextEntryID int64
	nextLineID  int64
	seq         int
	entries     map[int64]*Entry
	accounts    map[int64]*accounts.Account
}

func newMemoryJournalRepo() *memoryJournalRepo {
	return &memoryJournalRepo{
		entries:  make(map[int64]*Entry),
		accounts: make(map[int64]*accounts.Account),
	}
}

func (m *memoryJournalRepo) addAccount(id int64, typ accounts.AccountType) *accounts.Account {
	account := &accounts.Account{
		ID:          id,
		Type:        typ,
		NormalDebit: accounts.NormalDebitFor(typ),
		IsActive:    true,
	}
	m.accounts[id] = account
	return account
}

func (m *memoryJournalRepo) List(_ context.Context, _ tenant.Scope) ([]Entry, error) {
	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	return out, nil
}

func (m *memoryJournalRepo) GetEntry(_ context.Context, _ tenant.Scope, entryID int64) (Entry, error) {
	entry, ok := m.entries[entryID]
	if !ok {
		return Entry{}, shared.ErrEntryNotFound
	}
	return *entry, nil
}

func (m *memoryJournalRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryJournalRepo) NextEntryNumber(_ context.Context, _ tenant.Scope) (string, error) {
	m.seq++
	return fmt.Sprintf("JE-%04d", m.seq), nil
}

func (m *memoryJournalRepo) InsertEntry(_ context.Context, scope tenant.Scope, in EntryInput, status Status, isReversal bool, createdBy int64) (Entry, error) {
	for _, existing := range m.entries {
		if existing.Number == in.Number {
			return Entry{}, shared.ErrDuplicateEntryNumber
		}
	}
	m.nextEntryID++
	entry := &Entry{
		ID:             m.nextEntryID,
		OrganizationID: scope.OrganizationID,
		AssociationID:  scope.AssociationID,
		Number:         in.Number,
		Date:           in.Date,
		Memo:           in.Memo,
		Status:         status,
		IsReversal:     isReversal,
		Source:         in.Source,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now(),
	}
	m.entries[entry.ID] = entry
	return *entry, nil
}

func (m *memoryJournalRepo) InsertLines(_ context.Context, entryID int64, lines []LineInput) ([]Line, error) {
	entry, ok := m.entries[entryID]
	if !ok {
		return nil, shared.ErrEntryNotFound
	}
	out := make([]Line, 0, len(lines))
	for idx, in := range lines {
		m.nextLineID++
		line := Line{
			ID:         m.nextLineID,
			EntryID:    entryID,
			LineNumber: idx + 1,
			AccountID:  in.AccountID,
			Debit:      in.Debit,
			Credit:     in.Credit,
			Reference:  in.Reference,
		}
		entry.Lines = append(entry.Lines, line)
		out = append(out, line)
	}
	return out, nil
}

func (m *memoryJournalRepo) GetEntryForUpdate(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error) {
	return m.GetEntry(ctx, scope, entryID)
}

func (m *memoryJournalRepo) UpdateEntryStatus(_ context.Context, _ tenant.Scope, entryID int64, status Status) error {
	entry, ok := m.entries[entryID]
	if !ok {
		return shared.ErrEntryNotFound
	}
	entry.Status = status
	return nil
}

func (m *memoryJournalRepo) MarkPosted(_ context.Context, _ tenant.Scope, entryID int64, at time.Time) error {
	entry, ok := m.entries[entryID]
	if !ok {
		return shared.ErrEntryNotFound
	}
	entry.Status = StatusPosted
	entry.PostedAt = &at
	return nil
}

func (m *memoryJournalRepo) LinkReversal(_ context.Context, _ tenant.Scope, originalID, reversalID int64) error {
	original, ok := m.entries[originalID]
	if !ok {
		return shared.ErrEntryNotFound
	}
	if original.ReversedByID != nil {
		return shared.ErrAlreadyReversed
	}
	original.Status = StatusReversed
	original.ReversedByID = &reversalID
	return nil
}

func (m *memoryJournalRepo) GetAccountForUpdate(_ context.Context, _ tenant.Scope, accountID int64) (accounts.Account, error) {
	account, ok := m.accounts[accountID]
	if !ok {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return *account, nil
}

func (m *memoryJournalRepo) ApplyAccountDelta(_ context.Context, _ tenant.Scope, accountID int64, delta decimal.Decimal) error {
	account, ok := m.accounts[accountID]
	if !ok {
		return shared.ErrAccountNotFound
	}
	account.CurrentBalance = account.CurrentBalance.Add(delta)
	return nil
}

func testScope() tenant.Scope {
	return tenant.Scope{OrganizationID: 1, AssociationID: 10, ActorID: 7}
}

func balancedInput(cash, revenue int64, amount string) EntryInput {
	amt := decimal.RequireFromString(amount)
	return EntryInput{
		Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Memo: "monthly dues",
		Lines: []LineInput{
			{AccountID: cash, Debit: amt},
			{AccountID: revenue, Credit: amt},
		},
	}
}

func TestCreateEntryAssignsNumberAndStaysDraft(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)

	entry, err := svc.CreateEntry(context.Background(), testScope(), balancedInput(1, 2, "250.00"))
	require.NoError(t, err)
	require.Equal(t, "JE-0001", entry.Number)
	require.Equal(t, StatusDraft, entry.Status)
	require.Equal(t, SourceManual, entry.Source.Kind)
	require.Len(t, entry.Lines, 2)

	// Draft creation must not move any balance.
	require.True(t, repo.accounts[1].CurrentBalance.IsZero())
	require.True(t, repo.accounts[2].CurrentBalance.IsZero())
}

func TestCreateEntryRejectsBadLineShape(t *testing.T) {
	repo := newMemoryJournalRepo()
	svc := NewService(repo, nil, nil)
	scope := testScope()

	_, err := svc.CreateEntry(context.Background(), scope, EntryInput{
		Date:  time.Now(),
		Lines: []LineInput{{AccountID: 1, Debit: decimal.NewFromInt(10)}},
	})
	require.ErrorIs(t, err, shared.ErrTooFewLines)

	_, err = svc.CreateEntry(context.Background(), scope, EntryInput{
		Date: time.Now(),
		Lines: []LineInput{
			{AccountID: 1, Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(10)},
			{AccountID: 2, Credit: decimal.NewFromInt(10)},
		},
	})
	require.Error(t, err)

	_, err = svc.CreateEntry(context.Background(), scope, EntryInput{
		Date: time.Now(),
		Lines: []LineInput{
			{AccountID: 1, Debit: decimal.NewFromInt(-5)},
			{AccountID: 2, Credit: decimal.NewFromInt(-5)},
		},
	})
	require.Error(t, err)
}

func TestCreateEntryRequiresScope(t *testing.T) {
	svc := NewService(newMemoryJournalRepo(), nil, nil)
	_, err := svc.CreateEntry(context.Background(), tenant.Scope{}, balancedInput(1, 2, "10.00"))
	require.ErrorIs(t, err, tenant.ErrMissingScope)
}

func TestPostEntryMovesBalancesOnce(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.CreateEntry(context.Background(), scope, balancedInput(1, 2, "250.00"))
	require.NoError(t, err)

	posted, err := svc.PostEntry(context.Background(), scope, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)
	require.True(t, repo.accounts[1].CurrentBalance.Equal(decimal.RequireFromString("250.00")))
	require.True(t, repo.accounts[2].CurrentBalance.Equal(decimal.RequireFromString("250.00")))

	// Re-posting a POSTED entry is a no-op success.
	again, err := svc.PostEntry(context.Background(), scope, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, again.Status)
	require.True(t, repo.accounts[1].CurrentBalance.Equal(decimal.RequireFromString("250.00")))
}

func TestPostEntryRejectsUnbalanced(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.CreateEntry(context.Background(), scope, EntryInput{
		Date: time.Now(),
		Lines: []LineInput{
			{AccountID: 1, Debit: decimal.NewFromInt(100)},
			{AccountID: 2, Credit: decimal.NewFromInt(90)},
		},
	})
	require.NoError(t, err)

	_, err = svc.PostEntry(context.Background(), scope, entry.ID)
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	require.Equal(t, StatusDraft, repo.entries[entry.ID].Status)
}

func TestPostEntryBlockedByFrozenAccount(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset).Frozen = true
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.CreateEntry(context.Background(), scope, balancedInput(1, 2, "40.00"))
	require.NoError(t, err)

	_, err = svc.PostEntry(context.Background(), scope, entry.ID)
	require.ErrorIs(t, err, shared.ErrAccountFrozen)
}

func TestPostEntryBlockedByInactiveAccount(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue).IsActive = false
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.CreateEntry(context.Background(), scope, balancedInput(1, 2, "40.00"))
	require.NoError(t, err)

	_, err = svc.PostEntry(context.Background(), scope, entry.ID)
	require.ErrorIs(t, err, shared.ErrAccountInactive)
}

func TestApprovalLifecycle(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.CreateEntry(context.Background(), scope, balancedInput(1, 2, "75.00"))
	require.NoError(t, err)

	require.NoError(t, svc.SubmitForApproval(context.Background(), scope, entry.ID, "board review"))
	require.Equal(t, StatusPendingApproval, repo.entries[entry.ID].Status)

	// A pending entry cannot be posted directly.
	_, err = svc.PostEntry(context.Background(), scope, entry.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	require.NoError(t, svc.RejectEntry(context.Background(), scope, entry.ID, "wrong period"))
	require.Equal(t, StatusDraft, repo.entries[entry.ID].Status)

	require.NoError(t, svc.SubmitForApproval(context.Background(), scope, entry.ID, ""))
	posted, err := svc.ApproveEntry(context.Background(), scope, entry.ID, "ok")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.True(t, repo.accounts[1].CurrentBalance.Equal(decimal.RequireFromString("75.00")))

	// Approving twice fails, the entry already left PENDING_APPROVAL.
	_, err = svc.ApproveEntry(context.Background(), scope, entry.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestPostSystemEntryPostsInOneCall(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)

	entry, err := svc.PostSystemEntry(context.Background(), testScope(), EntryInput{
		Memo:   "assessment billing",
		Source: SourceRef{Kind: SourceCharge, ID: 42},
		Lines: []LineInput{
			{AccountID: 1, Debit: decimal.RequireFromString("300.00")},
			{AccountID: 2, Credit: decimal.RequireFromString("300.00")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, entry.Status)
	require.Equal(t, SourceCharge, entry.Source.Kind)
	require.EqualValues(t, 42, entry.Source.ID)
	require.NotEmpty(t, entry.Number)
	require.True(t, repo.accounts[1].CurrentBalance.Equal(decimal.RequireFromString("300.00")))
}

func TestReverseEntryMirrorsAndLinks(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.PostSystemEntry(context.Background(), scope, EntryInput{
		Source: SourceRef{Kind: SourceManual},
		Lines: []LineInput{
			{AccountID: 1, Debit: decimal.RequireFromString("120.00")},
			{AccountID: 2, Credit: decimal.RequireFromString("120.00")},
		},
	})
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(context.Background(), scope, ReverseInput{EntryID: entry.ID, Reason: "posted twice"})
	require.NoError(t, err)
	require.True(t, reversal.IsReversal)
	require.Equal(t, StatusPosted, reversal.Status)
	require.Equal(t, entry.Source, reversal.Source)

	// Lines are exact mirrors, so both balances return to zero.
	require.True(t, repo.accounts[1].CurrentBalance.IsZero())
	require.True(t, repo.accounts[2].CurrentBalance.IsZero())

	original := repo.entries[entry.ID]
	require.Equal(t, StatusReversed, original.Status)
	require.NotNil(t, original.ReversedByID)
	require.Equal(t, reversal.ID, *original.ReversedByID)

	_, err = svc.ReverseEntry(context.Background(), scope, ReverseInput{EntryID: entry.ID})
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)

	_, err = svc.ReverseEntry(context.Background(), scope, ReverseInput{EntryID: reversal.ID})
	require.ErrorIs(t, err, shared.ErrReversalOfReversal)
}

func TestReverseEntryRequiresPosted(t *testing.T) {
	repo := newMemoryJournalRepo()
	repo.addAccount(1, accounts.AccountTypeAsset)
	repo.addAccount(2, accounts.AccountTypeRevenue)
	svc := NewService(repo, nil, nil)
	scope := testScope()

	entry, err := svc.CreateEntry(context.Background(), scope, balancedInput(1, 2, "10.00"))
	require.NoError(t, err)

	_, err = svc.ReverseEntry(context.Background(), scope, ReverseInput{EntryID: entry.ID})
	require.ErrorIs(t, err, shared.ErrNotPosted)
}
