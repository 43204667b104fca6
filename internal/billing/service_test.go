package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strataledger/strataledger/internal/ledger/journals"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

type memoryBillingRepo struct {
	nextChargeID int64
	types        map[int64]AssessmentType
	charges      map[int64]*Charge
	units        []int64
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		types:   make(map[int64]AssessmentType),
		charges: make(map[int64]*Charge),
	}
}

func (m *memoryBillingRepo) GetAssessmentType(_ context.Context, _ tenant.Scope, id int64) (AssessmentType, error) {
	t, ok := m.types[id]
	if !ok {
		return AssessmentType{}, ErrUnknownAssessmentType
	}
	return t, nil
}

func (m *memoryBillingRepo) ListActiveAssessmentTypes(_ context.Context, _ tenant.Scope) ([]AssessmentType, error) {
	var out []AssessmentType
	for _, t := range m.types {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryBillingRepo) GetCharge(_ context.Context, _ tenant.Scope, id int64) (Charge, error) {
	charge, ok := m.charges[id]
	if !ok {
		return Charge{}, ErrChargeNotFound
	}
	return *charge, nil
}

func (m *memoryBillingRepo) ListUnitCharges(_ context.Context, _ tenant.Scope, unitID int64) ([]Charge, error) {
	var out []Charge
	for _, charge := range m.charges {
		if charge.UnitID == unitID {
			out = append(out, *charge)
		}
	}
	return out, nil
}

func (m *memoryBillingRepo) ListUnits(_ context.Context, _ tenant.Scope) ([]int64, error) {
	return m.units, nil
}

func (m *memoryBillingRepo) ListLateFeeCandidates(_ context.Context, _ tenant.Scope, asOf time.Time) ([]int64, error) {
	var out []int64
	for _, charge := range m.charges {
		if charge.Outstanding() && !charge.LateFeeApplied && asOf.After(charge.DueDate) {
			out = append(out, charge.ID)
		}
	}
	return out, nil
}

func (m *memoryBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryBillingRepo) ChargeExists(_ context.Context, _ tenant.Scope, unitID, typeID int64, periodStart time.Time) (bool, error) {
	for _, charge := range m.charges {
		if charge.UnitID == unitID && charge.AssessmentTypeID == typeID && charge.PeriodStart.Equal(periodStart) && charge.Status != ChargeStatusCredited {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryBillingRepo) InsertCharge(_ context.Context, scope tenant.Scope, charge Charge) (Charge, error) {
	m.nextChargeID++
	charge.ID = m.nextChargeID
	charge.OrganizationID = scope.OrganizationID
	charge.AssociationID = scope.AssociationID
	stored := charge
	m.charges[charge.ID] = &stored
	return charge, nil
}

func (m *memoryBillingRepo) GetChargeForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Charge, error) {
	return m.GetCharge(ctx, scope, id)
}

func (m *memoryBillingRepo) UpdateChargeAmounts(_ context.Context, _ tenant.Scope, charge Charge) error {
	stored, ok := m.charges[charge.ID]
	if !ok {
		return ErrChargeNotFound
	}
	*stored = charge
	return nil
}

func (m *memoryBillingRepo) SetChargeJournalEntry(_ context.Context, _ tenant.Scope, chargeID, entryID int64) error {
	stored, ok := m.charges[chargeID]
	if !ok {
		return ErrChargeNotFound
	}
	stored.JournalEntryID = &entryID
	return nil
}

type fakeJournalPort struct {
	nextID  int64
	entries []journals.EntryInput
}

func (f *fakeJournalPort) PostSystemEntry(_ context.Context, _ tenant.Scope, in journals.EntryInput) (journals.Entry, error) {
	f.nextID++
	f.entries = append(f.entries, in)
	return journals.Entry{
		ID:     f.nextID,
		Number: fmt.Sprintf("JE-%04d", f.nextID),
		Status: journals.StatusPosted,
		Source: in.Source,
	}, nil
}

type memoryIdempotencyStore struct {
	keys map[string]bool
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{keys: make(map[string]bool)}
}

func (m *memoryIdempotencyStore) CheckAndInsert(_ context.Context, associationID int64, key, module string) error {
	k := fmt.Sprintf("%d:%s:%s", associationID, module, key)
	if m.keys[k] {
		return internalShared.ErrIdempotencyConflict
	}
	m.keys[k] = true
	return nil
}

func billingScope() tenant.Scope {
	return tenant.Scope{OrganizationID: 1, AssociationID: 10, ActorID: 7}
}

func monthlyDues(id int64) AssessmentType {
	fee := decimal.RequireFromString("25.00")
	return AssessmentType{
		ID:                  id,
		Name:                "Monthly Dues",
		Frequency:           FrequencyMonthly,
		DefaultAmount:       decimal.RequireFromString("300.00"),
		RevenueAccountID:    40,
		ReceivableAccountID: 12,
		LateFeeAmount:       &fee,
		GracePeriodDays:     10,
		DueDays:             15,
		IsActive:            true,
	}
}

func TestGenerateChargeBillsAndPosts(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return now })
	scope := billingScope()

	start, end := PeriodFor(FrequencyMonthly, now)
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)
	require.Equal(t, ChargeStatusBilled, charge.Status)
	require.True(t, charge.Amount.Equal(decimal.RequireFromString("300.00")))
	require.True(t, charge.BalanceDue.Equal(charge.Amount))
	require.Equal(t, now.AddDate(0, 0, 15), charge.DueDate)
	require.NotNil(t, charge.JournalEntryID)

	require.Len(t, journal.entries, 1)
	entry := journal.entries[0]
	require.Equal(t, journals.SourceCharge, entry.Source.Kind)
	require.Equal(t, charge.ID, entry.Source.ID)
	require.Len(t, entry.Lines, 2)
	require.EqualValues(t, 12, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(charge.Amount))
	require.EqualValues(t, 40, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(charge.Amount))
}

func TestGenerateChargeRejectsDuplicatePeriod(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	svc := NewService(repo, &fakeJournalPort{}, nil, nil)
	scope := billingScope()

	start, end := PeriodFor(FrequencyMonthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	_, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	_, err = svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.ErrorIs(t, err, ErrDuplicateCharge)
}

func TestRunBillingCycleIdempotent(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	special := monthlyDues(2)
	special.Frequency = FrequencySpecial
	repo.types[2] = special
	repo.units = []int64{101, 102}
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, newMemoryIdempotencyStore())
	scope := billingScope()
	asOf := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	result, err := svc.RunBillingCycle(context.Background(), scope, asOf)
	require.NoError(t, err)
	require.Equal(t, 2, result.Generated)
	require.Equal(t, 0, result.Skipped)
	require.False(t, result.AlreadyRan)
	// Special assessments are never generated by the cycle.
	require.Len(t, journal.entries, 2)

	again, err := svc.RunBillingCycle(context.Background(), scope, asOf)
	require.NoError(t, err)
	require.True(t, again.AlreadyRan)
	require.Equal(t, 0, again.Generated)
	require.Len(t, journal.entries, 2)
}

func TestRunBillingCycleSkipsExistingCharges(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	repo.units = []int64{101, 102}
	svc := NewService(repo, &fakeJournalPort{}, nil, nil)
	scope := billingScope()
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	start, end := PeriodFor(FrequencyMonthly, asOf)
	_, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	result, err := svc.RunBillingCycle(context.Background(), scope, asOf)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generated)
	require.Equal(t, 1, result.Skipped)
}

func TestApplyLateFeeExactlyOnce(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, nil)
	scope := billingScope()

	billedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return billedAt })
	start, end := PeriodFor(FrequencyMonthly, billedAt)
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	// Due Mar 16, grace 10 days: Mar 27 is past the window.
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC) })
	updated, err := svc.ApplyLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.True(t, updated.LateFeeApplied)
	require.True(t, updated.LateFeeAmount.Equal(decimal.RequireFromString("25.00")))
	require.True(t, updated.TotalAmount.Equal(decimal.RequireFromString("325.00")))
	require.True(t, updated.BalanceDue.Equal(decimal.RequireFromString("325.00")))
	require.Len(t, journal.entries, 2)
	require.Equal(t, journals.SourceLateFee, journal.entries[1].Source.Kind)

	// Second application is a silent no-op.
	repeat, err := svc.ApplyLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.True(t, repeat.TotalAmount.Equal(updated.TotalAmount))
	require.Len(t, journal.entries, 2)
}

func TestApplyLateFeeRespectsGracePeriod(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	svc := NewService(repo, &fakeJournalPort{}, nil, nil)
	scope := billingScope()

	billedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return billedAt })
	start, end := PeriodFor(FrequencyMonthly, billedAt)
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	// Due Mar 16 with 10 days grace: Mar 20 is still inside the window.
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC) })
	_, err = svc.ApplyLateFee(context.Background(), scope, charge.ID)
	require.ErrorIs(t, err, ErrNotYetOverdue)
}

func TestLateFeeForPicksLargerRule(t *testing.T) {
	fixed := decimal.RequireFromString("25.00")
	pct := decimal.RequireFromString("0.10")
	tmpl := AssessmentType{LateFeeAmount: &fixed, LateFeePercent: &pct}

	// 10% of 300.00 beats the fixed 25.00.
	require.True(t, tmpl.LateFeeFor(decimal.RequireFromString("300.00")).Equal(decimal.RequireFromString("30.00")))
	// 10% of 100.00 loses to the fixed 25.00.
	require.True(t, tmpl.LateFeeFor(decimal.RequireFromString("100.00")).Equal(fixed))
}

func TestScanLateFeesAppliesAllEligible(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, nil)
	scope := billingScope()

	billedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return billedAt })
	start, end := PeriodFor(FrequencyMonthly, billedAt)
	for _, unit := range []int64{101, 102, 103} {
		_, err := svc.GenerateCharge(context.Background(), scope, unit, 1, start, end)
		require.NoError(t, err)
	}

	asOf := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return asOf })
	applied, err := svc.ScanLateFees(context.Background(), scope, asOf)
	require.NoError(t, err)
	require.Equal(t, 3, applied)

	// Everything is flagged now, a second scan finds no candidates.
	applied, err = svc.ScanLateFees(context.Background(), scope, asOf)
	require.NoError(t, err)
	require.Equal(t, 0, applied)
}

func TestWriteOffChargePostsContraAndCloses(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, nil)
	scope := billingScope()

	start, end := PeriodFor(FrequencyMonthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	closed, err := svc.WriteOffCharge(context.Background(), scope, charge.ID, "unit foreclosed")
	require.NoError(t, err)
	require.Equal(t, ChargeStatusWrittenOff, closed.Status)
	require.True(t, closed.BalanceDue.IsZero())

	require.Len(t, journal.entries, 2)
	contra := journal.entries[1]
	require.EqualValues(t, 40, contra.Lines[0].AccountID)
	require.True(t, contra.Lines[0].Debit.Equal(decimal.RequireFromString("300.00")))
	require.EqualValues(t, 12, contra.Lines[1].AccountID)

	_, err = svc.WriteOffCharge(context.Background(), scope, charge.ID, "again")
	require.ErrorIs(t, err, ErrChargeNotOpen)
}

func TestVoidChargeBillingPostsNothing(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, nil)
	scope := billingScope()

	start, end := PeriodFor(FrequencyMonthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)
	require.Len(t, journal.entries, 1)

	voided, err := svc.VoidChargeBilling(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.Equal(t, ChargeStatusCredited, voided.Status)
	require.True(t, voided.BalanceDue.IsZero())
	// The ledger side is handled by the reversal, not here.
	require.Len(t, journal.entries, 1)
}

func TestRemoveLateFeeRestoresChargeAndFlag(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil, nil)
	scope := billingScope()

	billedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return billedAt })
	start, end := PeriodFor(FrequencyMonthly, billedAt)
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC) })
	_, err = svc.ApplyLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)

	restored, err := svc.RemoveLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.False(t, restored.LateFeeApplied)
	require.True(t, restored.LateFeeAmount.IsZero())
	require.True(t, restored.TotalAmount.Equal(decimal.RequireFromString("300.00")))
	require.True(t, restored.BalanceDue.Equal(decimal.RequireFromString("300.00")))

	// Removing again is a no-op.
	again, err := svc.RemoveLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.True(t, again.TotalAmount.Equal(restored.TotalAmount))
}

func TestRemoveLateFeeRefusedWhilePaymentsCoverFee(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.types[1] = monthlyDues(1)
	svc := NewService(repo, &fakeJournalPort{}, nil, nil)
	scope := billingScope()

	billedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return billedAt })
	start, end := PeriodFor(FrequencyMonthly, billedAt)
	charge, err := svc.GenerateCharge(context.Background(), scope, 101, 1, start, end)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC) })
	_, err = svc.ApplyLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)

	// A payment of 310.00 dips into the 25.00 fee; backing the fee out
	// now would leave paid > total.
	stored := repo.charges[charge.ID]
	stored.PaidAmount = decimal.RequireFromString("310.00")
	stored.BalanceDue = stored.TotalAmount.Sub(stored.PaidAmount)
	stored.Status = ChargeStatusPartiallyPaid

	_, err = svc.RemoveLateFee(context.Background(), scope, charge.ID)
	require.ErrorIs(t, err, ErrLateFeeCollected)

	// The charge is untouched.
	after, err := svc.GetCharge(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.True(t, after.LateFeeApplied)
	require.True(t, after.TotalAmount.Equal(decimal.RequireFromString("325.00")))
	require.False(t, after.BalanceDue.IsNegative())

	// Once the payment is unapplied below the fee-free total, removal
	// goes through.
	stored.PaidAmount = decimal.RequireFromString("300.00")
	stored.BalanceDue = stored.TotalAmount.Sub(stored.PaidAmount)
	removed, err := svc.RemoveLateFee(context.Background(), scope, charge.ID)
	require.NoError(t, err)
	require.False(t, removed.LateFeeApplied)
	require.True(t, removed.BalanceDue.IsZero())
	require.Equal(t, ChargeStatusPaid, removed.Status)
}
