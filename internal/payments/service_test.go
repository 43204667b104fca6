package payments

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/journals"
	"github.com/strataledger/strataledger/internal/tenant"
)

type memoryPaymentsRepo struct {
	nextPaymentID int64
	nextAppID     int64
	payments      map[int64]*Payment
	applications  map[int64]*Application
	charges       map[int64]*billing.Charge
	receivable    map[int64]int64 // charge id -> receivable account
}

func newMemoryPaymentsRepo() *memoryPaymentsRepo {
	return &memoryPaymentsRepo{
		payments:     make(map[int64]*Payment),
		applications: make(map[int64]*Application),
		charges:      make(map[int64]*billing.Charge),
		receivable:   make(map[int64]int64),
	}
}

func (m *memoryPaymentsRepo) addCharge(id, unitID int64, amount string, dueDate time.Time) *billing.Charge {
	amt := decimal.RequireFromString(amount)
	charge := &billing.Charge{
		ID:          id,
		UnitID:      unitID,
		ChargeDate:  dueDate.AddDate(0, 0, -15),
		DueDate:     dueDate,
		Amount:      amt,
		TotalAmount: amt,
		PaidAmount:  decimal.Zero,
		BalanceDue:  amt,
		Status:      billing.ChargeStatusBilled,
	}
	m.charges[id] = charge
	m.receivable[id] = 12
	return charge
}

func (m *memoryPaymentsRepo) GetPayment(_ context.Context, _ tenant.Scope, id int64) (Payment, error) {
	payment, ok := m.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return *payment, nil
}

func (m *memoryPaymentsRepo) ListPayments(_ context.Context, _ tenant.Scope) ([]Payment, error) {
	out := make([]Payment, 0, len(m.payments))
	for _, payment := range m.payments {
		out = append(out, *payment)
	}
	return out, nil
}

func (m *memoryPaymentsRepo) ListApplications(_ context.Context, _ tenant.Scope, paymentID int64) ([]Application, error) {
	var out []Application
	for _, app := range m.applications {
		if app.PaymentID == paymentID {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryPaymentsRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryPaymentsRepo) InsertPayment(_ context.Context, scope tenant.Scope, payment Payment) (Payment, error) {
	m.nextPaymentID++
	payment.ID = m.nextPaymentID
	payment.OrganizationID = scope.OrganizationID
	payment.AssociationID = scope.AssociationID
	stored := payment
	m.payments[payment.ID] = &stored
	return payment, nil
}

func (m *memoryPaymentsRepo) GetPaymentForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Payment, error) {
	return m.GetPayment(ctx, scope, id)
}

func (m *memoryPaymentsRepo) UpdatePaymentAmounts(_ context.Context, _ tenant.Scope, payment Payment) error {
	stored, ok := m.payments[payment.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	*stored = payment
	return nil
}

func (m *memoryPaymentsRepo) UpdatePaymentStatus(_ context.Context, _ tenant.Scope, id int64, status PaymentStatus) error {
	stored, ok := m.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	stored.Status = status
	return nil
}

func (m *memoryPaymentsRepo) SetPaymentJournalEntry(_ context.Context, _ tenant.Scope, paymentID, entryID int64) error {
	stored, ok := m.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	stored.JournalEntryID = &entryID
	return nil
}

func (m *memoryPaymentsRepo) InsertApplication(_ context.Context, _ tenant.Scope, app Application) (Application, error) {
	m.nextAppID++
	app.ID = m.nextAppID
	stored := app
	m.applications[app.ID] = &stored
	return app, nil
}

func (m *memoryPaymentsRepo) GetApplicationForUpdate(_ context.Context, _ tenant.Scope, id int64) (Application, error) {
	app, ok := m.applications[id]
	if !ok {
		return Application{}, ErrApplicationNotFound
	}
	return *app, nil
}

func (m *memoryPaymentsRepo) MarkApplicationReversed(_ context.Context, _ tenant.Scope, id int64, at time.Time) error {
	stored, ok := m.applications[id]
	if !ok {
		return ErrApplicationNotFound
	}
	if stored.ReversedAt != nil {
		return ErrApplicationReversed
	}
	stored.ReversedAt = &at
	return nil
}

func (m *memoryPaymentsRepo) SetApplicationsJournalEntry(_ context.Context, _ tenant.Scope, ids []int64, entryID int64) error {
	for _, id := range ids {
		stored, ok := m.applications[id]
		if !ok {
			return ErrApplicationNotFound
		}
		stored.JournalEntryID = &entryID
	}
	return nil
}

func (m *memoryPaymentsRepo) ListApplicationsByEntry(_ context.Context, _ tenant.Scope, entryID int64) ([]Application, error) {
	var out []Application
	for _, app := range m.applications {
		if app.JournalEntryID != nil && *app.JournalEntryID == entryID {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryPaymentsRepo) ListOutstandingCharges(_ context.Context, _ tenant.Scope, unitID int64) ([]AllocTarget, error) {
	var out []AllocTarget
	for _, charge := range m.charges {
		if charge.UnitID == unitID && charge.Outstanding() {
			out = append(out, AllocTarget{Charge: *charge, ReceivableAccountID: m.receivable[charge.ID]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		if !out[i].ChargeDate.Equal(out[j].ChargeDate) {
			return out[i].ChargeDate.Before(out[j].ChargeDate)
		}
		return out[i].Charge.ID < out[j].Charge.ID
	})
	return out, nil
}

func (m *memoryPaymentsRepo) GetChargeForUpdate(_ context.Context, _ tenant.Scope, chargeID int64) (AllocTarget, error) {
	charge, ok := m.charges[chargeID]
	if !ok {
		return AllocTarget{}, billing.ErrChargeNotFound
	}
	return AllocTarget{Charge: *charge, ReceivableAccountID: m.receivable[chargeID]}, nil
}

func (m *memoryPaymentsRepo) UpdateChargePayment(_ context.Context, _ tenant.Scope, charge billing.Charge) error {
	stored, ok := m.charges[charge.ID]
	if !ok {
		return billing.ErrChargeNotFound
	}
	*stored = charge
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

func paymentsScope() tenant.Scope {
	return tenant.Scope{OrganizationID: 1, AssociationID: 10, ActorID: 7}
}

func recordTestPayment(t *testing.T, svc *Service, amount string) Payment {
	t.Helper()
	payment, err := svc.RecordPayment(context.Background(), paymentsScope(), RecordInput{
		UnitID:           101,
		Amount:           decimal.RequireFromString(amount),
		Method:           "ACH",
		DepositAccountID: 11,
	})
	require.NoError(t, err)
	return payment
}

func TestRecordPaymentStartsUnapplied(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	svc := NewService(repo, &fakeJournalPort{}, nil)

	payment := recordTestPayment(t, svc, "500.00")
	require.Equal(t, PaymentStatusPending, payment.Status)
	require.True(t, payment.AppliedAmount.IsZero())
	require.True(t, payment.UnappliedAmount.Equal(payment.Amount))
	require.NotEmpty(t, payment.Reference)
}

func TestRecordPaymentRejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(newMemoryPaymentsRepo(), &fakeJournalPort{}, nil)
	_, err := svc.RecordPayment(context.Background(), paymentsScope(), RecordInput{
		UnitID:           101,
		Amount:           decimal.Zero,
		Method:           "ACH",
		DepositAccountID: 11,
	})
	require.Error(t, err)
}

func TestApplyPaymentAllocatesOldestFirst(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	jan := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	repo.addCharge(3, 101, "300.00", mar)
	repo.addCharge(1, 101, "300.00", jan)
	repo.addCharge(2, 101, "300.00", feb)
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "700.00")
	result, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)
	require.Len(t, result.Applications, 3)
	require.True(t, result.AppliedTotal.Equal(decimal.RequireFromString("700.00")))
	require.True(t, result.UnappliedAmount.IsZero())

	// January and February are paid in full, March takes the remainder.
	require.EqualValues(t, 1, result.Applications[0].ChargeID)
	require.True(t, result.Applications[0].Amount.Equal(decimal.RequireFromString("300.00")))
	require.EqualValues(t, 2, result.Applications[1].ChargeID)
	require.EqualValues(t, 3, result.Applications[2].ChargeID)
	require.True(t, result.Applications[2].Amount.Equal(decimal.RequireFromString("100.00")))

	require.Equal(t, billing.ChargeStatusPaid, repo.charges[1].Status)
	require.Equal(t, billing.ChargeStatusPaid, repo.charges[2].Status)
	require.Equal(t, billing.ChargeStatusPartiallyPaid, repo.charges[3].Status)
	require.True(t, repo.charges[3].BalanceDue.Equal(decimal.RequireFromString("200.00")))

	// One balanced entry: deposit debit against receivable credits.
	require.Len(t, journal.entries, 1)
	entry := journal.entries[0]
	require.Equal(t, journals.SourcePayment, entry.Source.Kind)
	require.Len(t, entry.Lines, 4)
	require.EqualValues(t, 11, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(decimal.RequireFromString("700.00")))
	credit := decimal.Zero
	for _, line := range entry.Lines[1:] {
		require.EqualValues(t, 12, line.AccountID)
		credit = credit.Add(line.Credit)
	}
	require.True(t, credit.Equal(decimal.RequireFromString("700.00")))

	require.NotNil(t, result.JournalEntryID)
	require.NotNil(t, repo.payments[payment.ID].JournalEntryID)
	for _, app := range result.Applications {
		require.NotNil(t, app.JournalEntryID)
	}
}

func TestApplyPaymentHonorsExplicitChargeOrder(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	jan := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	repo.addCharge(1, 101, "300.00", jan)
	repo.addCharge(2, 101, "300.00", feb)
	svc := NewService(repo, &fakeJournalPort{}, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "300.00")
	result, err := svc.ApplyPayment(context.Background(), scope, payment.ID, []int64{2})
	require.NoError(t, err)
	require.Len(t, result.Applications, 1)
	require.EqualValues(t, 2, result.Applications[0].ChargeID)
	require.Equal(t, billing.ChargeStatusBilled, repo.charges[1].Status)
	require.Equal(t, billing.ChargeStatusPaid, repo.charges[2].Status)
}

func TestApplyPaymentExplicitClosedChargeFails(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	charge := repo.addCharge(1, 101, "300.00", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	charge.Status = billing.ChargeStatusWrittenOff
	svc := NewService(repo, &fakeJournalPort{}, nil)

	payment := recordTestPayment(t, svc, "300.00")
	_, err := svc.ApplyPayment(context.Background(), paymentsScope(), payment.ID, []int64{1})
	require.ErrorIs(t, err, billing.ErrChargeNotOpen)
}

func TestApplyPaymentFullyAppliedIsNoop(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	repo.addCharge(1, 101, "300.00", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	journal := &fakeJournalPort{}
	svc := NewService(repo, journal, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "300.00")
	first, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)
	require.Len(t, journal.entries, 1)

	second, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)
	require.Len(t, second.Applications, len(first.Applications))
	require.True(t, second.AppliedTotal.Equal(decimal.RequireFromString("300.00")))
	require.True(t, second.UnappliedAmount.IsZero())
	// No new postings on the retry.
	require.Len(t, journal.entries, 1)
}

func TestApplyPaymentNoEligibleCharges(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	svc := NewService(repo, &fakeJournalPort{}, nil)

	payment := recordTestPayment(t, svc, "300.00")
	_, err := svc.ApplyPayment(context.Background(), paymentsScope(), payment.ID, nil)
	require.ErrorIs(t, err, ErrNoEligibleCharges)
}

func TestApplyPaymentVoidedPaymentRefused(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	repo.addCharge(1, 101, "300.00", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, &fakeJournalPort{}, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "300.00")
	require.NoError(t, svc.VoidPayment(context.Background(), scope, payment.ID))

	_, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.ErrorIs(t, err, ErrPaymentNotApplicable)
}

func TestUnapplyPaymentReopensCharge(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	repo.addCharge(1, 101, "300.00", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, &fakeJournalPort{}, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "300.00")
	result, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)
	appID := result.Applications[0].ID

	updated, err := svc.UnapplyPayment(context.Background(), scope, appID)
	require.NoError(t, err)
	require.True(t, updated.AppliedAmount.IsZero())
	require.True(t, updated.UnappliedAmount.Equal(decimal.RequireFromString("300.00")))
	require.Equal(t, billing.ChargeStatusBilled, repo.charges[1].Status)
	require.True(t, repo.charges[1].BalanceDue.Equal(decimal.RequireFromString("300.00")))

	_, err = svc.UnapplyPayment(context.Background(), scope, appID)
	require.ErrorIs(t, err, ErrApplicationReversed)
}

func TestReopenApplicationsForEntry(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	jan := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	repo.addCharge(1, 101, "300.00", jan)
	repo.addCharge(2, 101, "300.00", feb)
	svc := NewService(repo, &fakeJournalPort{}, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "600.00")
	result, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result.JournalEntryID)

	reopened, err := svc.ReopenApplicationsForEntry(context.Background(), scope, *result.JournalEntryID)
	require.NoError(t, err)
	require.Equal(t, 2, reopened)
	require.Equal(t, billing.ChargeStatusBilled, repo.charges[1].Status)
	require.Equal(t, billing.ChargeStatusBilled, repo.charges[2].Status)
	require.True(t, repo.payments[payment.ID].UnappliedAmount.Equal(decimal.RequireFromString("600.00")))

	// Already-reversed applications are skipped on a retry.
	reopened, err = svc.ReopenApplicationsForEntry(context.Background(), scope, *result.JournalEntryID)
	require.NoError(t, err)
	require.Equal(t, 0, reopened)
}

func TestUnapplyPaymentRefusedOnClosedCharge(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	repo.addCharge(1, 101, "300.00", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, &fakeJournalPort{}, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "100.00")
	result, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)
	appID := result.Applications[0].ID

	// Writing the remainder off clamps the total to what was paid;
	// reopening afterwards would fabricate a balance.
	charge := repo.charges[1]
	charge.TotalAmount = charge.PaidAmount
	charge.BalanceDue = decimal.Zero
	charge.Status = billing.ChargeStatusWrittenOff

	_, err = svc.UnapplyPayment(context.Background(), scope, appID)
	require.ErrorIs(t, err, billing.ErrChargeNotOpen)

	_, err = svc.ReopenApplicationsForEntry(context.Background(), scope, *result.JournalEntryID)
	require.ErrorIs(t, err, billing.ErrChargeNotOpen)

	// The application stays live and the payment keeps its split.
	apps, err := svc.ListApplications(context.Background(), scope, payment.ID)
	require.NoError(t, err)
	require.Nil(t, apps[0].ReversedAt)
	require.True(t, repo.payments[payment.ID].AppliedAmount.Equal(decimal.RequireFromString("100.00")))
}

func TestPaymentStatusTransitions(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	repo.addCharge(1, 101, "300.00", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, &fakeJournalPort{}, nil)
	scope := paymentsScope()

	payment := recordTestPayment(t, svc, "300.00")
	require.NoError(t, svc.ClearPayment(context.Background(), scope, payment.ID))
	require.Equal(t, PaymentStatusCleared, repo.payments[payment.ID].Status)

	// Clearing twice fails, the payment already left PENDING.
	require.ErrorIs(t, svc.ClearPayment(context.Background(), scope, payment.ID), ErrPaymentNotApplicable)

	_, err := svc.ApplyPayment(context.Background(), scope, payment.ID, nil)
	require.NoError(t, err)

	// Applied money blocks void and bounce until unapplied.
	require.ErrorIs(t, svc.VoidPayment(context.Background(), scope, payment.ID), ErrPaymentHasApplications)
	require.ErrorIs(t, svc.BouncePayment(context.Background(), scope, payment.ID), ErrPaymentHasApplications)

	apps, err := svc.ListApplications(context.Background(), scope, payment.ID)
	require.NoError(t, err)
	_, err = svc.UnapplyPayment(context.Background(), scope, apps[0].ID)
	require.NoError(t, err)

	require.NoError(t, svc.BouncePayment(context.Background(), scope, payment.ID))
	require.Equal(t, PaymentStatusBounced, repo.payments[payment.ID].Status)
}
