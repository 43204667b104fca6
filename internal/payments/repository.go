package payments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Repository encapsulates DB operations for payments and applications.
type Repository interface {
	GetPayment(ctx context.Context, scope tenant.Scope, id int64) (Payment, error)
	ListPayments(ctx context.Context, scope tenant.Scope) ([]Payment, error)
	ListApplications(ctx context.Context, scope tenant.Scope, paymentID int64) ([]Application, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. Charge
// rows are reachable here because allocation mutates payment and charges
// in the same transaction.
type TxRepository interface {
	InsertPayment(ctx context.Context, scope tenant.Scope, payment Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Payment, error)
	UpdatePaymentAmounts(ctx context.Context, scope tenant.Scope, payment Payment) error
	UpdatePaymentStatus(ctx context.Context, scope tenant.Scope, id int64, status PaymentStatus) error
	SetPaymentJournalEntry(ctx context.Context, scope tenant.Scope, paymentID, entryID int64) error

	InsertApplication(ctx context.Context, scope tenant.Scope, app Application) (Application, error)
	GetApplicationForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Application, error)
	MarkApplicationReversed(ctx context.Context, scope tenant.Scope, id int64, at time.Time) error
	SetApplicationsJournalEntry(ctx context.Context, scope tenant.Scope, ids []int64, entryID int64) error
	ListApplications(ctx context.Context, scope tenant.Scope, paymentID int64) ([]Application, error)
	ListApplicationsByEntry(ctx context.Context, scope tenant.Scope, entryID int64) ([]Application, error)

	// Charge access for the allocation transaction.
	ListOutstandingCharges(ctx context.Context, scope tenant.Scope, unitID int64) ([]AllocTarget, error)
	GetChargeForUpdate(ctx context.Context, scope tenant.Scope, chargeID int64) (AllocTarget, error)
	UpdateChargePayment(ctx context.Context, scope tenant.Scope, charge billing.Charge) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const paymentColumns = `id, organization_id, association_id, unit_id, amount, applied_amount, unapplied_amount, status, method, reference, deposit_account_id, received_at, journal_entry_id, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrganizationID, &p.AssociationID, &p.UnitID, &p.Amount, &p.AppliedAmount, &p.UnappliedAmount, &p.Status, &p.Method, &p.Reference, &p.DepositAccountID, &p.ReceivedAt, &p.JournalEntryID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const applicationColumns = `id, payment_id, charge_id, amount, applied_at, reversed_at, journal_entry_id`

func scanApplication(row pgx.Row) (Application, error) {
	var a Application
	err := row.Scan(&a.ID, &a.PaymentID, &a.ChargeID, &a.Amount, &a.AppliedAt, &a.ReversedAt, &a.JournalEntryID)
	return a, err
}

func (r *repository) GetPayment(ctx context.Context, scope tenant.Scope, id int64) (Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *repository) ListPayments(ctx context.Context, scope tenant.Scope) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE association_id=$1 ORDER BY received_at DESC, id DESC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) ListApplications(ctx context.Context, scope tenant.Scope, paymentID int64) ([]Application, error) {
	return listApplications(ctx, r.db, scope, paymentID)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listApplications(ctx context.Context, q queryer, scope tenant.Scope, paymentID int64) ([]Application, error) {
	rows, err := q.Query(ctx, `SELECT `+applicationColumns+` FROM payment_applications a
WHERE a.payment_id=$1 AND EXISTS (SELECT 1 FROM payments p WHERE p.id=a.payment_id AND p.association_id=$2)
ORDER BY a.id ASC`, paymentID, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertPayment(ctx context.Context, scope tenant.Scope, payment Payment) (Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments
(organization_id, association_id, unit_id, amount, applied_amount, unapplied_amount, status, method, reference, deposit_account_id, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING `+paymentColumns,
		scope.OrganizationID, scope.AssociationID, payment.UnitID, payment.Amount, payment.AppliedAmount, payment.UnappliedAmount,
		payment.Status, payment.Method, payment.Reference, payment.DepositAccountID, payment.ReceivedAt)
	return scanPayment(row)
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Payment, error) {
	p, err := scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE id=$1 AND association_id=$2 FOR UPDATE`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) UpdatePaymentAmounts(ctx context.Context, scope tenant.Scope, payment Payment) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payments
SET applied_amount=$3, unapplied_amount=$4, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, payment.ID, scope.AssociationID, payment.AppliedAmount, payment.UnappliedAmount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *txRepository) UpdatePaymentStatus(ctx context.Context, scope tenant.Scope, id int64, status PaymentStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payments SET status=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *txRepository) SetPaymentJournalEntry(ctx context.Context, scope tenant.Scope, paymentID, entryID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payments SET journal_entry_id=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, paymentID, scope.AssociationID, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *txRepository) InsertApplication(ctx context.Context, scope tenant.Scope, app Application) (Application, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payment_applications (payment_id, charge_id, amount, applied_at)
VALUES ($1,$2,$3,$4) RETURNING `+applicationColumns, app.PaymentID, app.ChargeID, app.Amount, app.AppliedAt)
	return scanApplication(row)
}

func (r *txRepository) GetApplicationForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Application, error) {
	a, err := scanApplication(r.tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM payment_applications a
WHERE a.id=$1 AND EXISTS (SELECT 1 FROM payments p WHERE p.id=a.payment_id AND p.association_id=$2)
FOR UPDATE OF a`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrApplicationNotFound
		}
		return Application{}, err
	}
	return a, nil
}

func (r *txRepository) MarkApplicationReversed(ctx context.Context, scope tenant.Scope, id int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payment_applications a SET reversed_at=$3
WHERE a.id=$1 AND a.reversed_at IS NULL
  AND EXISTS (SELECT 1 FROM payments p WHERE p.id=a.payment_id AND p.association_id=$2)`, id, scope.AssociationID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrApplicationReversed
	}
	return nil
}

func (r *txRepository) SetApplicationsJournalEntry(ctx context.Context, scope tenant.Scope, ids []int64, entryID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE payment_applications a SET journal_entry_id=$2
WHERE a.id = ANY($1)
  AND EXISTS (SELECT 1 FROM payments p WHERE p.id=a.payment_id AND p.association_id=$3)`, ids, entryID, scope.AssociationID)
	return err
}

func (r *txRepository) ListApplications(ctx context.Context, scope tenant.Scope, paymentID int64) ([]Application, error) {
	return listApplications(ctx, r.tx, scope, paymentID)
}

func (r *txRepository) ListApplicationsByEntry(ctx context.Context, scope tenant.Scope, entryID int64) ([]Application, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+applicationColumns+` FROM payment_applications a
WHERE a.journal_entry_id=$1
  AND EXISTS (SELECT 1 FROM payments p WHERE p.id=a.payment_id AND p.association_id=$2)
ORDER BY a.id ASC`, entryID, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const allocTargetQuery = `SELECT c.id, c.organization_id, c.association_id, c.unit_id, c.assessment_type_id, c.period_start, c.period_end, c.charge_date, c.due_date, c.amount, c.late_fee_amount, c.total_amount, c.paid_amount, c.balance_due, c.status, c.late_fee_applied, c.journal_entry_id, c.created_at, c.updated_at, t.receivable_account_id
FROM assessment_charges c
JOIN assessment_types t ON t.id = c.assessment_type_id`

func scanAllocTarget(row pgx.Row) (AllocTarget, error) {
	var a AllocTarget
	c := &a.Charge
	err := row.Scan(&c.ID, &c.OrganizationID, &c.AssociationID, &c.UnitID, &c.AssessmentTypeID, &c.PeriodStart, &c.PeriodEnd, &c.ChargeDate, &c.DueDate, &c.Amount, &c.LateFeeAmount, &c.TotalAmount, &c.PaidAmount, &c.BalanceDue, &c.Status, &c.LateFeeApplied, &c.JournalEntryID, &c.CreatedAt, &c.UpdatedAt, &a.ReceivableAccountID)
	return a, err
}

// ListOutstandingCharges returns the payer's open charges oldest-due
// first, locked for the allocation.
func (r *txRepository) ListOutstandingCharges(ctx context.Context, scope tenant.Scope, unitID int64) ([]AllocTarget, error) {
	rows, err := r.tx.Query(ctx, allocTargetQuery+`
WHERE c.association_id=$1 AND c.unit_id=$2 AND c.status IN ('BILLED','PARTIALLY_PAID')
ORDER BY c.due_date ASC, c.charge_date ASC, c.id ASC
FOR UPDATE OF c`, scope.AssociationID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AllocTarget
	for rows.Next() {
		a, err := scanAllocTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) GetChargeForUpdate(ctx context.Context, scope tenant.Scope, chargeID int64) (AllocTarget, error) {
	a, err := scanAllocTarget(r.tx.QueryRow(ctx, allocTargetQuery+`
WHERE c.id=$1 AND c.association_id=$2 FOR UPDATE OF c`, chargeID, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AllocTarget{}, billing.ErrChargeNotFound
		}
		return AllocTarget{}, err
	}
	return a, nil
}

func (r *txRepository) UpdateChargePayment(ctx context.Context, scope tenant.Scope, charge billing.Charge) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE assessment_charges
SET paid_amount=$3, balance_due=$4, status=$5, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, charge.ID, scope.AssociationID, charge.PaidAmount, charge.BalanceDue, charge.Status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return billing.ErrChargeNotFound
	}
	return nil
}
