package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Repository encapsulates DB operations for assessment billing.
type Repository interface {
	GetAssessmentType(ctx context.Context, scope tenant.Scope, id int64) (AssessmentType, error)
	ListActiveAssessmentTypes(ctx context.Context, scope tenant.Scope) ([]AssessmentType, error)
	GetCharge(ctx context.Context, scope tenant.Scope, id int64) (Charge, error)
	ListUnitCharges(ctx context.Context, scope tenant.Scope, unitID int64) ([]Charge, error)
	ListUnits(ctx context.Context, scope tenant.Scope) ([]int64, error)
	ListLateFeeCandidates(ctx context.Context, scope tenant.Scope, asOf time.Time) ([]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetAssessmentType(ctx context.Context, scope tenant.Scope, id int64) (AssessmentType, error)
	ChargeExists(ctx context.Context, scope tenant.Scope, unitID, typeID int64, periodStart time.Time) (bool, error)
	InsertCharge(ctx context.Context, scope tenant.Scope, charge Charge) (Charge, error)
	GetChargeForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Charge, error)
	UpdateChargeAmounts(ctx context.Context, scope tenant.Scope, charge Charge) error
	SetChargeJournalEntry(ctx context.Context, scope tenant.Scope, chargeID, entryID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const assessmentTypeColumns = `id, organization_id, association_id, name, frequency, default_amount, revenue_account_id, receivable_account_id, late_fee_account_id, late_fee_amount, late_fee_percent, grace_period_days, due_days, is_active, created_at, updated_at`

func scanAssessmentType(row pgx.Row) (AssessmentType, error) {
	var t AssessmentType
	err := row.Scan(&t.ID, &t.OrganizationID, &t.AssociationID, &t.Name, &t.Frequency, &t.DefaultAmount, &t.RevenueAccountID, &t.ReceivableAccountID, &t.LateFeeAccountID, &t.LateFeeAmount, &t.LateFeePercent, &t.GracePeriodDays, &t.DueDays, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

const chargeColumns = `id, organization_id, association_id, unit_id, assessment_type_id, period_start, period_end, charge_date, due_date, amount, late_fee_amount, total_amount, paid_amount, balance_due, status, late_fee_applied, journal_entry_id, created_at, updated_at`

func scanCharge(row pgx.Row) (Charge, error) {
	var c Charge
	err := row.Scan(&c.ID, &c.OrganizationID, &c.AssociationID, &c.UnitID, &c.AssessmentTypeID, &c.PeriodStart, &c.PeriodEnd, &c.ChargeDate, &c.DueDate, &c.Amount, &c.LateFeeAmount, &c.TotalAmount, &c.PaidAmount, &c.BalanceDue, &c.Status, &c.LateFeeApplied, &c.JournalEntryID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *repository) GetAssessmentType(ctx context.Context, scope tenant.Scope, id int64) (AssessmentType, error) {
	t, err := scanAssessmentType(r.db.QueryRow(ctx, `SELECT `+assessmentTypeColumns+` FROM assessment_types
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssessmentType{}, ErrUnknownAssessmentType
		}
		return AssessmentType{}, err
	}
	return t, nil
}

func (r *repository) ListActiveAssessmentTypes(ctx context.Context, scope tenant.Scope) ([]AssessmentType, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assessmentTypeColumns+` FROM assessment_types
WHERE association_id=$1 AND is_active ORDER BY id ASC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AssessmentType
	for rows.Next() {
		t, err := scanAssessmentType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) GetCharge(ctx context.Context, scope tenant.Scope, id int64) (Charge, error) {
	c, err := scanCharge(r.db.QueryRow(ctx, `SELECT `+chargeColumns+` FROM assessment_charges
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Charge{}, ErrChargeNotFound
		}
		return Charge{}, err
	}
	return c, nil
}

func (r *repository) ListUnitCharges(ctx context.Context, scope tenant.Scope, unitID int64) ([]Charge, error) {
	rows, err := r.db.Query(ctx, `SELECT `+chargeColumns+` FROM assessment_charges
WHERE association_id=$1 AND unit_id=$2 ORDER BY due_date ASC, charge_date ASC, id ASC`, scope.AssociationID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) ListUnits(ctx context.Context, scope tenant.Scope) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM units WHERE association_id=$1 AND deleted_at IS NULL ORDER BY id ASC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *repository) ListLateFeeCandidates(ctx context.Context, scope tenant.Scope, asOf time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT c.id FROM assessment_charges c
JOIN assessment_types t ON t.id = c.assessment_type_id
WHERE c.association_id=$1
  AND c.status IN ('BILLED','PARTIALLY_PAID')
  AND NOT c.late_fee_applied
  AND c.due_date + make_interval(days => t.grace_period_days) < $2
ORDER BY c.id ASC`, scope.AssociationID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
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

func (r *txRepository) GetAssessmentType(ctx context.Context, scope tenant.Scope, id int64) (AssessmentType, error) {
	t, err := scanAssessmentType(r.tx.QueryRow(ctx, `SELECT `+assessmentTypeColumns+` FROM assessment_types
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssessmentType{}, ErrUnknownAssessmentType
		}
		return AssessmentType{}, err
	}
	return t, nil
}

func (r *txRepository) ChargeExists(ctx context.Context, scope tenant.Scope, unitID, typeID int64, periodStart time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assessment_charges
WHERE association_id=$1 AND unit_id=$2 AND assessment_type_id=$3 AND period_start=$4)`,
		scope.AssociationID, unitID, typeID, periodStart).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertCharge(ctx context.Context, scope tenant.Scope, charge Charge) (Charge, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO assessment_charges
(organization_id, association_id, unit_id, assessment_type_id, period_start, period_end, charge_date, due_date, amount, late_fee_amount, total_amount, paid_amount, balance_due, status, late_fee_applied)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,false)
RETURNING `+chargeColumns,
		scope.OrganizationID, scope.AssociationID, charge.UnitID, charge.AssessmentTypeID, charge.PeriodStart, charge.PeriodEnd,
		charge.ChargeDate, charge.DueDate, charge.Amount, charge.LateFeeAmount, charge.TotalAmount, charge.PaidAmount, charge.BalanceDue, charge.Status)
	return scanCharge(row)
}

func (r *txRepository) GetChargeForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Charge, error) {
	c, err := scanCharge(r.tx.QueryRow(ctx, `SELECT `+chargeColumns+` FROM assessment_charges
WHERE id=$1 AND association_id=$2 FOR UPDATE`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Charge{}, ErrChargeNotFound
		}
		return Charge{}, err
	}
	return c, nil
}

func (r *txRepository) UpdateChargeAmounts(ctx context.Context, scope tenant.Scope, charge Charge) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE assessment_charges
SET late_fee_amount=$3, total_amount=$4, paid_amount=$5, balance_due=$6, status=$7, late_fee_applied=$8, updated_at=NOW()
WHERE id=$1 AND association_id=$2`,
		charge.ID, scope.AssociationID, charge.LateFeeAmount, charge.TotalAmount, charge.PaidAmount, charge.BalanceDue, charge.Status, charge.LateFeeApplied)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrChargeNotFound
	}
	return nil
}

func (r *txRepository) SetChargeJournalEntry(ctx context.Context, scope tenant.Scope, chargeID, entryID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE assessment_charges SET journal_entry_id=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, chargeID, scope.AssociationID, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrChargeNotFound
	}
	return nil
}
