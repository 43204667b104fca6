package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Repository encapsulates DB operations for the chart of accounts.
type Repository interface {
	List(ctx context.Context, scope tenant.Scope) ([]Account, error)
	Get(ctx context.Context, scope tenant.Scope, id int64) (Account, error)
	Insert(ctx context.Context, scope tenant.Scope, in CreateInput) (Account, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Account, error)
	CountActiveChildren(ctx context.Context, scope tenant.Scope, id int64) (int, error)
	SetActive(ctx context.Context, scope tenant.Scope, id int64, active bool) error
	// SumPostedLines totals debit and credit amounts over posted journal lines.
	SumPostedLines(ctx context.Context, scope tenant.Scope, accountID int64) (debit, credit decimal.Decimal, err error)
	SetBalance(ctx context.Context, scope tenant.Scope, id int64, balance decimal.Decimal, frozen bool) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, organization_id, association_id, code, name, type, category, fund_type, parent_id, normal_debit, current_balance, is_active, is_system, frozen, deleted_at, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OrganizationID, &a.AssociationID, &a.Code, &a.Name, &a.Type, &a.Category, &a.Fund, &a.ParentID, &a.NormalDebit, &a.CurrentBalance, &a.IsActive, &a.IsSystem, &a.Frozen, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repository) List(ctx context.Context, scope tenant.Scope) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM gl_accounts
WHERE association_id=$1 AND deleted_at IS NULL ORDER BY code ASC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, scope tenant.Scope, id int64) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM gl_accounts
WHERE id=$1 AND association_id=$2 AND deleted_at IS NULL`, id, scope.AssociationID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) Insert(ctx context.Context, scope tenant.Scope, in CreateInput) (Account, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO gl_accounts
(organization_id, association_id, code, name, type, category, fund_type, parent_id, normal_debit, current_balance, is_active, is_system)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,true,$10)
RETURNING `+accountColumns,
		scope.OrganizationID, scope.AssociationID, in.Code, in.Name, in.Type, in.Category, in.Fund, in.ParentID, in.normalDebit(), in.IsSystem)
	a, err := scanAccount(row)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return Account{}, shared.ErrDuplicateAccount
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM gl_accounts
WHERE id=$1 AND association_id=$2 AND deleted_at IS NULL FOR UPDATE`, id, scope.AssociationID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) CountActiveChildren(ctx context.Context, scope tenant.Scope, id int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM gl_accounts
WHERE parent_id=$1 AND association_id=$2 AND is_active AND deleted_at IS NULL`, id, scope.AssociationID).Scan(&count)
	return count, err
}

func (r *txRepository) SetActive(ctx context.Context, scope tenant.Scope, id int64, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_accounts SET is_active=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2 AND deleted_at IS NULL`, id, scope.AssociationID, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) SumPostedLines(ctx context.Context, scope tenant.Scope, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id=$1 AND e.association_id=$2 AND e.status IN ('POSTED','REVERSED')`, accountID, scope.AssociationID).
		Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return debit, credit, nil
}

func (r *txRepository) SetBalance(ctx context.Context, scope tenant.Scope, id int64, balance decimal.Decimal, frozen bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_accounts SET current_balance=$3, frozen=$4, updated_at=NOW()
WHERE id=$1 AND association_id=$2 AND deleted_at IS NULL`, id, scope.AssociationID, balance, frozen)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}
