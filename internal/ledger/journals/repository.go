package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/accounts"
	"github.com/strataledger/strataledger/internal/ledger/shared"
	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Repository encapsulates DB operations for journal entries. Posting and
// reversal run through WithTx so balance updates commit atomically with
// the status flip.
type Repository interface {
	List(ctx context.Context, scope tenant.Scope) ([]Entry, error)
	GetEntry(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. Account
// access is included so cached balances move in the posting transaction.
type TxRepository interface {
	NextEntryNumber(ctx context.Context, scope tenant.Scope) (string, error)
	InsertEntry(ctx context.Context, scope tenant.Scope, in EntryInput, status Status, isReversal bool, createdBy int64) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) ([]Line, error)
	GetEntryForUpdate(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error)
	UpdateEntryStatus(ctx context.Context, scope tenant.Scope, entryID int64, status Status) error
	MarkPosted(ctx context.Context, scope tenant.Scope, entryID int64, at time.Time) error
	LinkReversal(ctx context.Context, scope tenant.Scope, originalID, reversalID int64) error

	GetAccountForUpdate(ctx context.Context, scope tenant.Scope, accountID int64) (accounts.Account, error)
	ApplyAccountDelta(ctx context.Context, scope tenant.Scope, accountID int64, delta decimal.Decimal) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, organization_id, association_id, number, date, memo, status, is_reversal, reversed_by_id, source_kind, source_id, created_by, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.OrganizationID, &e.AssociationID, &e.Number, &e.Date, &e.Memo, &e.Status, &e.IsReversal, &e.ReversedByID, &e.Source.Kind, &e.Source.ID, &e.CreatedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *repository) List(ctx context.Context, scope tenant.Scope) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE association_id=$1 ORDER BY number DESC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) GetEntry(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE id=$1 AND association_id=$2`, entryID, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrEntryNotFound
		}
		return Entry{}, err
	}
	lines, err := r.queryLines(ctx, r.db, entryID)
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *repository) queryLines(ctx context.Context, q queryer, entryID int64) ([]Line, error) {
	return queryLines(ctx, q, entryID)
}

func queryLines(ctx context.Context, q queryer, entryID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_number, account_id, debit, credit, reference_kind, reference_id, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY line_number ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var refKind *SourceKind
		var refID *int64
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNumber, &line.AccountID, &line.Debit, &line.Credit, &refKind, &refID, &line.CreatedAt); err != nil {
			return nil, err
		}
		if refKind != nil && refID != nil {
			line.Reference = &SourceRef{Kind: *refKind, ID: *refID}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) NextEntryNumber(ctx context.Context, scope tenant.Scope) (string, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_sequences (association_id, last_value)
VALUES ($1, 1)
ON CONFLICT (association_id) DO UPDATE SET last_value = journal_sequences.last_value + 1
RETURNING last_value`, scope.AssociationID).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("JE-%06d", seq), nil
}

func (r *txRepository) InsertEntry(ctx context.Context, scope tenant.Scope, in EntryInput, status Status, isReversal bool, createdBy int64) (Entry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(organization_id, association_id, number, date, memo, status, is_reversal, source_kind, source_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+entryColumns,
		scope.OrganizationID, scope.AssociationID, in.Number, in.Date, in.Memo, status, isReversal, in.Source.Kind, in.Source.ID, nullInt(createdBy))
	entry, err := scanEntry(row)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return Entry{}, shared.ErrDuplicateEntryNumber
		}
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for idx, line := range lines {
		var refKind *SourceKind
		var refID *int64
		if line.Reference != nil {
			refKind = &line.Reference.Kind
			refID = &line.Reference.ID
		}
		var inserted Line
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_number, account_id, debit, credit, reference_kind, reference_id)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
			entryID, idx+1, line.AccountID, line.Debit, line.Credit, refKind, refID).
			Scan(&inserted.ID, &inserted.CreatedAt)
		if err != nil {
			return nil, err
		}
		inserted.EntryID = entryID
		inserted.LineNumber = idx + 1
		inserted.AccountID = line.AccountID
		inserted.Debit = line.Debit
		inserted.Credit = line.Credit
		inserted.Reference = line.Reference
		out = append(out, inserted)
	}
	return out, nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE id=$1 AND association_id=$2 FOR UPDATE`, entryID, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrEntryNotFound
		}
		return Entry{}, err
	}
	lines, err := queryLines(ctx, r.tx, entryID)
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, scope tenant.Scope, entryID int64, status Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, entryID, scope.AssociationID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) MarkPosted(ctx context.Context, scope tenant.Scope, entryID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_at=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, entryID, scope.AssociationID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) LinkReversal(ctx context.Context, scope tenant.Scope, originalID, reversalID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='REVERSED', reversed_by_id=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2 AND reversed_by_id IS NULL`, originalID, scope.AssociationID, reversalID)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return shared.ErrAlreadyReversed
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, scope tenant.Scope, accountID int64) (accounts.Account, error) {
	var a accounts.Account
	err := r.tx.QueryRow(ctx, `SELECT id, organization_id, association_id, code, name, type, category, fund_type, parent_id, normal_debit, current_balance, is_active, is_system, frozen, deleted_at, created_at, updated_at
FROM gl_accounts WHERE id=$1 AND association_id=$2 AND deleted_at IS NULL FOR UPDATE`, accountID, scope.AssociationID).
		Scan(&a.ID, &a.OrganizationID, &a.AssociationID, &a.Code, &a.Name, &a.Type, &a.Category, &a.Fund, &a.ParentID, &a.NormalDebit, &a.CurrentBalance, &a.IsActive, &a.IsSystem, &a.Frozen, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, shared.ErrAccountNotFound
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (r *txRepository) ApplyAccountDelta(ctx context.Context, scope tenant.Scope, accountID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_accounts SET current_balance = current_balance + $3, updated_at=NOW()
WHERE id=$1 AND association_id=$2 AND deleted_at IS NULL`, accountID, scope.AssociationID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
