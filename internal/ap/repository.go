package ap

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/tenant"
)

// Repository encapsulates DB operations for vendors and their invoices.
type Repository interface {
	GetVendor(ctx context.Context, scope tenant.Scope, id int64) (Vendor, error)
	ListVendors(ctx context.Context, scope tenant.Scope) ([]Vendor, error)
	GetInvoice(ctx context.Context, scope tenant.Scope, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, scope tenant.Scope, status InvoiceStatus) ([]Invoice, error)
	ListOpenBalances(ctx context.Context, scope tenant.Scope) ([]Invoice, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertVendor(ctx context.Context, scope tenant.Scope, vendor Vendor) (Vendor, error)
	InsertInvoice(ctx context.Context, scope tenant.Scope, invoice Invoice) (Invoice, error)
	InsertLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) ([]InvoiceLine, error)
	GetInvoiceForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Invoice, error)
	UpdateInvoicePayment(ctx context.Context, scope tenant.Scope, invoice Invoice) error
	MarkInvoicePosted(ctx context.Context, scope tenant.Scope, id, entryID int64, at time.Time) error
	UpdateInvoiceStatus(ctx context.Context, scope tenant.Scope, id int64, status InvoiceStatus) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const vendorColumns = `id, organization_id, association_id, name, tax_id, email, is_active, created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.OrganizationID, &v.AssociationID, &v.Name, &v.TaxID, &v.Email, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

const invoiceColumns = `id, organization_id, association_id, vendor_id, number, memo, total, paid_amount, balance, status, payable_account_id, invoice_date, due_date, journal_entry_id, posted_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.AssociationID, &inv.VendorID, &inv.Number, &inv.Memo, &inv.Total, &inv.PaidAmount, &inv.Balance, &inv.Status, &inv.PayableAccountID, &inv.InvoiceDate, &inv.DueDate, &inv.JournalEntryID, &inv.PostedAt, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (r *repository) GetVendor(ctx context.Context, scope tenant.Scope, id int64) (Vendor, error) {
	v, err := scanVendor(r.db.QueryRow(ctx, `SELECT `+vendorColumns+` FROM ap_vendors
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrVendorNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

func (r *repository) ListVendors(ctx context.Context, scope tenant.Scope) ([]Vendor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+vendorColumns+` FROM ap_vendors
WHERE association_id=$1 ORDER BY name ASC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repository) GetInvoice(ctx context.Context, scope tenant.Scope, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM ap_invoices
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	lines, err := r.listLines(ctx, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines = lines
	return inv, nil
}

func (r *repository) listLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, invoice_id, line_number, description, expense_account_id, amount, created_at
FROM ap_invoice_lines WHERE invoice_id=$1 ORDER BY line_number ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineNumber, &l.Description, &l.ExpenseAccountID, &l.Amount, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repository) ListInvoices(ctx context.Context, scope tenant.Scope, status InvoiceStatus) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM ap_invoices WHERE association_id=$1`
	args := []any{scope.AssociationID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY due_date ASC, id ASC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *repository) ListOpenBalances(ctx context.Context, scope tenant.Scope) ([]Invoice, error) {
	rows, err := r.db.Query(ctx, `SELECT `+invoiceColumns+` FROM ap_invoices
WHERE association_id=$1 AND status='POSTED' AND balance > 0 ORDER BY due_date ASC, id ASC`, scope.AssociationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
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

func (r *txRepository) InsertVendor(ctx context.Context, scope tenant.Scope, vendor Vendor) (Vendor, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ap_vendors (organization_id, association_id, name, tax_id, email, is_active)
VALUES ($1,$2,$3,$4,$5,true) RETURNING `+vendorColumns,
		scope.OrganizationID, scope.AssociationID, vendor.Name, vendor.TaxID, vendor.Email)
	return scanVendor(row)
}

func (r *txRepository) InsertInvoice(ctx context.Context, scope tenant.Scope, invoice Invoice) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ap_invoices
(organization_id, association_id, vendor_id, number, memo, total, paid_amount, balance, status, payable_account_id, invoice_date, due_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING `+invoiceColumns,
		scope.OrganizationID, scope.AssociationID, invoice.VendorID, invoice.Number, invoice.Memo,
		invoice.Total, invoice.PaidAmount, invoice.Balance, invoice.Status, invoice.PayableAccountID,
		invoice.InvoiceDate, invoice.DueDate)
	inv, err := scanInvoice(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Invoice{}, ErrDuplicateInvoiceNumber
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) InsertLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) ([]InvoiceLine, error) {
	out := make([]InvoiceLine, 0, len(lines))
	for idx, line := range lines {
		row := r.tx.QueryRow(ctx, `INSERT INTO ap_invoice_lines (invoice_id, line_number, description, expense_account_id, amount)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, invoice_id, line_number, description, expense_account_id, amount, created_at`,
			invoiceID, idx+1, line.Description, line.ExpenseAccountID, line.Amount)
		var l InvoiceLine
		if err := row.Scan(&l.ID, &l.InvoiceID, &l.LineNumber, &l.Description, &l.ExpenseAccountID, &l.Amount, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, scope tenant.Scope, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM ap_invoices
WHERE id=$1 AND association_id=$2 FOR UPDATE`, id, scope.AssociationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) UpdateInvoicePayment(ctx context.Context, scope tenant.Scope, invoice Invoice) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ap_invoices
SET paid_amount=$3, balance=$4, status=$5, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, invoice.ID, scope.AssociationID, invoice.PaidAmount, invoice.Balance, invoice.Status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) MarkInvoicePosted(ctx context.Context, scope tenant.Scope, id, entryID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ap_invoices
SET status='POSTED', journal_entry_id=$3, posted_at=$4, updated_at=NOW()
WHERE id=$1 AND association_id=$2 AND status='DRAFT'`, id, scope.AssociationID, entryID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) UpdateInvoiceStatus(ctx context.Context, scope tenant.Scope, id int64, status InvoiceStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ap_invoices SET status=$3, updated_at=NOW()
WHERE id=$1 AND association_id=$2`, id, scope.AssociationID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
