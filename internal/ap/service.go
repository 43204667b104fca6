package ap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/journals"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

// JournalPort is the slice of the posting engine the AP engine needs.
type JournalPort interface {
	PostSystemEntry(ctx context.Context, scope tenant.Scope, in journals.EntryInput) (journals.Entry, error)
}

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type Service struct {
	repo    Repository
	journal JournalPort
	audit   AuditPort
	now     func() time.Time
}

func NewService(repo Repository, journal JournalPort, audit AuditPort) *Service {
	return &Service{repo: repo, journal: journal, audit: audit, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateVendorInput captures a new payee.
type CreateVendorInput struct {
	Name  string `validate:"required,max=160"`
	TaxID string `validate:"max=32"`
	Email string `validate:"omitempty,email"`
}

func (s *Service) CreateVendor(ctx context.Context, scope tenant.Scope, in CreateVendorInput) (Vendor, error) {
	if err := scope.Validate(); err != nil {
		return Vendor{}, err
	}
	if in.Name == "" {
		return Vendor{}, errors.New("ap: vendor name required")
	}
	var vendor Vendor
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertVendor(ctx, scope, Vendor{Name: in.Name, TaxID: in.TaxID, Email: in.Email})
		if err != nil {
			return err
		}
		vendor = inserted
		return nil
	})
	if err != nil {
		return Vendor{}, err
	}
	return vendor, nil
}

func (s *Service) GetVendor(ctx context.Context, scope tenant.Scope, id int64) (Vendor, error) {
	if err := scope.Validate(); err != nil {
		return Vendor{}, err
	}
	return s.repo.GetVendor(ctx, scope, id)
}

func (s *Service) ListVendors(ctx context.Context, scope tenant.Scope) ([]Vendor, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListVendors(ctx, scope)
}

// InvoiceLineInput charges one expense account.
type InvoiceLineInput struct {
	Description      string          `validate:"required,max=240"`
	ExpenseAccountID int64           `validate:"required"`
	Amount           decimal.Decimal `validate:"required"`
}

// CreateInvoiceInput captures a vendor bill.
type CreateInvoiceInput struct {
	VendorID         int64  `validate:"required"`
	Number           string `validate:"required,max=64"`
	Memo             string `validate:"max=240"`
	PayableAccountID int64  `validate:"required"`
	InvoiceDate      time.Time
	DueDate          time.Time
	Lines            []InvoiceLineInput `validate:"required,min=1,dive"`
}

// CreateInvoice stores a DRAFT vendor invoice. Nothing hits the ledger
// until PostInvoice.
func (s *Service) CreateInvoice(ctx context.Context, scope tenant.Scope, in CreateInvoiceInput) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	if len(in.Lines) == 0 {
		return Invoice{}, errors.New("ap: at least one line required")
	}
	total := decimal.Zero
	lines := make([]InvoiceLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		if !line.Amount.IsPositive() {
			return Invoice{}, errors.New("ap: line amount must be positive")
		}
		total = total.Add(line.Amount)
		lines = append(lines, InvoiceLine{
			Description:      line.Description,
			ExpenseAccountID: line.ExpenseAccountID,
			Amount:           line.Amount,
		})
	}
	if _, err := s.repo.GetVendor(ctx, scope, in.VendorID); err != nil {
		return Invoice{}, err
	}
	invoiceDate := in.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = s.now()
	}
	dueDate := in.DueDate
	if dueDate.IsZero() {
		dueDate = invoiceDate.AddDate(0, 0, 30)
	}
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertInvoice(ctx, scope, Invoice{
			VendorID:         in.VendorID,
			Number:           in.Number,
			Memo:             in.Memo,
			Total:            total,
			PaidAmount:       decimal.Zero,
			Balance:          total,
			Status:           StatusDraft,
			PayableAccountID: in.PayableAccountID,
			InvoiceDate:      invoiceDate,
			DueDate:          dueDate,
		})
		if err != nil {
			return err
		}
		insertedLines, err := tx.InsertLines(ctx, inserted.ID, lines)
		if err != nil {
			return err
		}
		inserted.Lines = insertedLines
		invoice = inserted
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, scope tenant.Scope, id int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	return s.repo.GetInvoice(ctx, scope, id)
}

func (s *Service) ListInvoices(ctx context.Context, scope tenant.Scope, status InvoiceStatus) ([]Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListInvoices(ctx, scope, status)
}

// PostInvoice recognises a draft invoice in the ledger: each line debits
// its expense account and the total credits the payable account.
func (s *Service) PostInvoice(ctx context.Context, scope tenant.Scope, invoiceID int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, scope, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if invoice.Status != StatusDraft {
		return Invoice{}, ErrInvalidStatus
	}
	ref := &journals.SourceRef{Kind: journals.SourceAPInvoice, ID: invoice.ID}
	lines := make([]journals.LineInput, 0, len(invoice.Lines)+1)
	for _, line := range invoice.Lines {
		lines = append(lines, journals.LineInput{
			AccountID: line.ExpenseAccountID,
			Debit:     line.Amount,
			Reference: ref,
		})
	}
	lines = append(lines, journals.LineInput{
		AccountID: invoice.PayableAccountID,
		Credit:    invoice.Total,
		Reference: ref,
	})
	entry, err := s.journal.PostSystemEntry(ctx, scope, journals.EntryInput{
		Date:   s.now(),
		Memo:   fmt.Sprintf("Vendor invoice %s", invoice.Number),
		Source: *ref,
		Lines:  lines,
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("ap: post invoice entry: %w", err)
	}
	postedAt := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.MarkInvoicePosted(ctx, scope, invoice.ID, entry.ID, postedAt)
	})
	if err != nil {
		return Invoice{}, err
	}
	invoice.Status = StatusPosted
	invoice.JournalEntryID = &entry.ID
	invoice.PostedAt = &postedAt
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "ap.invoice.post",
			Entity:         "ap_invoice",
			EntityID:       fmt.Sprintf("%d", invoice.ID),
			Meta:           map[string]any{"total": invoice.Total.String(), "entry_id": entry.ID},
			At:             s.now(),
		})
	}
	return invoice, nil
}

// PayInvoice clears part or all of a posted invoice against a bank
// account.
func (s *Service) PayInvoice(ctx context.Context, scope tenant.Scope, invoiceID int64, amount decimal.Decimal, bankAccountID int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	if !amount.IsPositive() {
		return Invoice{}, errors.New("ap: payment amount must be positive")
	}
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetInvoiceForUpdate(ctx, scope, invoiceID)
		if err != nil {
			return err
		}
		if current.Status != StatusPosted {
			return ErrInvalidStatus
		}
		if amount.GreaterThan(current.Balance) {
			return ErrOverpayment
		}
		current.PaidAmount = current.PaidAmount.Add(amount)
		current.Balance = current.Balance.Sub(amount)
		if current.Balance.IsZero() {
			current.Status = StatusPaid
		}
		if err := tx.UpdateInvoicePayment(ctx, scope, current); err != nil {
			return err
		}
		invoice = current
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	ref := &journals.SourceRef{Kind: journals.SourceAPInvoice, ID: invoice.ID}
	_, err = s.journal.PostSystemEntry(ctx, scope, journals.EntryInput{
		Date:   s.now(),
		Memo:   fmt.Sprintf("Payment on vendor invoice %s", invoice.Number),
		Source: *ref,
		Lines: []journals.LineInput{
			{AccountID: invoice.PayableAccountID, Debit: amount, Reference: ref},
			{AccountID: bankAccountID, Credit: amount, Reference: ref},
		},
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("ap: post payment entry: %w", err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "ap.invoice.pay",
			Entity:         "ap_invoice",
			EntityID:       fmt.Sprintf("%d", invoice.ID),
			Meta:           map[string]any{"amount": amount.String(), "balance": invoice.Balance.String()},
			At:             s.now(),
		})
	}
	return invoice, nil
}

// VoidInvoice cancels a draft invoice. A posted invoice is undone
// through the reversal subsystem instead.
func (s *Service) VoidInvoice(ctx context.Context, scope tenant.Scope, invoiceID int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetInvoiceForUpdate(ctx, scope, invoiceID)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return ErrInvalidStatus
		}
		return tx.UpdateInvoiceStatus(ctx, scope, invoiceID, StatusVoid)
	})
}

// ReopenInvoice marks an invoice void after its posting entry was
// reversed. The ledger side is already undone by the caller.
func (s *Service) ReopenInvoice(ctx context.Context, scope tenant.Scope, invoiceID int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetInvoiceForUpdate(ctx, scope, invoiceID)
		if err != nil {
			return err
		}
		if current.Status != StatusPosted {
			return ErrInvalidStatus
		}
		if err := tx.UpdateInvoiceStatus(ctx, scope, invoiceID, StatusVoid); err != nil {
			return err
		}
		current.Status = StatusVoid
		invoice = current
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// Aging buckets every open payable balance by days overdue at asOf.
func (s *Service) Aging(ctx context.Context, scope tenant.Scope, asOf time.Time) (AgingBucket, error) {
	if err := scope.Validate(); err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	open, err := s.repo.ListOpenBalances(ctx, scope)
	if err != nil {
		return AgingBucket{}, err
	}
	bucket := AgingBucket{
		Current:   decimal.Zero,
		Days30:    decimal.Zero,
		Days60:    decimal.Zero,
		Days90:    decimal.Zero,
		Days90Pls: decimal.Zero,
	}
	for _, inv := range open {
		bucket.AgingFor(asOf, inv.DueDate, inv.Balance)
	}
	return bucket, nil
}
