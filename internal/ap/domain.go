package ap

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates the vendor invoice lifecycle.
type InvoiceStatus string

const (
	StatusDraft  InvoiceStatus = "DRAFT"
	StatusPosted InvoiceStatus = "POSTED"
	StatusPaid   InvoiceStatus = "PAID"
	StatusVoid   InvoiceStatus = "VOID"
)

// Vendor is a payee the association owes money to.
type Vendor struct {
	ID             int64
	OrganizationID int64
	AssociationID  int64
	Name           string
	TaxID          string
	Email          string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Invoice is a vendor bill. Posting it recognises the expense and the
// payable; paying it clears the payable against a bank account.
type Invoice struct {
	ID               int64
	OrganizationID   int64
	AssociationID    int64
	VendorID         int64
	Number           string
	Memo             string
	Total            decimal.Decimal
	PaidAmount       decimal.Decimal
	Balance          decimal.Decimal
	Status           InvoiceStatus
	PayableAccountID int64
	InvoiceDate      time.Time
	DueDate          time.Time
	JournalEntryID   *int64
	PostedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Lines            []InvoiceLine
}

// InvoiceLine charges one expense account.
type InvoiceLine struct {
	ID               int64
	InvoiceID        int64
	LineNumber       int
	Description      string
	ExpenseAccountID int64
	Amount           decimal.Decimal
	CreatedAt        time.Time
}

// AgingBucket groups open payable balances by days overdue.
type AgingBucket struct {
	Current   decimal.Decimal
	Days30    decimal.Decimal
	Days60    decimal.Decimal
	Days90    decimal.Decimal
	Days90Pls decimal.Decimal
}

// AgingFor files a balance into the bucket for its overdue age.
func (b *AgingBucket) AgingFor(asOf, dueDate time.Time, balance decimal.Decimal) {
	overdue := int(asOf.Sub(dueDate).Hours() / 24)
	switch {
	case overdue <= 0:
		b.Current = b.Current.Add(balance)
	case overdue <= 30:
		b.Days30 = b.Days30.Add(balance)
	case overdue <= 60:
		b.Days60 = b.Days60.Add(balance)
	case overdue <= 90:
		b.Days90 = b.Days90.Add(balance)
	default:
		b.Days90Pls = b.Days90Pls.Add(balance)
	}
}
