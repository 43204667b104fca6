package journals

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the journal entry lifecycle.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusPosted          Status = "POSTED"
	StatusReversed        Status = "REVERSED"
)

// SourceKind tags the business event a journal entry originates from.
type SourceKind string

const (
	SourceManual    SourceKind = "MANUAL"
	SourceCharge    SourceKind = "CHARGE"
	SourcePayment   SourceKind = "PAYMENT"
	SourceLateFee   SourceKind = "LATE_FEE"
	SourceAPInvoice SourceKind = "AP_INVOICE"
)

// SourceRef is a typed link back to the originating business event.
type SourceRef struct {
	Kind SourceKind
	ID   int64
}

// Entry captures posting metadata. Once posted, the entry and its lines
// are immutable apart from the REVERSED transition and its backlink.
type Entry struct {
	ID             int64
	OrganizationID int64
	AssociationID  int64
	Number         string
	Date           time.Time
	Memo           string
	Status         Status
	IsReversal     bool
	ReversedByID   *int64
	Source         SourceRef
	CreatedBy      int64
	PostedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []Line
}

// Line stores a debit or credit amount for an account. Exactly one side
// is positive; the other is zero.
type Line struct {
	ID         int64
	EntryID    int64
	LineNumber int
	AccountID  int64
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	Reference  *SourceRef
	CreatedAt  time.Time
}

// Totals sums debits and credits over a set of lines.
func Totals(lines []Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}
