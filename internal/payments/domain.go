package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/billing"
)

// PaymentStatus enumerates the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusCleared  PaymentStatus = "CLEARED"
	PaymentStatusBounced  PaymentStatus = "BOUNCED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusVoided   PaymentStatus = "VOIDED"
)

// Payment is money received from a unit owner, applied across charges by
// the allocation engine. Amount == AppliedAmount + UnappliedAmount holds
// at all times.
type Payment struct {
	ID               int64
	OrganizationID   int64
	AssociationID    int64
	UnitID           int64
	Amount           decimal.Decimal
	AppliedAmount    decimal.Decimal
	UnappliedAmount  decimal.Decimal
	Status           PaymentStatus
	Method           string
	Reference        string
	DepositAccountID int64
	ReceivedAt       time.Time
	JournalEntryID   *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Applicable reports whether the payment can be allocated.
func (p Payment) Applicable() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusCleared
}

// Application joins one payment to one charge for an applied amount.
type Application struct {
	ID             int64
	PaymentID      int64
	ChargeID       int64
	Amount         decimal.Decimal
	AppliedAt      time.Time
	ReversedAt     *time.Time
	JournalEntryID *int64
}

// AllocTarget is a charge eligible for allocation together with the
// receivable account its assessment type posts against.
type AllocTarget struct {
	billing.Charge
	ReceivableAccountID int64
}

// AllocationResult reports one allocation run.
type AllocationResult struct {
	Applications    []Application
	AppliedTotal    decimal.Decimal
	UnappliedAmount decimal.Decimal
	JournalEntryID  *int64
}
