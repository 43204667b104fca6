package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency enumerates assessment billing cadences.
type Frequency string

const (
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyAnnual    Frequency = "ANNUAL"
	FrequencySpecial   Frequency = "SPECIAL"
)

// AssessmentType is a per-tenant billing template.
type AssessmentType struct {
	ID                  int64
	OrganizationID      int64
	AssociationID       int64
	Name                string
	Frequency           Frequency
	DefaultAmount       decimal.Decimal
	RevenueAccountID    int64
	ReceivableAccountID int64
	LateFeeAccountID    *int64
	LateFeeAmount       *decimal.Decimal
	LateFeePercent      *decimal.Decimal
	GracePeriodDays     int
	DueDays             int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LateFeeFor computes the fee for a charge total under this template's
// rule: fixed amount when set, percentage when set, the larger when both.
func (t AssessmentType) LateFeeFor(total decimal.Decimal) decimal.Decimal {
	fee := decimal.Zero
	if t.LateFeeAmount != nil {
		fee = *t.LateFeeAmount
	}
	if t.LateFeePercent != nil {
		pct := total.Mul(*t.LateFeePercent).Round(2)
		if pct.GreaterThan(fee) {
			fee = pct
		}
	}
	return fee
}

// ChargeStatus enumerates the charge payment lifecycle.
type ChargeStatus string

const (
	ChargeStatusPending       ChargeStatus = "PENDING"
	ChargeStatusBilled        ChargeStatus = "BILLED"
	ChargeStatusPartiallyPaid ChargeStatus = "PARTIALLY_PAID"
	ChargeStatusPaid          ChargeStatus = "PAID"
	ChargeStatusWrittenOff    ChargeStatus = "WRITTEN_OFF"
	ChargeStatusCredited      ChargeStatus = "CREDITED"
)

// Charge is one billed obligation for a unit. Amount fields are mutated
// only by the allocation engine and the late-fee engine; charges are
// never deleted.
type Charge struct {
	ID               int64
	OrganizationID   int64
	AssociationID    int64
	UnitID           int64
	AssessmentTypeID int64
	PeriodStart      time.Time
	PeriodEnd        time.Time
	ChargeDate       time.Time
	DueDate          time.Time
	Amount           decimal.Decimal
	LateFeeAmount    decimal.Decimal
	TotalAmount      decimal.Decimal
	PaidAmount       decimal.Decimal
	BalanceDue       decimal.Decimal
	Status           ChargeStatus
	LateFeeApplied   bool
	JournalEntryID   *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Outstanding reports whether the charge can still receive payment.
func (c Charge) Outstanding() bool {
	return c.Status == ChargeStatusBilled || c.Status == ChargeStatusPartiallyPaid
}

// PeriodFor returns the billing period containing asOf for a cadence.
func PeriodFor(freq Frequency, asOf time.Time) (start, end time.Time) {
	y, m, _ := asOf.Date()
	loc := asOf.Location()
	switch freq {
	case FrequencyQuarterly:
		qm := time.Month(((int(m)-1)/3)*3 + 1)
		start = time.Date(y, qm, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 3, -1)
	case FrequencyAnnual:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, -1)
	default:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, -1)
	}
	return start, end
}
