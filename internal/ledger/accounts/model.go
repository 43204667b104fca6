package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// FundType separates operating money from reserves and special assessments.
type FundType string

const (
	FundOperating FundType = "OPERATING"
	FundReserve   FundType = "RESERVE"
	FundSpecial   FundType = "SPECIAL"
)

// Account models a chart of accounts node. CurrentBalance is a cache over
// posted journal lines; it is mutated only inside the posting transaction.
type Account struct {
	ID             int64
	OrganizationID int64
	AssociationID  int64
	Code           string
	Name           string
	Type           AccountType
	Category       string
	Fund           FundType
	ParentID       *int64
	NormalDebit    bool
	CurrentBalance decimal.Decimal
	IsActive       bool
	IsSystem       bool
	Frozen         bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Delta returns the signed balance change a debit/credit pair causes on
// this account under its normal-balance convention.
func (a Account) Delta(debit, credit decimal.Decimal) decimal.Decimal {
	if a.NormalDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// NormalDebitFor reports the conventional normal side for an account type.
func NormalDebitFor(t AccountType) bool {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return true
	default:
		return false
	}
}
