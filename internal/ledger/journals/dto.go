package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/shared"
)

// LineInput describes a journal line for an entry request.
type LineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Reference *SourceRef
}

// EntryInput groups fields required to create a journal entry. Balance is
// not checked here; it is re-validated at posting time.
type EntryInput struct {
	Number string
	Date   time.Time
	Memo   string
	Source SourceRef
	Lines  []LineInput
}

// Validate ensures entry input meets minimum criteria.
func (in EntryInput) Validate() error {
	if in.Number == "" {
		return errors.New("ledger: entry number required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: entry date required")
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d requires exactly one of debit or credit", idx)
		}
	}
	if in.Source.Kind == "" {
		return errors.New("ledger: source kind required")
	}
	return nil
}

// validateBalanced enforces the posting balance invariant.
func validateBalanced(lines []Line) error {
	debit, credit := Totals(lines)
	if !debit.IsPositive() || !credit.IsPositive() {
		return shared.ErrUnbalanced
	}
	if !debit.Equal(credit) {
		return shared.ErrUnbalanced
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64
	Reason  string
	Number  string
	Date    time.Time
}
