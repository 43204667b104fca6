package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrDuplicateEntryNumber indicates entry number reuse within the tenant.
	ErrDuplicateEntryNumber = errors.New("ledger: entry number already used")
	// ErrInvalidStatus indicates action can't proceed from the current status.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrNotPosted indicates the entry is not in POSTED status.
	ErrNotPosted = errors.New("ledger: entry is not posted")
	// ErrAlreadyReversed indicates the entry already has a reversal.
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
	// ErrReversalOfReversal indicates an attempt to reverse a reversing entry.
	ErrReversalOfReversal = errors.New("ledger: cannot reverse a reversal entry")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrDuplicateAccount indicates account code reuse within the tenant.
	ErrDuplicateAccount = errors.New("ledger: account code already used")
	// ErrAccountInactive indicates the account is deactivated.
	ErrAccountInactive = errors.New("ledger: account is inactive")
	// ErrAccountHasBalance indicates deactivation of an account holding value.
	ErrAccountHasBalance = errors.New("ledger: account has a non-zero balance")
	// ErrAccountHasChildren indicates the account still parents active accounts.
	ErrAccountHasChildren = errors.New("ledger: account has child accounts")
	// ErrSystemAccount protects seeded accounts.
	ErrSystemAccount = errors.New("ledger: system account cannot be modified")
	// ErrAccountFrozen blocks postings until balance drift is reconciled.
	ErrAccountFrozen = errors.New("ledger: account frozen pending reconciliation")
	// ErrBalanceDrift indicates cache and recomputed balance disagree.
	ErrBalanceDrift = errors.New("ledger: cached balance diverges from posted lines")
)
