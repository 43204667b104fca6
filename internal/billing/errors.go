package billing

import "errors"

var (
	// ErrUnknownAssessmentType indicates a missing or foreign template.
	ErrUnknownAssessmentType = errors.New("billing: assessment type not found")
	// ErrDuplicateCharge indicates the unit is already billed for the period.
	ErrDuplicateCharge = errors.New("billing: charge already exists for unit and period")
	// ErrChargeNotFound indicates a missing charge.
	ErrChargeNotFound = errors.New("billing: charge not found")
	// ErrNotYetOverdue indicates the grace period has not elapsed.
	ErrNotYetOverdue = errors.New("billing: charge is not past its grace period")
	// ErrChargeNotOpen indicates the charge cannot take the operation in
	// its current status.
	ErrChargeNotOpen = errors.New("billing: charge is not open")
	// ErrNoLateFeeRule indicates the template configures no late fee.
	ErrNoLateFeeRule = errors.New("billing: assessment type has no late fee rule")
	// ErrLateFeeCollected indicates payments already cover the fee; they
	// must be unapplied before the fee can come off the charge.
	ErrLateFeeCollected = errors.New("billing: late fee is covered by payments")
)
