package payments

import "errors"

var (
	// ErrPaymentNotFound indicates a missing payment.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrPaymentNotApplicable indicates a voided/refunded/bounced payment.
	ErrPaymentNotApplicable = errors.New("payments: payment cannot be applied")
	// ErrNoEligibleCharges indicates nothing outstanding to allocate against.
	ErrNoEligibleCharges = errors.New("payments: no eligible charges")
	// ErrApplicationNotFound indicates a missing application row.
	ErrApplicationNotFound = errors.New("payments: application not found")
	// ErrApplicationReversed indicates the application was already unapplied.
	ErrApplicationReversed = errors.New("payments: application already reversed")
	// ErrPaymentHasApplications blocks voiding an applied payment.
	ErrPaymentHasApplications = errors.New("payments: payment has applications")
)
