package ap

import "errors"

var (
	// ErrVendorNotFound indicates a missing vendor.
	ErrVendorNotFound = errors.New("ap: vendor not found")
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = errors.New("ap: invoice not found")
	// ErrInvalidStatus rejects an operation for the invoice's state.
	ErrInvalidStatus = errors.New("ap: invalid status for operation")
	// ErrDuplicateInvoiceNumber rejects a vendor-duplicate number.
	ErrDuplicateInvoiceNumber = errors.New("ap: duplicate invoice number")
	// ErrOverpayment rejects paying more than the open balance.
	ErrOverpayment = errors.New("ap: payment exceeds invoice balance")
)
