package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/journals"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

// JournalPort is the slice of the posting engine the allocation engine needs.
type JournalPort interface {
	PostSystemEntry(ctx context.Context, scope tenant.Scope, in journals.EntryInput) (journals.Entry, error)
}

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type Service struct {
	repo    Repository
	journal JournalPort
	audit   AuditPort
	now     func() time.Time
}

func NewService(repo Repository, journal JournalPort, audit AuditPort) *Service {
	return &Service{repo: repo, journal: journal, audit: audit, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) GetPayment(ctx context.Context, scope tenant.Scope, id int64) (Payment, error) {
	if err := scope.Validate(); err != nil {
		return Payment{}, err
	}
	return s.repo.GetPayment(ctx, scope, id)
}

func (s *Service) ListPayments(ctx context.Context, scope tenant.Scope) ([]Payment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, scope)
}

func (s *Service) ListApplications(ctx context.Context, scope tenant.Scope, paymentID int64) ([]Application, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListApplications(ctx, scope, paymentID)
}

// RecordInput captures a payment receipt.
type RecordInput struct {
	UnitID           int64           `validate:"required"`
	Amount           decimal.Decimal `validate:"required"`
	Method           string          `validate:"required,oneof=CHECK ACH CARD CASH WIRE"`
	Reference        string          `validate:"max=64"`
	DepositAccountID int64           `validate:"required"`
	ReceivedAt       time.Time
}

// RecordPayment stores a received payment. No ledger activity happens
// until the payment is applied.
func (s *Service) RecordPayment(ctx context.Context, scope tenant.Scope, in RecordInput) (Payment, error) {
	if err := scope.Validate(); err != nil {
		return Payment{}, err
	}
	if !in.Amount.IsPositive() {
		return Payment{}, errors.New("payments: amount must be positive")
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	reference := in.Reference
	if reference == "" {
		// Cash and card receipts arrive without a bank reference.
		reference = uuid.NewString()
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertPayment(ctx, scope, Payment{
			UnitID:           in.UnitID,
			Amount:           in.Amount,
			AppliedAmount:    decimal.Zero,
			UnappliedAmount:  in.Amount,
			Status:           PaymentStatusPending,
			Method:           in.Method,
			Reference:        reference,
			DepositAccountID: in.DepositAccountID,
			ReceivedAt:       receivedAt,
		})
		if err != nil {
			return err
		}
		payment = inserted
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "payment.record",
			Entity:         "payment",
			EntityID:       fmt.Sprintf("%d", payment.ID),
			Meta:           map[string]any{"unit_id": in.UnitID, "amount": in.Amount.String(), "method": in.Method},
			At:             s.now(),
		})
	}
	return payment, nil
}

// ApplyPayment allocates a payment's unapplied balance across the
// payer's outstanding charges, oldest due date first. Passing explicit
// charge IDs overrides the default ordering. A fully applied payment is
// a no-op that returns the existing allocation.
func (s *Service) ApplyPayment(ctx context.Context, scope tenant.Scope, paymentID int64, chargeIDs []int64) (AllocationResult, error) {
	if err := scope.Validate(); err != nil {
		return AllocationResult{}, err
	}
	var (
		result  AllocationResult
		payment Payment
		noop    bool
		credits []journals.LineInput
	)
	appliedAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPaymentForUpdate(ctx, scope, paymentID)
		if err != nil {
			return err
		}
		if !current.Applicable() {
			return ErrPaymentNotApplicable
		}
		if current.UnappliedAmount.IsZero() {
			existing, err := tx.ListApplications(ctx, scope, paymentID)
			if err != nil {
				return err
			}
			result = AllocationResult{
				Applications:    existing,
				AppliedTotal:    current.AppliedAmount,
				UnappliedAmount: current.UnappliedAmount,
				JournalEntryID:  current.JournalEntryID,
			}
			noop = true
			return nil
		}

		targets, err := s.allocationTargets(ctx, tx, scope, current.UnitID, chargeIDs)
		if err != nil {
			return err
		}

		remaining := current.UnappliedAmount
		for _, target := range targets {
			if remaining.IsZero() {
				break
			}
			if !target.Outstanding() || !target.BalanceDue.IsPositive() {
				continue
			}
			alloc := decimal.Min(remaining, target.BalanceDue)
			app, err := tx.InsertApplication(ctx, scope, Application{
				PaymentID: current.ID,
				ChargeID:  target.Charge.ID,
				Amount:    alloc,
				AppliedAt: appliedAt,
			})
			if err != nil {
				return err
			}
			charge := target.Charge
			charge.PaidAmount = charge.PaidAmount.Add(alloc)
			charge.BalanceDue = charge.BalanceDue.Sub(alloc)
			if charge.BalanceDue.IsZero() {
				charge.Status = billing.ChargeStatusPaid
			} else {
				charge.Status = billing.ChargeStatusPartiallyPaid
			}
			if err := tx.UpdateChargePayment(ctx, scope, charge); err != nil {
				return err
			}
			remaining = remaining.Sub(alloc)
			result.Applications = append(result.Applications, app)
			credits = append(credits, journals.LineInput{
				AccountID: target.ReceivableAccountID,
				Credit:    alloc,
				Reference: &journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID},
			})
		}
		if len(result.Applications) == 0 {
			return ErrNoEligibleCharges
		}

		applied := current.UnappliedAmount.Sub(remaining)
		current.AppliedAmount = current.AppliedAmount.Add(applied)
		current.UnappliedAmount = remaining
		if err := tx.UpdatePaymentAmounts(ctx, scope, current); err != nil {
			return err
		}
		payment = current
		result.AppliedTotal = applied
		result.UnappliedAmount = remaining
		return nil
	})
	if err != nil {
		return AllocationResult{}, err
	}
	if noop {
		return result, nil
	}

	lines := make([]journals.LineInput, 0, len(credits)+1)
	lines = append(lines, journals.LineInput{
		AccountID: payment.DepositAccountID,
		Debit:     result.AppliedTotal,
		Reference: &journals.SourceRef{Kind: journals.SourcePayment, ID: payment.ID},
	})
	lines = append(lines, credits...)
	entry, err := s.journal.PostSystemEntry(ctx, scope, journals.EntryInput{
		Date:   appliedAt,
		Memo:   fmt.Sprintf("Payment %d applied to unit %d", payment.ID, payment.UnitID),
		Source: journals.SourceRef{Kind: journals.SourcePayment, ID: payment.ID},
		Lines:  lines,
	})
	if err != nil {
		return AllocationResult{}, fmt.Errorf("payments: post allocation entry: %w", err)
	}
	appIDs := make([]int64, len(result.Applications))
	for i, app := range result.Applications {
		appIDs[i] = app.ID
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetPaymentJournalEntry(ctx, scope, payment.ID, entry.ID); err != nil {
			return err
		}
		return tx.SetApplicationsJournalEntry(ctx, scope, appIDs, entry.ID)
	})
	if err != nil {
		return AllocationResult{}, err
	}
	result.JournalEntryID = &entry.ID
	for i := range result.Applications {
		result.Applications[i].JournalEntryID = &entry.ID
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "payment.apply",
			Entity:         "payment",
			EntityID:       fmt.Sprintf("%d", payment.ID),
			Meta:           map[string]any{"applied": result.AppliedTotal.String(), "applications": len(result.Applications), "entry_id": entry.ID},
			At:             s.now(),
		})
	}
	return result, nil
}

// allocationTargets loads charges to allocate against: the caller's
// explicit list in the given order, or all outstanding charges for the
// payer's unit oldest due date first.
func (s *Service) allocationTargets(ctx context.Context, tx TxRepository, scope tenant.Scope, unitID int64, chargeIDs []int64) ([]AllocTarget, error) {
	if len(chargeIDs) == 0 {
		return tx.ListOutstandingCharges(ctx, scope, unitID)
	}
	targets := make([]AllocTarget, 0, len(chargeIDs))
	for _, id := range chargeIDs {
		target, err := tx.GetChargeForUpdate(ctx, scope, id)
		if err != nil {
			return nil, err
		}
		if !target.Outstanding() {
			return nil, billing.ErrChargeNotOpen
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// UnapplyPayment backs one application out: the charge reopens, the
// payment's unapplied balance grows, and the ledger entry that recorded
// the allocation is reversed by the caller through the reversal
// subsystem when one exists.
func (s *Service) UnapplyPayment(ctx context.Context, scope tenant.Scope, applicationID int64) (Payment, error) {
	if err := scope.Validate(); err != nil {
		return Payment{}, err
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		app, err := tx.GetApplicationForUpdate(ctx, scope, applicationID)
		if err != nil {
			return err
		}
		if app.ReversedAt != nil {
			return ErrApplicationReversed
		}
		current, err := tx.GetPaymentForUpdate(ctx, scope, app.PaymentID)
		if err != nil {
			return err
		}
		target, err := tx.GetChargeForUpdate(ctx, scope, app.ChargeID)
		if err != nil {
			return err
		}
		charge := target.Charge
		// A written-off or credited charge had its total clamped to the
		// paid amount at close; reopening it here would fabricate a
		// balance that no longer reflects the original obligation.
		if !charge.Outstanding() && charge.Status != billing.ChargeStatusPaid {
			return billing.ErrChargeNotOpen
		}
		charge.PaidAmount = charge.PaidAmount.Sub(app.Amount)
		charge.BalanceDue = charge.BalanceDue.Add(app.Amount)
		if charge.PaidAmount.IsPositive() {
			charge.Status = billing.ChargeStatusPartiallyPaid
		} else {
			charge.Status = billing.ChargeStatusBilled
		}
		if err := tx.UpdateChargePayment(ctx, scope, charge); err != nil {
			return err
		}
		if err := tx.MarkApplicationReversed(ctx, scope, app.ID, s.now()); err != nil {
			return err
		}
		current.AppliedAmount = current.AppliedAmount.Sub(app.Amount)
		current.UnappliedAmount = current.UnappliedAmount.Add(app.Amount)
		if err := tx.UpdatePaymentAmounts(ctx, scope, current); err != nil {
			return err
		}
		payment = current
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "payment.unapply",
			Entity:         "payment_application",
			EntityID:       fmt.Sprintf("%d", applicationID),
			Meta:           map[string]any{"payment_id": payment.ID},
			At:             s.now(),
		})
	}
	return payment, nil
}

// ReopenApplicationsForEntry backs out every live application recorded
// by the given journal entry. The reversal subsystem calls this after
// reversing a payment allocation entry.
func (s *Service) ReopenApplicationsForEntry(ctx context.Context, scope tenant.Scope, entryID int64) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	reopened := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		apps, err := tx.ListApplicationsByEntry(ctx, scope, entryID)
		if err != nil {
			return err
		}
		for _, app := range apps {
			if app.ReversedAt != nil {
				continue
			}
			current, err := tx.GetPaymentForUpdate(ctx, scope, app.PaymentID)
			if err != nil {
				return err
			}
			target, err := tx.GetChargeForUpdate(ctx, scope, app.ChargeID)
			if err != nil {
				return err
			}
			charge := target.Charge
			// Same rule as UnapplyPayment: closed charges stay closed.
			if !charge.Outstanding() && charge.Status != billing.ChargeStatusPaid {
				return billing.ErrChargeNotOpen
			}
			charge.PaidAmount = charge.PaidAmount.Sub(app.Amount)
			charge.BalanceDue = charge.BalanceDue.Add(app.Amount)
			if charge.PaidAmount.IsPositive() {
				charge.Status = billing.ChargeStatusPartiallyPaid
			} else {
				charge.Status = billing.ChargeStatusBilled
			}
			if err := tx.UpdateChargePayment(ctx, scope, charge); err != nil {
				return err
			}
			if err := tx.MarkApplicationReversed(ctx, scope, app.ID, s.now()); err != nil {
				return err
			}
			current.AppliedAmount = current.AppliedAmount.Sub(app.Amount)
			current.UnappliedAmount = current.UnappliedAmount.Add(app.Amount)
			if err := tx.UpdatePaymentAmounts(ctx, scope, current); err != nil {
				return err
			}
			reopened++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reopened, nil
}

// ClearPayment marks a pending payment as settled by the bank.
func (s *Service) ClearPayment(ctx context.Context, scope tenant.Scope, paymentID int64) error {
	return s.setStatus(ctx, scope, paymentID, PaymentStatusCleared, "payment.clear", func(p Payment) error {
		if p.Status != PaymentStatusPending {
			return ErrPaymentNotApplicable
		}
		return nil
	})
}

// VoidPayment cancels a payment that was never applied.
func (s *Service) VoidPayment(ctx context.Context, scope tenant.Scope, paymentID int64) error {
	return s.setStatus(ctx, scope, paymentID, PaymentStatusVoided, "payment.void", func(p Payment) error {
		if !p.Applicable() {
			return ErrPaymentNotApplicable
		}
		if p.AppliedAmount.IsPositive() {
			return ErrPaymentHasApplications
		}
		return nil
	})
}

// BouncePayment marks a payment returned by the bank. Applications must
// be unapplied first so the charges reopen.
func (s *Service) BouncePayment(ctx context.Context, scope tenant.Scope, paymentID int64) error {
	return s.setStatus(ctx, scope, paymentID, PaymentStatusBounced, "payment.bounce", func(p Payment) error {
		if p.AppliedAmount.IsPositive() {
			return ErrPaymentHasApplications
		}
		return nil
	})
}

func (s *Service) setStatus(ctx context.Context, scope tenant.Scope, paymentID int64, status PaymentStatus, action string, check func(Payment) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPaymentForUpdate(ctx, scope, paymentID)
		if err != nil {
			return err
		}
		if err := check(current); err != nil {
			return err
		}
		return tx.UpdatePaymentStatus(ctx, scope, paymentID, status)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         action,
			Entity:         "payment",
			EntityID:       fmt.Sprintf("%d", paymentID),
			Meta:           map[string]any{"status": status},
			At:             s.now(),
		})
	}
	return nil
}
