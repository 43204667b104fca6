package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataledger/strataledger/internal/ledger/journals"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

// JournalPort is the slice of the posting engine the billing engine needs.
type JournalPort interface {
	PostSystemEntry(ctx context.Context, scope tenant.Scope, in journals.EntryInput) (journals.Entry, error)
}

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, associationID int64, key, module string) error
}

type Service struct {
	repo        Repository
	journal     JournalPort
	audit       AuditPort
	idempotency IdempotencyPort
	now         func() time.Time
}

func NewService(repo Repository, journal JournalPort, audit AuditPort, idempotency IdempotencyPort) *Service {
	return &Service{repo: repo, journal: journal, audit: audit, idempotency: idempotency, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) GetCharge(ctx context.Context, scope tenant.Scope, id int64) (Charge, error) {
	if err := scope.Validate(); err != nil {
		return Charge{}, err
	}
	return s.repo.GetCharge(ctx, scope, id)
}

func (s *Service) ListUnitCharges(ctx context.Context, scope tenant.Scope, unitID int64) ([]Charge, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListUnitCharges(ctx, scope, unitID)
}

// GenerateCharge bills one unit for one period from an assessment type.
// The charge and the revenue-recognition entry are linked through the
// entry's source reference.
func (s *Service) GenerateCharge(ctx context.Context, scope tenant.Scope, unitID, assessmentTypeID int64, periodStart, periodEnd time.Time) (Charge, error) {
	if err := scope.Validate(); err != nil {
		return Charge{}, err
	}
	if unitID == 0 {
		return Charge{}, errors.New("billing: unit id required")
	}
	if periodStart.IsZero() || periodEnd.Before(periodStart) {
		return Charge{}, errors.New("billing: invalid billing period")
	}
	assessment, err := s.repo.GetAssessmentType(ctx, scope, assessmentTypeID)
	if err != nil {
		return Charge{}, err
	}
	if !assessment.DefaultAmount.IsPositive() {
		return Charge{}, errors.New("billing: assessment type has no billable amount")
	}
	chargeDate := s.now()
	var charge Charge
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.ChargeExists(ctx, scope, unitID, assessmentTypeID, periodStart)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCharge
		}
		inserted, err := tx.InsertCharge(ctx, scope, Charge{
			UnitID:           unitID,
			AssessmentTypeID: assessmentTypeID,
			PeriodStart:      periodStart,
			PeriodEnd:        periodEnd,
			ChargeDate:       chargeDate,
			DueDate:          chargeDate.AddDate(0, 0, assessment.DueDays),
			Amount:           assessment.DefaultAmount,
			LateFeeAmount:    decimal.Zero,
			TotalAmount:      assessment.DefaultAmount,
			PaidAmount:       decimal.Zero,
			BalanceDue:       assessment.DefaultAmount,
			Status:           ChargeStatusBilled,
		})
		if err != nil {
			return err
		}
		charge = inserted
		return nil
	})
	if err != nil {
		return Charge{}, err
	}

	entry, err := s.journal.PostSystemEntry(ctx, scope, journals.EntryInput{
		Date:   chargeDate,
		Memo:   fmt.Sprintf("Assessment %s unit %d", assessment.Name, unitID),
		Source: journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID},
		Lines: []journals.LineInput{
			{AccountID: assessment.ReceivableAccountID, Debit: charge.Amount, Reference: &journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID}},
			{AccountID: assessment.RevenueAccountID, Credit: charge.Amount, Reference: &journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID}},
		},
	})
	if err != nil {
		return Charge{}, fmt.Errorf("billing: post charge entry: %w", err)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetChargeJournalEntry(ctx, scope, charge.ID, entry.ID)
	})
	if err != nil {
		return Charge{}, err
	}
	charge.JournalEntryID = &entry.ID

	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "charge.generate",
			Entity:         "assessment_charge",
			EntityID:       fmt.Sprintf("%d", charge.ID),
			Meta:           map[string]any{"unit_id": unitID, "amount": charge.Amount.String(), "entry_id": entry.ID},
			At:             s.now(),
		})
	}
	return charge, nil
}

// CycleResult summarises one billing run.
type CycleResult struct {
	Generated  int
	Skipped    int
	AlreadyRan bool
}

// RunBillingCycle bills every unit for every active recurring assessment
// type whose period contains asOf. Safe under at-least-once scheduling:
// the run is keyed in the idempotency store and individual duplicates
// are skipped.
func (s *Service) RunBillingCycle(ctx context.Context, scope tenant.Scope, asOf time.Time) (CycleResult, error) {
	if err := scope.Validate(); err != nil {
		return CycleResult{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	if s.idempotency != nil {
		key := fmt.Sprintf("cycle:%s", asOf.Format("2006-01-02"))
		if err := s.idempotency.CheckAndInsert(ctx, scope.AssociationID, key, "billing"); err != nil {
			if errors.Is(err, internalShared.ErrIdempotencyConflict) {
				return CycleResult{AlreadyRan: true}, nil
			}
			return CycleResult{}, err
		}
	}
	types, err := s.repo.ListActiveAssessmentTypes(ctx, scope)
	if err != nil {
		return CycleResult{}, err
	}
	units, err := s.repo.ListUnits(ctx, scope)
	if err != nil {
		return CycleResult{}, err
	}
	var result CycleResult
	for _, assessment := range types {
		if assessment.Frequency == FrequencySpecial {
			continue
		}
		start, end := PeriodFor(assessment.Frequency, asOf)
		for _, unitID := range units {
			_, err := s.GenerateCharge(ctx, scope, unitID, assessment.ID, start, end)
			if err != nil {
				if errors.Is(err, ErrDuplicateCharge) {
					result.Skipped++
					continue
				}
				return result, err
			}
			result.Generated++
		}
	}
	return result, nil
}

// ApplyLateFee assesses the template's late fee on an overdue charge.
// Exactly-once: the LateFeeApplied flag makes a repeat call a no-op that
// returns the charge unchanged.
func (s *Service) ApplyLateFee(ctx context.Context, scope tenant.Scope, chargeID int64) (Charge, error) {
	if err := scope.Validate(); err != nil {
		return Charge{}, err
	}
	var (
		charge     Charge
		assessment AssessmentType
		applied    bool
		fee        decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetChargeForUpdate(ctx, scope, chargeID)
		if err != nil {
			return err
		}
		if current.LateFeeApplied {
			charge = current
			return nil
		}
		if !current.Outstanding() {
			return ErrChargeNotOpen
		}
		assessment, err = tx.GetAssessmentType(ctx, scope, current.AssessmentTypeID)
		if err != nil {
			return err
		}
		grace := current.DueDate.AddDate(0, 0, assessment.GracePeriodDays)
		if !s.now().After(grace) {
			return ErrNotYetOverdue
		}
		fee = assessment.LateFeeFor(current.TotalAmount)
		if !fee.IsPositive() {
			return ErrNoLateFeeRule
		}
		current.LateFeeAmount = fee
		current.TotalAmount = current.Amount.Add(fee)
		current.BalanceDue = current.TotalAmount.Sub(current.PaidAmount)
		current.LateFeeApplied = true
		if err := tx.UpdateChargeAmounts(ctx, scope, current); err != nil {
			return err
		}
		charge = current
		applied = true
		return nil
	})
	if err != nil {
		return Charge{}, err
	}
	if !applied {
		return charge, nil
	}

	feeAccount := assessment.RevenueAccountID
	if assessment.LateFeeAccountID != nil {
		feeAccount = *assessment.LateFeeAccountID
	}
	_, err = s.journal.PostSystemEntry(ctx, scope, journals.EntryInput{
		Date:   s.now(),
		Memo:   fmt.Sprintf("Late fee on charge %d", charge.ID),
		Source: journals.SourceRef{Kind: journals.SourceLateFee, ID: charge.ID},
		Lines: []journals.LineInput{
			{AccountID: assessment.ReceivableAccountID, Debit: fee, Reference: &journals.SourceRef{Kind: journals.SourceLateFee, ID: charge.ID}},
			{AccountID: feeAccount, Credit: fee, Reference: &journals.SourceRef{Kind: journals.SourceLateFee, ID: charge.ID}},
		},
	})
	if err != nil {
		return Charge{}, fmt.Errorf("billing: post late fee entry: %w", err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "charge.late_fee",
			Entity:         "assessment_charge",
			EntityID:       fmt.Sprintf("%d", charge.ID),
			Meta:           map[string]any{"fee": fee.String()},
			At:             s.now(),
		})
	}
	return charge, nil
}

// ScanLateFees applies late fees to every eligible charge. Batch entry
// point for the scheduled job.
func (s *Service) ScanLateFees(ctx context.Context, scope tenant.Scope, asOf time.Time) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	ids, err := s.repo.ListLateFeeCandidates(ctx, scope, asOf)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, id := range ids {
		if _, err := s.ApplyLateFee(ctx, scope, id); err != nil {
			if errors.Is(err, ErrNotYetOverdue) || errors.Is(err, ErrNoLateFeeRule) || errors.Is(err, ErrChargeNotOpen) {
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// WriteOffCharge closes an uncollectible charge with a contra entry.
func (s *Service) WriteOffCharge(ctx context.Context, scope tenant.Scope, chargeID int64, reason string) (Charge, error) {
	return s.closeCharge(ctx, scope, chargeID, ChargeStatusWrittenOff, reason)
}

// CreditCharge cancels a charge that should not have been billed.
func (s *Service) CreditCharge(ctx context.Context, scope tenant.Scope, chargeID int64, reason string) (Charge, error) {
	return s.closeCharge(ctx, scope, chargeID, ChargeStatusCredited, reason)
}

// VoidChargeBilling marks a charge credited after its billing entry was
// reversed. Unlike CreditCharge it posts nothing; the ledger side is
// already undone.
func (s *Service) VoidChargeBilling(ctx context.Context, scope tenant.Scope, chargeID int64) (Charge, error) {
	if err := scope.Validate(); err != nil {
		return Charge{}, err
	}
	var charge Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetChargeForUpdate(ctx, scope, chargeID)
		if err != nil {
			return err
		}
		if !current.Outstanding() {
			return ErrChargeNotOpen
		}
		current.TotalAmount = current.PaidAmount
		current.BalanceDue = decimal.Zero
		current.Status = ChargeStatusCredited
		if err := tx.UpdateChargeAmounts(ctx, scope, current); err != nil {
			return err
		}
		charge = current
		return nil
	})
	if err != nil {
		return Charge{}, err
	}
	return charge, nil
}

// RemoveLateFee backs a late fee out of a charge after its fee entry was
// reversed. The flag resets so the fee can be reassessed if the charge
// stays overdue.
func (s *Service) RemoveLateFee(ctx context.Context, scope tenant.Scope, chargeID int64) (Charge, error) {
	if err := scope.Validate(); err != nil {
		return Charge{}, err
	}
	var charge Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetChargeForUpdate(ctx, scope, chargeID)
		if err != nil {
			return err
		}
		if !current.LateFeeApplied {
			charge = current
			return nil
		}
		// Payments that already cover the fee would drive the balance
		// negative; they have to be unapplied first.
		if current.PaidAmount.GreaterThan(current.TotalAmount.Sub(current.LateFeeAmount)) {
			return ErrLateFeeCollected
		}
		current.TotalAmount = current.TotalAmount.Sub(current.LateFeeAmount)
		current.BalanceDue = current.TotalAmount.Sub(current.PaidAmount)
		current.LateFeeAmount = decimal.Zero
		current.LateFeeApplied = false
		if current.Outstanding() && !current.BalanceDue.IsPositive() {
			current.Status = ChargeStatusPaid
		}
		if err := tx.UpdateChargeAmounts(ctx, scope, current); err != nil {
			return err
		}
		charge = current
		return nil
	})
	if err != nil {
		return Charge{}, err
	}
	return charge, nil
}

func (s *Service) closeCharge(ctx context.Context, scope tenant.Scope, chargeID int64, status ChargeStatus, reason string) (Charge, error) {
	if err := scope.Validate(); err != nil {
		return Charge{}, err
	}
	var (
		charge     Charge
		assessment AssessmentType
		forgiven   decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetChargeForUpdate(ctx, scope, chargeID)
		if err != nil {
			return err
		}
		if !current.Outstanding() {
			return ErrChargeNotOpen
		}
		assessment, err = tx.GetAssessmentType(ctx, scope, current.AssessmentTypeID)
		if err != nil {
			return err
		}
		forgiven = current.BalanceDue
		current.TotalAmount = current.PaidAmount
		current.BalanceDue = decimal.Zero
		current.Status = status
		if err := tx.UpdateChargeAmounts(ctx, scope, current); err != nil {
			return err
		}
		charge = current
		return nil
	})
	if err != nil {
		return Charge{}, err
	}
	if forgiven.IsPositive() {
		_, err = s.journal.PostSystemEntry(ctx, scope, journals.EntryInput{
			Date:   s.now(),
			Memo:   fmt.Sprintf("%s charge %d: %s", status, charge.ID, reason),
			Source: journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID},
			Lines: []journals.LineInput{
				{AccountID: assessment.RevenueAccountID, Debit: forgiven, Reference: &journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID}},
				{AccountID: assessment.ReceivableAccountID, Credit: forgiven, Reference: &journals.SourceRef{Kind: journals.SourceCharge, ID: charge.ID}},
			},
		})
		if err != nil {
			return Charge{}, fmt.Errorf("billing: post adjustment entry: %w", err)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "charge.close",
			Entity:         "assessment_charge",
			EntityID:       fmt.Sprintf("%d", chargeID),
			Meta:           map[string]any{"status": status, "reason": reason, "forgiven": forgiven.String()},
			At:             s.now(),
		})
	}
	return charge, nil
}
