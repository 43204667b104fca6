package reversal

import (
	"context"
	"time"

	"github.com/strataledger/strataledger/internal/ap"
	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/journals"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

// JournalPort is the slice of the posting engine the coordinator needs.
type JournalPort interface {
	GetEntry(ctx context.Context, scope tenant.Scope, entryID int64) (journals.Entry, error)
	ReverseEntry(ctx context.Context, scope tenant.Scope, in journals.ReverseInput) (journals.Entry, error)
}

// BillingPort propagates ledger reversals back into charge state.
type BillingPort interface {
	VoidChargeBilling(ctx context.Context, scope tenant.Scope, chargeID int64) (billing.Charge, error)
	RemoveLateFee(ctx context.Context, scope tenant.Scope, chargeID int64) (billing.Charge, error)
}

// PaymentPort reopens the allocations a reversed entry recorded.
type PaymentPort interface {
	ReopenApplicationsForEntry(ctx context.Context, scope tenant.Scope, entryID int64) (int, error)
}

// APPort reopens a vendor invoice whose posting entry was reversed.
type APPort interface {
	ReopenInvoice(ctx context.Context, scope tenant.Scope, invoiceID int64) (ap.Invoice, error)
}

// TrailPort reads the audit trail.
type TrailPort interface {
	List(ctx context.Context, associationID int64, entity, entityID string) ([]internalShared.AuditLog, error)
}

// Result reports a coordinated reversal.
type Result struct {
	Reversal           journals.Entry
	SourceKind         journals.SourceKind
	SourceID           int64
	ApplicationsReopen int
}

// Service coordinates a ledger reversal with the business record that
// produced the entry. The ledger mirror always happens; which domain
// hook runs depends on the entry's source reference.
type Service struct {
	journal  JournalPort
	billing  BillingPort
	payments PaymentPort
	ap       APPort
	trail    TrailPort
	now      func() time.Time
}

func NewService(journal JournalPort, billing BillingPort, payments PaymentPort, ap APPort, trail TrailPort) *Service {
	return &Service{journal: journal, billing: billing, payments: payments, ap: ap, trail: trail, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ReverseBusinessEntry reverses a posted entry and unwinds the business
// state behind it. For a charge entry the charge is credited; for a
// late-fee entry the fee comes off the charge; for a payment entry every
// allocation reopens; a manual entry needs no propagation.
func (s *Service) ReverseBusinessEntry(ctx context.Context, scope tenant.Scope, entryID int64, reason string) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, err
	}
	original, err := s.journal.GetEntry(ctx, scope, entryID)
	if err != nil {
		return Result{}, err
	}
	mirror, err := s.journal.ReverseEntry(ctx, scope, journals.ReverseInput{
		EntryID: entryID,
		Reason:  reason,
		Date:    s.now(),
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Reversal:   mirror,
		SourceKind: original.Source.Kind,
		SourceID:   original.Source.ID,
	}

	switch original.Source.Kind {
	case journals.SourceCharge:
		if s.billing != nil {
			if _, err := s.billing.VoidChargeBilling(ctx, scope, original.Source.ID); err != nil {
				return result, err
			}
		}
	case journals.SourceLateFee:
		if s.billing != nil {
			if _, err := s.billing.RemoveLateFee(ctx, scope, original.Source.ID); err != nil {
				return result, err
			}
		}
	case journals.SourcePayment:
		if s.payments != nil {
			reopened, err := s.payments.ReopenApplicationsForEntry(ctx, scope, entryID)
			if err != nil {
				return result, err
			}
			result.ApplicationsReopen = reopened
		}
	case journals.SourceAPInvoice:
		if s.ap != nil {
			if _, err := s.ap.ReopenInvoice(ctx, scope, original.Source.ID); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

// Trail returns the audit history for one entity.
func (s *Service) Trail(ctx context.Context, scope tenant.Scope, entity, entityID string) ([]internalShared.AuditLog, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if s.trail == nil {
		return nil, nil
	}
	return s.trail.List(ctx, scope.AssociationID, entity, entityID)
}
