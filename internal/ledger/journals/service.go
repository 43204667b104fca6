package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strataledger/strataledger/internal/ledger/shared"
	internalShared "github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/internal/tenant"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type ApprovalPort interface {
	Record(ctx context.Context, log internalShared.ApprovalLog) error
}

type Service struct {
	repo      Repository
	audit     AuditPort
	approvals ApprovalPort
	now       func() time.Time
}

func NewService(repo Repository, audit AuditPort, approvals ApprovalPort) *Service {
	return &Service{repo: repo, audit: audit, approvals: approvals, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context, scope tenant.Scope) ([]Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope)
}

func (s *Service) GetEntry(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	return s.repo.GetEntry(ctx, scope, entryID)
}

// CreateEntry stores a DRAFT entry. The balance invariant is deferred to
// posting; per-line shape and tenant-unique numbering are enforced here.
func (s *Service) CreateEntry(ctx context.Context, scope tenant.Scope, in EntryInput) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	if in.Source.Kind == "" {
		in.Source.Kind = SourceManual
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.Number == "" {
			number, err := tx.NextEntryNumber(ctx, scope)
			if err != nil {
				return err
			}
			in.Number = number
		}
		if err := in.Validate(); err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, scope, in, StatusDraft, false, scope.ActorID)
		if err != nil {
			return err
		}
		lines, err := tx.InsertLines(ctx, inserted.ID, in.Lines)
		if err != nil {
			return err
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// SubmitForApproval routes a DRAFT entry to the approval queue.
func (s *Service) SubmitForApproval(ctx context.Context, scope tenant.Scope, entryID int64, note string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft {
			return shared.ErrInvalidStatus
		}
		return tx.UpdateEntryStatus(ctx, scope, entryID, StatusPendingApproval)
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, internalShared.ApprovalLog{
			Module:  "ledger.journal",
			RefID:   entryID,
			ActorID: scope.ActorID,
			Action:  internalShared.ApprovalSubmit,
			Note:    note,
			At:      s.now(),
		})
	}
	return nil
}

// ApproveEntry approves a pending entry and posts it in the same
// transaction.
func (s *Service) ApproveEntry(ctx context.Context, scope tenant.Scope, entryID int64, note string) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	var posted Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusPendingApproval {
			return shared.ErrInvalidStatus
		}
		if err := s.postLocked(ctx, scope, tx, &entry); err != nil {
			return err
		}
		posted = entry
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, internalShared.ApprovalLog{
			Module:  "ledger.journal",
			RefID:   entryID,
			ActorID: scope.ActorID,
			Action:  internalShared.ApprovalApprove,
			Note:    note,
			At:      s.now(),
		})
	}
	s.recordAudit(ctx, scope, "journal.post", posted)
	return posted, nil
}

// RejectEntry sends a pending entry back to draft.
func (s *Service) RejectEntry(ctx context.Context, scope tenant.Scope, entryID int64, note string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusPendingApproval {
			return shared.ErrInvalidStatus
		}
		return tx.UpdateEntryStatus(ctx, scope, entryID, StatusDraft)
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, internalShared.ApprovalLog{
			Module:  "ledger.journal",
			RefID:   entryID,
			ActorID: scope.ActorID,
			Action:  internalShared.ApprovalReject,
			Note:    note,
			At:      s.now(),
		})
	}
	return nil
}

// PostEntry makes an entry's effect durable: one atomic transaction moves
// every referenced account's cached balance and flips the status. Posting
// an already-POSTED entry is a no-op success so retried requests are safe.
func (s *Service) PostEntry(ctx context.Context, scope tenant.Scope, entryID int64) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	var posted Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope, entryID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case StatusPosted:
			posted = entry
			return nil
		case StatusReversed:
			return shared.ErrInvalidStatus
		case StatusPendingApproval:
			// Pending entries go through ApproveEntry.
			return shared.ErrInvalidStatus
		}
		if err := s.postLocked(ctx, scope, tx, &entry); err != nil {
			return err
		}
		posted = entry
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, scope, "journal.post", posted)
	return posted, nil
}

// PostSystemEntry creates and posts an entry in one transaction. Used by
// the billing, payment and AP engines; approval is skipped and the entry
// number is generated.
func (s *Service) PostSystemEntry(ctx context.Context, scope tenant.Scope, in EntryInput) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	var posted Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.Number == "" {
			number, err := tx.NextEntryNumber(ctx, scope)
			if err != nil {
				return err
			}
			in.Number = number
		}
		if in.Date.IsZero() {
			in.Date = s.now()
		}
		if err := in.Validate(); err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, scope, in, StatusDraft, false, scope.ActorID)
		if err != nil {
			return err
		}
		lines, err := tx.InsertLines(ctx, inserted.ID, in.Lines)
		if err != nil {
			return err
		}
		inserted.Lines = lines
		if err := s.postLocked(ctx, scope, tx, &inserted); err != nil {
			return err
		}
		posted = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, scope, "journal.post", posted)
	return posted, nil
}

// ReverseEntry creates and posts the exact debit/credit mirror of a
// posted entry, then links the pair. Originals are never edited; this is
// the only sanctioned undo.
func (s *Service) ReverseEntry(ctx context.Context, scope tenant.Scope, in ReverseInput) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	if in.EntryID == 0 {
		return Entry{}, errors.New("ledger: entry id required")
	}
	var reversal Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, scope, in.EntryID)
		if err != nil {
			return err
		}
		if original.Status == StatusReversed || original.ReversedByID != nil {
			return shared.ErrAlreadyReversed
		}
		if original.Status != StatusPosted {
			return shared.ErrNotPosted
		}
		if original.IsReversal {
			return shared.ErrReversalOfReversal
		}
		number := in.Number
		if number == "" {
			number, err = tx.NextEntryNumber(ctx, scope)
			if err != nil {
				return err
			}
		}
		date := in.Date
		if date.IsZero() {
			date = s.now()
		}
		posting := EntryInput{
			Number: number,
			Date:   date,
			Memo:   defaultReversalMemo(in.Reason, original.Number),
			Source: original.Source,
			Lines:  mirrorLines(original.Lines),
		}
		inserted, err := tx.InsertEntry(ctx, scope, posting, StatusDraft, true, scope.ActorID)
		if err != nil {
			return err
		}
		lines, err := tx.InsertLines(ctx, inserted.ID, posting.Lines)
		if err != nil {
			return err
		}
		inserted.Lines = lines
		if err := s.postLocked(ctx, scope, tx, &inserted); err != nil {
			return err
		}
		if err := tx.LinkReversal(ctx, scope, original.ID, inserted.ID); err != nil {
			return err
		}
		reversal = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrganizationID: scope.OrganizationID,
			AssociationID:  scope.AssociationID,
			ActorID:        scope.ActorID,
			Action:         "journal.reverse",
			Entity:         "journal_entry",
			EntityID:       fmt.Sprintf("%d", in.EntryID),
			Meta: map[string]any{
				"reversal_id":     reversal.ID,
				"reversal_number": reversal.Number,
				"reason":          in.Reason,
			},
			At: s.now(),
		})
	}
	return reversal, nil
}

// postLocked applies the balance invariant and balance-cache updates for
// an entry already locked in the current transaction.
func (s *Service) postLocked(ctx context.Context, scope tenant.Scope, tx TxRepository, entry *Entry) error {
	if err := validateBalanced(entry.Lines); err != nil {
		return err
	}
	for _, line := range entry.Lines {
		account, err := tx.GetAccountForUpdate(ctx, scope, line.AccountID)
		if err != nil {
			return err
		}
		if account.Frozen {
			return shared.ErrAccountFrozen
		}
		if !account.IsActive {
			return shared.ErrAccountInactive
		}
		delta := account.Delta(line.Debit, line.Credit)
		if err := tx.ApplyAccountDelta(ctx, scope, line.AccountID, delta); err != nil {
			return err
		}
	}
	now := s.now()
	if err := tx.MarkPosted(ctx, scope, entry.ID, now); err != nil {
		return err
	}
	entry.Status = StatusPosted
	entry.PostedAt = &now
	return nil
}

func (s *Service) recordAudit(ctx context.Context, scope tenant.Scope, action string, entry Entry) {
	if s.audit == nil || entry.ID == 0 {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		OrganizationID: scope.OrganizationID,
		AssociationID:  scope.AssociationID,
		ActorID:        scope.ActorID,
		Action:         action,
		Entity:         "journal_entry",
		EntityID:       fmt.Sprintf("%d", entry.ID),
		Meta: map[string]any{
			"number":      entry.Number,
			"source_kind": entry.Source.Kind,
			"source_id":   entry.Source.ID,
		},
		At: s.now(),
	})
}

func mirrorLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Reference: line.Reference,
		})
	}
	return out
}

func defaultReversalMemo(reason, number string) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("Reversal of %s", number)
}
