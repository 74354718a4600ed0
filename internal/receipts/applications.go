package receipts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

func newApplication(kind types.ApplicationKind, receiptIDs []string, applicant string, at time.Time) *types.Application {
	return &types.Application{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Kind:        kind,
		ReceiptIDs:  append([]string(nil), receiptIDs...),
		Status:      types.ApplicationPending,
		Applicant:   applicant,
		SubmittedAt: at,
		UpdatedAt:   at,
	}
}

// submit claims the pending slot of every receipt a names. A receipt that
// already has a pending application yields a StateConflictError.
func (s *Service) submit(ctx context.Context, a *types.Application) error {
	if err := s.store.CreateApplication(ctx, a); err != nil {
		return s.storeErr(err, nil)
	}
	entries := make([]types.AuditEntry, len(a.ReceiptIDs))
	for i, id := range a.ReceiptIDs {
		entries[i] = applicationAudit(a, id, a.Applicant, "submitted", a.SubmittedAt)
	}
	if err := s.store.AppendAudit(ctx, entries...); err != nil {
		s.logger.Warn("audit append failed", zap.String("application_id", a.ID), zap.Error(err))
	}
	s.logger.Info("application submitted",
		zap.String("application_id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.Strings("receipt_ids", a.ReceiptIDs),
	)
	return nil
}

func applicationAudit(a *types.Application, receiptID, actor, reason string, at time.Time) types.AuditEntry {
	return types.AuditEntry{
		ReceiptID:     receiptID,
		ApplicationID: a.ID,
		Action:        types.AuditApplication,
		Actor:         actor,
		Reason:        string(a.Kind) + " " + reason,
		At:            at,
	}
}

// markReviewed records the reviewer of an approved application that is
// about to execute. The application stays PENDING, and keeps its receipts'
// pending slots, until execution settles it.
func markReviewed(a *types.Application, reviewer, note string, at time.Time) {
	a.Reviewer = reviewer
	a.ReviewNote = note
	t := at
	a.ReviewedAt = &t
	a.UpdatedAt = at
}

// settle closes an executed application with the ledger outcome.
func settle(a *types.Application, out outcome, at time.Time) error {
	status := types.ApplicationApproved
	if !out.ok() {
		status = types.ApplicationFailed
	}
	reviewedAt := at
	if a.ReviewedAt != nil {
		reviewedAt = *a.ReviewedAt
	}
	if err := a.Decide(status, a.Reviewer, a.ReviewNote, reviewedAt); err != nil {
		return err
	}
	a.UpdatedAt = at
	a.TxRef, a.BlockRef = out.txRef, out.blockRef
	if !out.ok() {
		a.FailedReason = out.failure.Step + ": " + out.failure.Reason
	}
	return nil
}

// authorizeReview checks that actor may decide applications of a's kind on
// rs. Freeze applications are reviewed by administrators; the rest by the
// warehouse holding the goods.
func (s *Service) authorizeReview(ctx context.Context, actor string, a *types.Application, rs []*types.Receipt) error {
	if a.Kind == types.KindFreeze {
		if !s.authz.IsAdministrator(ctx, actor) {
			return types.NewPermissionError(actor, types.ActionReview, "only administrators review freeze applications")
		}
		return nil
	}
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		if seen[r.Warehouse.ID] {
			continue
		}
		seen[r.Warehouse.ID] = true
		if err := s.authz.CheckApprovalPermission(ctx, actor, r.Warehouse.ID); err != nil {
			return err
		}
	}
	return nil
}

// rejectApplication closes a pending application as REJECTED. The receipts
// it names are not touched apart from their pending slots.
func (s *Service) rejectApplication(ctx context.Context, req ReviewRequest, kind types.ApplicationKind) (Result, error) {
	a, err := s.loadApplication(ctx, req.ApplicationID, kind)
	if err != nil {
		return Result{}, err
	}
	if err := pendingOnly(a); err != nil {
		return Result{}, err
	}
	var res Result
	err = s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err := s.loadApplication(ctx, req.ApplicationID, kind)
		if err != nil {
			return err
		}
		if err := pendingOnly(a); err != nil {
			return err
		}
		rs, err := s.store.GetReceipts(ctx, a.ReceiptIDs)
		if err != nil {
			return err
		}
		if err := s.authorizeReview(ctx, req.Actor, a, rs); err != nil {
			return err
		}
		if inFlight(rs) {
			return &types.StateConflictError{Current: rs[0].Status(), Reason: "application " + a.ID + " is already executing"}
		}
		now := s.now()
		if err := a.Decide(types.ApplicationRejected, req.Actor, req.Note, now); err != nil {
			return err
		}
		b := &batch{}
		b.cs.Applications = []*types.Application{a}
		for _, r := range rs {
			b.audit(applicationAudit(a, r.ID, req.Actor, "rejected", now))
		}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(rs[0]).withApplication(a)
		if kind == types.KindMerge {
			res.ReceiptID = ""
			res.SourceIDs = a.ReceiptIDs
		}
		return nil
	})
	return res, err
}

// inFlight reports whether any receipt is owned by a running structural
// execution, which only its own finalize may settle.
func inFlight(rs []*types.Receipt) bool {
	for _, r := range rs {
		switch r.Status() {
		case types.StatusSplitting, types.StatusMerging, types.StatusCancelling:
			return true
		}
	}
	return false
}
