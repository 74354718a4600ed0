package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// SubmitMerge files a merge application for 2 to 10 receipts. Sources
// that cannot be merged are rejected with a ValidationError before the
// application is written.
func (s *Service) SubmitMerge(ctx context.Context, req MergeRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	rs, err := s.store.GetReceipts(ctx, req.ReceiptIDs)
	if err != nil {
		return Result{}, err
	}
	if err := mergeable(rs); err != nil {
		return Result{}, err
	}
	if err := s.authz.CheckHolderPermission(ctx, req.Actor, rs[0].Holder.Address, types.ActionMerge); err != nil {
		return Result{}, err
	}

	a := newApplication(types.KindMerge, req.ReceiptIDs, req.Actor, s.now())
	a.Merge = &types.MergePayload{Location: req.Location}
	if err := s.submit(ctx, a); err != nil {
		return Result{}, err
	}
	return Result{Status: rs[0].Status(), SourceIDs: a.ReceiptIDs}.withApplication(a), nil
}

// ReviewMerge approves or rejects a merge application. On approval the
// sources move to MERGING, the merged record is staged, and the merge is
// submitted to the ledger.
func (s *Service) ReviewMerge(ctx context.Context, req ReviewRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	if !req.Approve {
		return s.rejectApplication(ctx, req, types.KindMerge)
	}
	a, err := s.loadApplication(ctx, req.ApplicationID, types.KindMerge)
	if err != nil {
		return Result{}, err
	}
	if err := pendingOnly(a); err != nil {
		return Result{}, err
	}

	err = s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err = s.loadApplication(ctx, req.ApplicationID, types.KindMerge)
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
		if err := mergeable(rs); err != nil {
			return err
		}

		now := s.now()
		number, err := s.numbers.unique(ctx, mergeNumberPrefix, now, s.numberTaken)
		if err != nil {
			return err
		}
		merged, err := types.NewDerivedReceipt(types.Derivation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Number:    number,
			Owner:     rs[0].Owner,
			Warehouse: rs[0].Warehouse,
			Holder:    rs[0].Holder,
			Goods:     mergedGoods(rs, a.Merge.Location),
			SourceIDs: a.ReceiptIDs,
			CreatedBy: req.Actor,
			At:        now,
		})
		if err != nil {
			return err
		}

		b := &batch{}
		f := types.Facts{Actor: req.Actor, At: now, ApplicationID: a.ID, MergedID: merged.ID}
		for _, r := range rs {
			if err := b.fire(r, types.EventMergeApproved, f, a.ID); err != nil {
				return err
			}
			b.audit(applicationAudit(a, r.ID, req.Actor, "approved", now))
		}
		b.cs.Stage = []*types.Receipt{merged}
		b.cs.StageFor = a.ID
		markReviewed(a, req.Actor, req.Note, now)
		b.cs.Applications = []*types.Application{a}
		return s.apply(ctx, b)
	})
	if err != nil {
		return Result{}, err
	}
	return s.executeMerge(ctx, req.Actor, a)
}

// executeMerge submits an approved merge and finalizes it.
func (s *Service) executeMerge(ctx context.Context, actor string, a *types.Application) (Result, error) {
	rs, err := s.store.GetReceipts(ctx, a.ReceiptIDs)
	if err != nil {
		return Result{}, err
	}
	mergedID, err := mergingInto(rs, a.ID)
	if err != nil {
		return Result{}, err
	}
	log := s.logger.Named("merge").With(zap.String("application_id", a.ID), zap.String("merged_id", mergedID))
	out := s.confirm(ctx, log, mergedID, types.StepSubmitMerge, func(ctx context.Context) (string, error) {
		return s.ledger.SubmitMerge(ctx, a.ID, a.ReceiptIDs, mergedID)
	})
	s.metrics.ObserveStructural(string(types.KindMerge), out.ok())
	return s.finalizeMerge(context.WithoutCancel(ctx), log, actor, a, out)
}

func (s *Service) finalizeMerge(ctx context.Context, log *zap.Logger, actor string, a *types.Application, out outcome) (Result, error) {
	var res Result
	err := s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err := s.loadApplication(ctx, a.ID, types.KindMerge)
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
		mergedID, err := mergingInto(rs, a.ID)
		if err != nil {
			return err
		}

		now := s.now()
		b := &batch{}
		f := types.Facts{Actor: actor, At: now}
		if out.ok() {
			staged, err := s.store.ListStaged(ctx, a.ID)
			if err != nil {
				return err
			}
			if len(staged) != 1 || staged[0].ID != mergedID {
				return fmt.Errorf("merge %s: staged record does not match %s", a.ID, mergedID)
			}
			merged := staged[0]
			f.Ledger = out.ledgerRef()
			b.insert(merged)
			if err := b.fire(merged, types.EventSyncConfirmed, f, a.ID); err != nil {
				return err
			}
			b.audit(types.AuditEntry{
				ReceiptID:     merged.ID,
				ApplicationID: a.ID,
				Action:        types.AuditStructuralOutput,
				Actor:         actor,
				Reason:        fmt.Sprintf("merged from %d receipts", len(rs)),
				TxRef:         out.txRef,
				At:            now,
			})
			for _, r := range rs {
				if err := b.fire(r, types.EventMergeSucceeded, f, a.ID); err != nil {
					return err
				}
			}
		} else {
			f.Reason = out.failure.Reason
			for _, r := range rs {
				if err := b.fire(r, types.EventMergeFailed, f, a.ID); err != nil {
					return err
				}
				b.audit(failureAudit(r.ID, a.ID, actor, out))
			}
		}
		if err := settle(a, out, now); err != nil {
			return err
		}
		b.cs.DiscardStaged = []string{a.ID}
		b.cs.Applications = []*types.Application{a}
		if err := s.apply(ctx, b); err != nil {
			return err
		}

		res = Result{
			Status:    rs[0].Status(),
			TxRef:     out.txRef,
			BlockRef:  out.blockRef,
			SourceIDs: a.ReceiptIDs,
			Synced:    out.ok(),
		}.withApplication(a).withFailure(out.failure)
		if out.ok() {
			res.MergedID = mergedID
		}
		return nil
	})
	if err != nil {
		log.Error("merge could not be finalized", zap.Error(err))
		return Result{}, err
	}
	return res, nil
}

// mergeable checks that rs can be merged into one receipt without changing
// what the goods are or who holds them.
func mergeable(rs []*types.Receipt) error {
	if n := len(rs); n < 2 || n > 10 {
		return types.NewValidationError("receipt_ids", fmt.Sprintf("merge needs 2 to 10 receipts, got %d", n))
	}
	first := rs[0]
	seen := make(map[string]bool, len(rs))
	for i, r := range rs {
		field := fmt.Sprintf("receipt_ids[%d]", i)
		if seen[r.ID] {
			return types.NewValidationError(field, "receipt "+r.ID+" is listed twice")
		}
		seen[r.ID] = true
		switch {
		case !r.Owner.SameAs(first.Owner):
			return types.NewValidationError(field, "all sources must have the same owner")
		case !r.Warehouse.SameAs(first.Warehouse):
			return types.NewValidationError(field, "all sources must be kept by the same warehouse")
		case !r.Holder.SameAs(first.Holder):
			return types.NewValidationError(field, "all sources must have the same holder")
		case r.Goods.Name != first.Goods.Name:
			return types.NewValidationError(field, "all sources must hold the same goods")
		case r.Goods.Unit != first.Goods.Unit:
			return types.NewValidationError(field, "all sources must use the same unit")
		case !r.Goods.UnitPrice.Equal(first.Goods.UnitPrice):
			return types.NewValidationError(field, "all sources must have the same unit price")
		}
	}
	for _, r := range rs {
		if r.Status() != types.StatusNormal {
			return conflict(r, types.EventMergeApproved, "receipt "+r.ID+" is not NORMAL")
		}
	}
	return nil
}

// mergedGoods sums the sources. The earliest storage and expiry dates carry
// over.
func mergedGoods(rs []*types.Receipt, location string) types.Goods {
	g := types.Goods{
		Name:        rs[0].Goods.Name,
		Unit:        rs[0].Goods.Unit,
		UnitPrice:   rs[0].Goods.UnitPrice,
		Quantity:    decimal.Zero,
		TotalValue:  decimal.Zero,
		Location:    location,
		StorageDate: rs[0].Goods.StorageDate,
	}
	var expiry *time.Time
	for _, r := range rs {
		g.Quantity = g.Quantity.Add(r.Goods.Quantity)
		g.TotalValue = g.TotalValue.Add(r.Goods.TotalValue)
		if r.Goods.StorageDate.Before(g.StorageDate) {
			g.StorageDate = r.Goods.StorageDate
		}
		if e := r.Goods.ExpiryDate; e != nil && (expiry == nil || e.Before(*expiry)) {
			t := *e
			expiry = &t
		}
	}
	g.ExpiryDate = expiry
	return g
}

// mergingInto returns the merged id every source is committed to under
// application applicationID.
func mergingInto(rs []*types.Receipt, applicationID string) (string, error) {
	var mergedID string
	for _, r := range rs {
		m, ok := r.State().(types.Merging)
		if !ok || m.ApplicationID != applicationID {
			return "", conflict(r, types.EventMergeSucceeded, "merge "+applicationID+" is not executing")
		}
		if mergedID != "" && m.MergedID != mergedID {
			return "", conflict(r, types.EventMergeSucceeded, "sources disagree on the merged record")
		}
		mergedID = m.MergedID
	}
	return mergedID, nil
}
