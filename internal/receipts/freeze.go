package receipts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Freeze freezes a NORMAL, PLEDGED or TRANSFERRED receipt on the
// authority named by the operator type.
func (s *Service) Freeze(ctx context.Context, req FreezeRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	op, err := types.ParseOperatorType(req.OperatorType)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = s.withLock(ctx, []string{req.ReceiptID}, func(ctx context.Context) error {
		r, err := s.load(ctx, req.ReceiptID)
		if err != nil {
			return err
		}
		if err := s.authorizeFreeze(ctx, req.Actor, op, r); err != nil {
			return err
		}
		if !r.Can(types.EventFreeze) {
			return conflict(r, types.EventFreeze, "only NORMAL, PLEDGED or TRANSFERRED receipts can be frozen")
		}
		now := s.now()
		rec := types.FreezeRecord{
			Actor:        req.Actor,
			OperatorType: op,
			Reason:       req.Reason,
			ReferenceNo:  req.ReferenceNo,
			At:           now,
		}
		b := &batch{}
		if err := b.fire(r, types.EventFreeze, types.Facts{Actor: req.Actor, At: now, Reason: req.Reason, Freeze: &rec}, ""); err != nil {
			return err
		}
		b.audit(freezeAudit(r.ID, "", rec))
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r)
		return nil
	})
	return res, err
}

// authorizeFreeze applies the operator-type rules: only the warehouse
// itself freezes as WAREHOUSE, a financier freezes what it financed, and
// platform and court freeze anything.
func (s *Service) authorizeFreeze(ctx context.Context, actor string, op types.OperatorType, r *types.Receipt) error {
	switch op {
	case types.OperatorWarehouse:
		if actor == "" || actor != r.Warehouse.ID {
			return types.NewPermissionError(actor, types.ActionFreeze, "actor does not operate warehouse "+r.Warehouse.ID)
		}
	case types.OperatorFinancier:
		ok, err := s.store.HasFinanced(ctx, r.ID, actor)
		if err != nil {
			return err
		}
		if !ok {
			return types.NewPermissionError(actor, types.ActionFreeze, "financier has not financed receipt "+r.ID)
		}
	}
	return nil
}

// SubmitFreeze files a freeze application on behalf of the warehouse. An
// administrator decides it with ReviewFreeze.
func (s *Service) SubmitFreeze(ctx context.Context, req FreezeRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	op, err := types.ParseOperatorType(req.OperatorType)
	if err != nil {
		return Result{}, err
	}
	r, err := s.load(ctx, req.ReceiptID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authz.CheckApprovalPermission(ctx, req.Actor, r.Warehouse.ID); err != nil {
		return Result{}, err
	}
	if !r.Can(types.EventFreeze) {
		return Result{}, conflict(r, types.EventFreeze, "only NORMAL, PLEDGED or TRANSFERRED receipts can be frozen")
	}
	a := newApplication(types.KindFreeze, []string{r.ID}, req.Actor, s.now())
	a.Freeze = &types.FreezePayload{OperatorType: op, Reason: req.Reason, ReferenceNo: req.ReferenceNo}
	if err := s.submit(ctx, a); err != nil {
		return Result{}, err
	}
	return resultFor(r).withApplication(a), nil
}

// ReviewFreeze lets an administrator decide a freeze application. Approval
// re-checks the receipt, writes the freeze to the ledger, and only then
// freezes the receipt locally. If the receipt drifted out of a freezable
// state before the ledger call the application stays pending; if it
// drifted during the call the application fails and the committed
// transaction is recorded on it and in the audit trail.
func (s *Service) ReviewFreeze(ctx context.Context, req ReviewRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	if !s.authz.IsAdministrator(ctx, req.Actor) {
		return Result{}, types.NewPermissionError(req.Actor, types.ActionReview, "only administrators review freeze applications")
	}
	if !req.Approve {
		return s.rejectApplication(ctx, req, types.KindFreeze)
	}
	a, err := s.loadApplication(ctx, req.ApplicationID, types.KindFreeze)
	if err != nil {
		return Result{}, err
	}
	if err := pendingOnly(a); err != nil {
		return Result{}, err
	}
	r, err := s.load(ctx, a.ReceiptIDs[0])
	if err != nil {
		return Result{}, err
	}
	if !r.Can(types.EventFreeze) {
		return Result{}, conflict(r, types.EventFreeze, "receipt can no longer be frozen")
	}

	log := s.logger.Named("freeze").With(zap.String("application_id", a.ID), zap.String("receipt_id", r.ID))
	out := s.confirm(ctx, log, r.ID, types.StepSubmitFreeze, func(ctx context.Context) (string, error) {
		return s.ledger.SubmitFreeze(ctx, a.ID, r.ID, a.Freeze.Reason, a.Freeze.ReferenceNo)
	})
	s.metrics.ObserveStructural(string(types.KindFreeze), out.ok())

	var res Result
	err = s.withLock(context.WithoutCancel(ctx), a.ReceiptIDs, func(ctx context.Context) error {
		a, err := s.loadApplication(ctx, req.ApplicationID, types.KindFreeze)
		if err != nil {
			return err
		}
		if err := pendingOnly(a); err != nil {
			return err
		}
		r, err := s.load(ctx, a.ReceiptIDs[0])
		if err != nil {
			return err
		}
		now := s.now()
		b := &batch{}
		if out.ok() && !r.Can(types.EventFreeze) {
			out = s.stranded(log, r, types.StepSubmitFreeze, out)
		}
		if out.ok() {
			rec := types.FreezeRecord{
				Actor:        a.Applicant,
				OperatorType: a.Freeze.OperatorType,
				Reason:       a.Freeze.Reason,
				ReferenceNo:  a.Freeze.ReferenceNo,
				TxRef:        out.txRef,
				At:           now,
			}
			f := types.Facts{Actor: req.Actor, At: now, Reason: rec.Reason, Freeze: &rec, Ledger: out.ledgerRef()}
			if err := b.fire(r, types.EventFreeze, f, a.ID); err != nil {
				return err
			}
			b.audit(freezeAudit(r.ID, a.ID, rec))
		} else {
			b.audit(failureAudit(r.ID, a.ID, req.Actor, out))
		}
		markReviewed(a, req.Actor, req.Note, now)
		if err := settle(a, out, now); err != nil {
			return err
		}
		b.cs.Applications = []*types.Application{a}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r).withApplication(a).withFailure(out.failure)
		return nil
	})
	if err != nil {
		log.Error("freeze could not be finalized", zap.Error(err))
		return Result{}, err
	}
	return res, nil
}

// Unfreeze restores a FROZEN receipt to the requested status after the
// ledger records the unfreeze. Who may unfreeze is set by the service's
// unfreeze policy.
func (s *Service) Unfreeze(ctx context.Context, req UnfreezeRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	target, ev, err := types.ParseUnfreezeTarget(req.Target)
	if err != nil {
		return Result{}, err
	}
	admin := s.authz.IsAdministrator(ctx, req.Actor)
	if s.unfreezePolicy == types.UnfreezeAdmin && !admin {
		return Result{}, types.NewPermissionError(req.Actor, types.ActionUnfreeze, "only administrators may unfreeze")
	}
	r, err := s.load(ctx, req.ReceiptID)
	if err != nil {
		return Result{}, err
	}
	fz, ok := r.State().(types.Frozen)
	if !ok {
		return Result{}, conflict(r, ev, "only FROZEN receipts can be unfrozen")
	}
	if s.unfreezePolicy == types.UnfreezeFreezer && !admin && req.Actor != fz.Freeze.Actor {
		return Result{}, types.NewPermissionError(req.Actor, types.ActionUnfreeze, "only the freezing party or an administrator may unfreeze")
	}
	financier := fz.Financier
	if target == types.StatusPledged && financier == "" {
		financier, err = s.store.LatestFinancier(ctx, r.ID)
		if errors.Is(err, types.ErrNotFound) {
			return Result{}, types.NewValidationError("target_status", "receipt has never been financed")
		}
		if err != nil {
			return Result{}, err
		}
	}

	log := s.logger.Named("freeze").With(zap.String("receipt_id", r.ID), zap.String("target", string(target)))
	out := s.confirm(ctx, log, r.ID, types.StepSubmitUnfreeze, func(ctx context.Context) (string, error) {
		return s.ledger.SubmitUnfreeze(ctx, unfreezeToken(r, target), r.ID, target)
	})
	if !out.ok() {
		if err := s.store.AppendAudit(context.WithoutCancel(ctx), failureAudit(r.ID, "", req.Actor, out)); err != nil {
			log.Warn("audit append failed", zap.Error(err))
		}
		return resultFor(r).withFailure(out.failure), nil
	}

	var res Result
	err = s.withLock(context.WithoutCancel(ctx), []string{r.ID}, func(ctx context.Context) error {
		cur, err := s.load(ctx, r.ID)
		if err != nil {
			return err
		}
		if cur.Version != r.Version {
			out = s.stranded(log, cur, types.StepSubmitUnfreeze, out)
			if err := s.store.AppendAudit(ctx, failureAudit(cur.ID, "", req.Actor, out)); err != nil {
				return err
			}
			res = resultFor(cur).withFailure(out.failure)
			return nil
		}
		now := s.now()
		b := &batch{}
		f := types.Facts{Actor: req.Actor, At: now, Financier: financier, Ledger: out.ledgerRef()}
		if err := b.fire(cur, ev, f, ""); err != nil {
			return err
		}
		b.audit(types.AuditEntry{
			ReceiptID:   cur.ID,
			Action:      types.AuditUnfreeze,
			Actor:       req.Actor,
			From:        types.StatusFrozen,
			To:          target,
			ReferenceNo: fz.Freeze.ReferenceNo,
			TxRef:       out.txRef,
			At:          now,
		})
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(cur)
		return nil
	})
	if err != nil {
		log.Error("unfreeze could not be finalized", zap.Error(err))
		return Result{}, err
	}
	return res, nil
}

// unfreezeToken keys the ledger write on the frozen version of the
// receipt, so retrying an unfreeze that did land reuses its transaction.
func unfreezeToken(r *types.Receipt, target types.Status) string {
	return fmt.Sprintf("%s/unfreeze/%d/%s", r.ID, r.Version, target)
}

func freezeAudit(receiptID, applicationID string, rec types.FreezeRecord) types.AuditEntry {
	return types.AuditEntry{
		ReceiptID:     receiptID,
		ApplicationID: applicationID,
		Action:        types.AuditFreeze,
		Actor:         rec.Actor,
		To:            types.StatusFrozen,
		Reason:        string(rec.OperatorType) + ": " + rec.Reason,
		ReferenceNo:   rec.ReferenceNo,
		TxRef:         rec.TxRef,
		At:            rec.At,
	}
}
