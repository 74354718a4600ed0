package receipts

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// SubmitCancel files a cancel application for a NORMAL or ONCHAIN_FAILED
// receipt.
func (s *Service) SubmitCancel(ctx context.Context, req CancelRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	kind, err := types.ParseCancelType(req.Type)
	if err != nil {
		return Result{}, err
	}
	r, err := s.load(ctx, req.ReceiptID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authz.CheckHolderPermission(ctx, req.Actor, r.Holder.Address, types.ActionCancel); err != nil {
		return Result{}, err
	}
	if err := cancellable(r); err != nil {
		return Result{}, err
	}

	a := newApplication(types.KindCancel, []string{r.ID}, req.Actor, s.now())
	a.Cancel = &types.CancelPayload{Reason: req.Reason, Type: kind}
	if err := s.submit(ctx, a); err != nil {
		return Result{}, err
	}
	return resultFor(r).withApplication(a), nil
}

// ReviewCancel approves or rejects a cancel application. An approved
// cancellation always completes; the ledger notarization that goes with it
// is best effort.
func (s *Service) ReviewCancel(ctx context.Context, req ReviewRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	if !req.Approve {
		return s.rejectApplication(ctx, req, types.KindCancel)
	}
	a, err := s.loadApplication(ctx, req.ApplicationID, types.KindCancel)
	if err != nil {
		return Result{}, err
	}
	if err := pendingOnly(a); err != nil {
		return Result{}, err
	}

	err = s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err = s.loadApplication(ctx, req.ApplicationID, types.KindCancel)
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
		if err := s.authorizeReview(ctx, req.Actor, a, []*types.Receipt{r}); err != nil {
			return err
		}
		if err := cancellable(r); err != nil {
			return err
		}
		now := s.now()
		b := &batch{}
		f := types.Facts{Actor: req.Actor, At: now, ApplicationID: a.ID, Reason: a.Cancel.Reason}
		if err := b.fire(r, types.EventCancelApproved, f, a.ID); err != nil {
			return err
		}
		markReviewed(a, req.Actor, req.Note, now)
		b.cs.Applications = []*types.Application{a}
		b.audit(applicationAudit(a, r.ID, req.Actor, "approved", now))
		return s.apply(ctx, b)
	})
	if err != nil {
		return Result{}, err
	}
	return s.executeCancel(ctx, req.Actor, a)
}

// executeCancel notarizes an approved cancellation and completes it. A
// receipt that never reached the ledger is not notarized.
func (s *Service) executeCancel(ctx context.Context, actor string, a *types.Application) (Result, error) {
	r, err := s.load(ctx, a.ReceiptIDs[0])
	if err != nil {
		return Result{}, err
	}
	c, ok := r.State().(types.Cancelling)
	if !ok || c.ApplicationID != a.ID {
		return Result{}, conflict(r, types.EventCancelCompleted, "cancellation "+a.ID+" is not executing")
	}
	log := s.logger.Named("cancel").With(zap.String("application_id", a.ID), zap.String("receipt_id", r.ID))

	var notaryRef string
	var notaryErr error
	if c.Prior != types.StatusOnchainFailed {
		notaryRef, notaryErr = s.ledger.SubmitCancel(ctx, a.ID, r.ID, a.Cancel.Reason)
		if notaryErr != nil {
			log.Warn("cancel notarization failed", zap.String("operation", types.StepSubmitCancel), zap.Error(notaryErr))
			s.metrics.ObserveBestEffortFailure(types.StepSubmitCancel)
		} else {
			log.Info("cancel notarized", zap.String("tx_ref", notaryRef))
		}
	}
	s.metrics.ObserveStructural(string(types.KindCancel), true)
	return s.completeCancel(context.WithoutCancel(ctx), log, actor, a.ID, notaryRef, notaryErr)
}

func (s *Service) completeCancel(ctx context.Context, log *zap.Logger, actor, applicationID, notaryRef string, notaryErr error) (Result, error) {
	var res Result
	a, err := s.loadApplication(ctx, applicationID, types.KindCancel)
	if err != nil {
		return Result{}, err
	}
	err = s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err := s.loadApplication(ctx, applicationID, types.KindCancel)
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
		if c, ok := r.State().(types.Cancelling); !ok || c.ApplicationID != a.ID {
			return conflict(r, types.EventCancelCompleted, "cancellation "+a.ID+" was completed by another attempt")
		}

		now := s.now()
		b := &batch{}
		f := types.Facts{
			Actor: actor,
			At:    now,
			Cancellation: &types.Cancellation{
				Reason:      a.Cancel.Reason,
				Type:        a.Cancel.Type,
				Actor:       actor,
				At:          now,
				NotaryTxRef: notaryRef,
			},
		}
		if err := b.fire(r, types.EventCancelCompleted, f, a.ID); err != nil {
			return err
		}
		if notaryErr != nil {
			b.audit(types.AuditEntry{
				ReceiptID:     r.ID,
				ApplicationID: a.ID,
				Action:        types.AuditNotaryFailure,
				Actor:         actor,
				Reason:        types.NewLedgerError(types.StepSubmitCancel, notaryErr).Error(),
				At:            now,
			})
		}
		if err := settle(a, outcome{txRef: notaryRef}, now); err != nil {
			return err
		}
		b.cs.Applications = []*types.Application{a}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r).withApplication(a)
		return nil
	})
	if err != nil {
		log.Error("cancellation could not be completed", zap.Error(err))
		return Result{}, err
	}
	return res, nil
}

// cancellable checks the cancel precondition.
func cancellable(r *types.Receipt) error {
	switch r.Status() {
	case types.StatusNormal, types.StatusOnchainFailed:
		return nil
	}
	return conflict(r, types.EventCancelApproved, "only NORMAL or ONCHAIN_FAILED receipts can be cancelled")
}
