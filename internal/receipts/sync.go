package receipts

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// ApproveReceipt stages a DRAFT for its initial ledger commit and runs the
// commit. A ledger failure leaves the receipt ONCHAIN_FAILED and is reported
// in the Result, not as an error.
func (s *Service) ApproveReceipt(ctx context.Context, actor, id string) (Result, error) {
	var staged *types.Receipt
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckApprovalPermission(ctx, actor, r.Warehouse.ID); err != nil {
			return err
		}
		now := s.now()
		b := &batch{}
		f := types.Facts{Actor: actor, At: now, SyncToken: s.numbers.token(now)}
		if err := b.fire(r, types.EventApprove, f, ""); err != nil {
			return err
		}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		staged = r.Clone()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return s.commitInitial(ctx, actor, staged)
}

// commitInitial runs Submit and Finalize for a receipt already staged in
// PENDING_ONCHAIN. Every attempt reuses the staged token, so a commit the
// ledger already holds is not written twice.
func (s *Service) commitInitial(ctx context.Context, actor string, r *types.Receipt) (Result, error) {
	token := r.SyncToken()
	log := s.logger.Named("sync").With(zap.String("receipt_id", r.ID), zap.String("sync_token", token))
	out := s.submitInitial(ctx, log, r, token)
	return s.finalizeInitial(context.WithoutCancel(ctx), log, actor, r.ID, token, out)
}

func (s *Service) submitInitial(ctx context.Context, log *zap.Logger, r *types.Receipt, token string) outcome {
	createRef, err := s.ledger.SubmitCreate(ctx, token, types.NewCreatePayload(r))
	if err != nil {
		return s.ledgerFailed(log, r.ID, types.StepSubmitCreate, err)
	}
	if _, err := s.ledger.SubmitVerify(ctx, token, r.ID); err != nil {
		return s.ledgerFailed(log, r.ID, types.StepSubmitVerify, err)
	}
	block, err := s.ledger.QueryBlockReference(ctx, createRef)
	if err != nil {
		return s.ledgerFailed(log, r.ID, types.StepQueryBlock, err)
	}
	log.Info("initial commit confirmed", zap.String("tx_ref", createRef), zap.String("block_ref", block))
	return outcome{txRef: createRef, blockRef: block}
}

func (s *Service) finalizeInitial(ctx context.Context, log *zap.Logger, actor, id, token string, out outcome) (Result, error) {
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if r.Status() != types.StatusPendingOnchain || r.SyncToken() != token {
			return conflict(r, types.EventLedgerSucceeded, "initial commit was finalized by another attempt")
		}
		b := &batch{}
		f := types.Facts{Actor: actor, At: s.now()}
		if out.ok() {
			f.Ledger = out.ledgerRef()
			if err := b.fire(r, types.EventLedgerSucceeded, f, ""); err != nil {
				return err
			}
		} else {
			f.Failure = out.failure
			f.Reason = out.failure.Reason
			if err := b.fire(r, types.EventLedgerFailed, f, ""); err != nil {
				return err
			}
			b.audit(failureAudit(r.ID, "", actor, out))
		}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r).withFailure(out.failure)
		return nil
	})
	if err != nil {
		log.Error("initial commit could not be finalized", zap.Error(err))
		return Result{}, err
	}
	return res, nil
}
