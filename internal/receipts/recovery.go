package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// RetrySync re-runs the initial ledger commit of an ONCHAIN_FAILED
// receipt with the idempotency token of its first attempt.
func (s *Service) RetrySync(ctx context.Context, actor, id string) (Result, error) {
	var staged *types.Receipt
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckApprovalPermission(ctx, actor, r.Warehouse.ID); err != nil {
			return err
		}
		if r.Status() != types.StatusOnchainFailed {
			return conflict(r, types.EventRetry, "only ONCHAIN_FAILED receipts can be retried")
		}
		b := &batch{}
		if err := b.fire(r, types.EventRetry, types.Facts{Actor: actor, At: s.now()}, ""); err != nil {
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
	s.logger.Named("recovery").Info("retrying initial commit",
		zap.String("receipt_id", id),
		zap.String("sync_token", staged.SyncToken()),
	)
	return s.commitInitial(ctx, actor, staged)
}

// RollbackToDraft returns an ONCHAIN_FAILED receipt to DRAFT so its owner
// can correct it. Receipts with any financing or endorsement on record
// cannot be rolled back.
func (s *Service) RollbackToDraft(ctx context.Context, actor, id, reason string) (Result, error) {
	if !s.authz.IsAdministrator(ctx, actor) {
		return Result{}, types.NewPermissionError(actor, types.ActionRollback, "only administrators may roll back")
	}
	if strings.TrimSpace(reason) == "" {
		return Result{}, types.NewValidationError("reason", "is required")
	}
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if r.Status() != types.StatusOnchainFailed {
			return conflict(r, types.EventRollback, "only ONCHAIN_FAILED receipts can be rolled back")
		}
		financings, err := s.store.CountFinancings(ctx, id)
		if err != nil {
			return err
		}
		endorsements, err := s.store.CountEndorsements(ctx, id)
		if err != nil {
			return err
		}
		if financings > 0 || endorsements > 0 {
			return conflict(r, types.EventRollback,
				fmt.Sprintf("receipt has %d financing and %d endorsement records", financings, endorsements))
		}
		now := s.now()
		b := &batch{}
		if err := b.fire(r, types.EventRollback, types.Facts{Actor: actor, At: now, Reason: reason}, ""); err != nil {
			return err
		}
		b.audit(types.AuditEntry{
			ReceiptID: r.ID,
			Action:    types.AuditRollback,
			Actor:     actor,
			From:      types.StatusOnchainFailed,
			To:        types.StatusDraft,
			Reason:    reason,
			At:        now,
		})
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r)
		return nil
	})
	return res, err
}

// ListFailed returns every ONCHAIN_FAILED receipt.
func (s *Service) ListFailed(ctx context.Context) ([]*types.Receipt, error) {
	return s.store.ListReceipts(ctx, types.ReceiptFilter{Statuses: []types.Status{types.StatusOnchainFailed}})
}

var inFlightStatuses = []types.Status{
	types.StatusPendingOnchain,
	types.StatusSplitting,
	types.StatusMerging,
	types.StatusCancelling,
}

// ListInFlight returns receipts owned by a synchronization that has not
// settled.
func (s *Service) ListInFlight(ctx context.Context) ([]*types.Receipt, error) {
	return s.store.ListReceipts(ctx, types.ReceiptFilter{Statuses: inFlightStatuses})
}

// ResumeStalled re-drives synchronizations that have sat in flight longer
// than the stale-after window, typically after a crash between Stage and
// Finalize. Each one reuses its original idempotency token, so work the
// ledger already holds is not written again.
func (s *Service) ResumeStalled(ctx context.Context, actor string) ([]Result, error) {
	if !s.authz.IsAdministrator(ctx, actor) {
		return nil, types.NewPermissionError(actor, types.ActionRetry, "only administrators may resume stalled synchronizations")
	}
	cutoff := s.now().Add(-s.staleAfter)
	rs, err := s.store.ListReceipts(ctx, types.ReceiptFilter{Statuses: inFlightStatuses, UpdatedBefore: &cutoff})
	if err != nil {
		return nil, err
	}

	log := s.logger.Named("recovery")
	var (
		results []Result
		errs    []error
		seen    = make(map[string]bool)
	)
	for _, r := range rs {
		res, ran, err := s.resume(ctx, actor, r, seen)
		if err != nil {
			log.Warn("resume failed", zap.String("receipt_id", r.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("receipt %s: %w", r.ID, err))
			continue
		}
		if !ran {
			continue
		}
		log.Info("resumed", zap.String("receipt_id", r.ID), zap.String("status", string(res.Status)))
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// resume dispatches one stalled receipt to the execution that owns it.
// Merge sources share an application, which runs once; ran is false for
// the sources after the first.
func (s *Service) resume(ctx context.Context, actor string, r *types.Receipt, seen map[string]bool) (res Result, ran bool, err error) {
	var (
		applicationID string
		kind          types.ApplicationKind
	)
	switch v := r.State().(type) {
	case types.PendingOnchain:
		res, err = s.commitInitial(ctx, actor, r)
		return res, true, err
	case types.Splitting:
		applicationID, kind = v.ApplicationID, types.KindSplit
	case types.Merging:
		applicationID, kind = v.ApplicationID, types.KindMerge
	case types.Cancelling:
		applicationID, kind = v.ApplicationID, types.KindCancel
	default:
		return Result{}, false, conflict(r, "", "receipt is not in flight")
	}
	if seen[applicationID] {
		return Result{}, false, nil
	}
	seen[applicationID] = true
	a, err := s.loadApplication(ctx, applicationID, kind)
	if err != nil {
		return Result{}, true, err
	}
	switch kind {
	case types.KindSplit:
		res, err = s.executeSplit(ctx, actor, a)
	case types.KindMerge:
		res, err = s.executeMerge(ctx, actor, a)
	default:
		res, err = s.executeCancel(ctx, actor, a)
	}
	return res, true, err
}
