package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Pledge records financier lending against the receipt and moves it to
// PLEDGED.
func (s *Service) Pledge(ctx context.Context, actor, id, financier string) (Result, error) {
	financier = strings.TrimSpace(financier)
	if financier == "" {
		return Result{}, types.NewValidationError("financier", "is required")
	}
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckHolderPermission(ctx, actor, r.Holder.Address, types.ActionPledge); err != nil {
			return err
		}
		now := s.now()
		b := &batch{}
		if err := b.fire(r, types.EventPledge, types.Facts{Actor: actor, At: now, Financier: financier}, ""); err != nil {
			return err
		}
		b.cs.Financings = append(b.cs.Financings, types.Financing{
			ID:        uuid.Must(uuid.NewV7()).String(),
			ReceiptID: r.ID,
			Financier: financier,
			At:        now,
		})
		b.audit(types.AuditEntry{
			ReceiptID: r.ID,
			Action:    types.AuditFinancing,
			Actor:     actor,
			Reason:    "pledged to " + financier,
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

// ReleasePledge returns a PLEDGED receipt to NORMAL. Only the financier or
// an administrator may release it.
func (s *Service) ReleasePledge(ctx context.Context, actor, id string) (Result, error) {
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		p, ok := r.State().(types.Pledged)
		if !ok {
			return conflict(r, types.EventReleasePledge, "receipt is not pledged")
		}
		if actor != p.Financier && !s.authz.IsAdministrator(ctx, actor) {
			return types.NewPermissionError(actor, types.ActionPledge, "only the financier may release the pledge")
		}
		b := &batch{}
		if err := b.fire(r, types.EventReleasePledge, types.Facts{Actor: actor, At: s.now()}, ""); err != nil {
			return err
		}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r)
		return nil
	})
	return res, err
}

// Endorse transfers the receipt to a new holder.
func (s *Service) Endorse(ctx context.Context, actor, id string, to types.Party) (Result, error) {
	if err := to.Validate("to"); err != nil {
		return Result{}, err
	}
	to = to.Normalized()
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckHolderPermission(ctx, actor, r.Holder.Address, types.ActionEndorse); err != nil {
			return err
		}
		if r.Holder.SameAs(to) {
			return types.NewValidationError("to", "is already the holder")
		}
		from := r.Holder
		now := s.now()
		b := &batch{}
		if err := b.fire(r, types.EventEndorse, types.Facts{Actor: actor, At: now}, ""); err != nil {
			return err
		}
		r.Holder = to
		b.cs.Endorsements = append(b.cs.Endorsements, types.Endorsement{
			ID:        uuid.Must(uuid.NewV7()).String(),
			ReceiptID: r.ID,
			From:      from,
			To:        to,
			Actor:     actor,
			At:        now,
		})
		b.audit(types.AuditEntry{
			ReceiptID: r.ID,
			Action:    types.AuditEndorsement,
			Actor:     actor,
			Reason:    fmt.Sprintf("endorsed from %s to %s", from.Address, to.Address),
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

// ExpireDue moves every live receipt whose expiry date has passed to
// EXPIRED.
func (s *Service) ExpireDue(ctx context.Context, actor string) ([]Result, error) {
	if !s.authz.IsAdministrator(ctx, actor) {
		return nil, types.NewPermissionError(actor, types.ActionExpire, "only administrators may run the expiry sweep")
	}
	now := s.now()
	due, err := s.store.ListReceipts(ctx, types.ReceiptFilter{
		Statuses:      []types.Status{types.StatusNormal, types.StatusPledged, types.StatusTransferred},
		ExpiresBefore: &now,
	})
	if err != nil {
		return nil, err
	}
	var (
		results []Result
		errs    []error
	)
	for _, d := range due {
		err := s.withLock(ctx, []string{d.ID}, func(ctx context.Context) error {
			r, err := s.load(ctx, d.ID)
			if err != nil {
				return err
			}
			if exp := r.Goods.ExpiryDate; exp == nil || !exp.Before(now) || !r.Can(types.EventExpire) {
				return nil
			}
			b := &batch{}
			if err := b.fire(r, types.EventExpire, types.Facts{Actor: actor, At: now, Reason: "expiry date passed"}, ""); err != nil {
				return err
			}
			if err := s.apply(ctx, b); err != nil {
				return err
			}
			results = append(results, resultFor(r))
			return nil
		})
		if err != nil {
			s.logger.Warn("expiry failed", zap.String("receipt_id", d.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("receipt %s: %w", d.ID, err))
		}
	}
	return results, errors.Join(errs...)
}
