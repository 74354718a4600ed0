package receipts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

const (
	minSplitChildren = 2
	maxSplitChildren = 10
)

// SubmitSplit files a split application for a NORMAL, ledger-synced
// receipt. The breakdown is validated in full before anything is written.
func (s *Service) SubmitSplit(ctx context.Context, req SplitRequest) (Result, error) {
	if n := len(req.Children); n < minSplitChildren || n > maxSplitChildren {
		return Result{}, types.NewValidationError("children",
			fmt.Sprintf("split count must be between %d and %d, got %d", minSplitChildren, maxSplitChildren, n))
	}
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	r, err := s.load(ctx, req.ReceiptID)
	if err != nil {
		return Result{}, err
	}
	if err := s.authz.CheckHolderPermission(ctx, req.Actor, r.Holder.Address, types.ActionSplit); err != nil {
		return Result{}, err
	}
	if err := splittable(r); err != nil {
		return Result{}, err
	}
	children, err := normalizeChildren(r.Goods, req.Children)
	if err != nil {
		return Result{}, err
	}

	a := newApplication(types.KindSplit, []string{r.ID}, req.Actor, s.now())
	a.Split = &types.SplitPayload{Children: children}
	if err := s.submit(ctx, a); err != nil {
		return Result{}, err
	}
	return resultFor(r).withApplication(a), nil
}

// ReviewSplit approves or rejects a split application. On approval the
// parent moves to SPLITTING, the children are staged, and the split is
// submitted to the ledger. Children become addressable receipts only once
// the ledger confirms.
func (s *Service) ReviewSplit(ctx context.Context, req ReviewRequest) (Result, error) {
	if err := s.check(req); err != nil {
		return Result{}, err
	}
	if !req.Approve {
		return s.rejectApplication(ctx, req, types.KindSplit)
	}
	a, err := s.loadApplication(ctx, req.ApplicationID, types.KindSplit)
	if err != nil {
		return Result{}, err
	}
	if err := pendingOnly(a); err != nil {
		return Result{}, err
	}

	err = s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err = s.loadApplication(ctx, req.ApplicationID, types.KindSplit)
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
		if err := splittable(r); err != nil {
			return err
		}
		children, err := normalizeChildren(r.Goods, a.Split.Children)
		if err != nil {
			return err
		}

		now := s.now()
		staged := make([]*types.Receipt, len(children))
		ids := make([]string, len(children))
		for i, c := range children {
			child, err := types.NewDerivedReceipt(types.Derivation{
				ID:        uuid.Must(uuid.NewV7()).String(),
				Number:    childNumber(r.Number, i+1),
				Owner:     r.Owner,
				Warehouse: r.Warehouse,
				Holder:    r.Holder,
				Goods: types.Goods{
					Name:        c.GoodsName,
					Unit:        c.Unit,
					Quantity:    c.Quantity,
					UnitPrice:   c.UnitPrice,
					TotalValue:  c.TotalValue,
					Location:    c.Location,
					StorageDate: r.Goods.StorageDate,
					ExpiryDate:  r.Goods.ExpiryDate,
				},
				ParentID:  r.ID,
				CreatedBy: req.Actor,
				At:        now,
			})
			if err != nil {
				return err
			}
			staged[i] = child
			ids[i] = child.ID
		}

		b := &batch{}
		f := types.Facts{Actor: req.Actor, At: now, ApplicationID: a.ID, ChildIDs: ids}
		if err := b.fire(r, types.EventSplitApproved, f, a.ID); err != nil {
			return err
		}
		b.cs.Stage = staged
		b.cs.StageFor = a.ID
		markReviewed(a, req.Actor, req.Note, now)
		b.cs.Applications = []*types.Application{a}
		b.audit(applicationAudit(a, r.ID, req.Actor, "approved", now))
		return s.apply(ctx, b)
	})
	if err != nil {
		return Result{}, err
	}
	return s.executeSplit(ctx, req.Actor, a)
}

// executeSplit submits an approved split and finalizes it. It runs from
// ReviewSplit and from ResumeStalled.
func (s *Service) executeSplit(ctx context.Context, actor string, a *types.Application) (Result, error) {
	parent, err := s.load(ctx, a.ReceiptIDs[0])
	if err != nil {
		return Result{}, err
	}
	sp, ok := parent.State().(types.Splitting)
	if !ok || sp.ApplicationID != a.ID {
		return Result{}, conflict(parent, types.EventSplitSucceeded, "split "+a.ID+" is not executing")
	}
	log := s.logger.Named("split").With(zap.String("application_id", a.ID))
	out := s.confirm(ctx, log, parent.ID, types.StepSubmitSplit, func(ctx context.Context) (string, error) {
		return s.ledger.SubmitSplit(ctx, a.ID, parent.ID, sp.ChildIDs, len(sp.ChildIDs))
	})
	s.metrics.ObserveStructural(string(types.KindSplit), out.ok())
	return s.finalizeSplit(context.WithoutCancel(ctx), log, actor, a.ID, out)
}

func (s *Service) finalizeSplit(ctx context.Context, log *zap.Logger, actor, applicationID string, out outcome) (Result, error) {
	var res Result
	a, err := s.loadApplication(ctx, applicationID, types.KindSplit)
	if err != nil {
		return Result{}, err
	}
	err = s.withLock(ctx, a.ReceiptIDs, func(ctx context.Context) error {
		a, err := s.loadApplication(ctx, applicationID, types.KindSplit)
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
		sp, ok := r.State().(types.Splitting)
		if !ok || sp.ApplicationID != a.ID {
			return conflict(r, types.EventSplitSucceeded, "split "+a.ID+" was finalized by another attempt")
		}

		now := s.now()
		b := &batch{}
		f := types.Facts{Actor: actor, At: now}
		if out.ok() {
			children, err := s.store.ListStaged(ctx, a.ID)
			if err != nil {
				return err
			}
			if len(children) != len(sp.ChildIDs) {
				return fmt.Errorf("split %s: %d staged children, expected %d", a.ID, len(children), len(sp.ChildIDs))
			}
			f.Ledger = out.ledgerRef()
			for _, child := range children {
				b.insert(child)
				if err := b.fire(child, types.EventSyncConfirmed, f, a.ID); err != nil {
					return err
				}
				b.audit(types.AuditEntry{
					ReceiptID:     child.ID,
					ApplicationID: a.ID,
					Action:        types.AuditStructuralOutput,
					Actor:         actor,
					Reason:        "split from " + r.Number,
					TxRef:         out.txRef,
					At:            now,
				})
			}
			r.SplitCount = len(children)
			r.SplitAt = &now
			if err := b.fire(r, types.EventSplitSucceeded, f, a.ID); err != nil {
				return err
			}
		} else {
			f.Reason = out.failure.Reason
			if err := b.fire(r, types.EventSplitFailed, f, a.ID); err != nil {
				return err
			}
			b.audit(failureAudit(r.ID, a.ID, actor, out))
		}
		if err := settle(a, out, now); err != nil {
			return err
		}
		b.cs.DiscardStaged = []string{a.ID}
		b.cs.Applications = []*types.Application{a}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		res = resultFor(r).withApplication(a).withFailure(out.failure)
		if out.ok() {
			res.ChildIDs = sp.ChildIDs
		}
		return nil
	})
	if err != nil {
		log.Error("split could not be finalized", zap.Error(err))
		return Result{}, err
	}
	return res, nil
}

// splittable checks the split precondition on the parent's state.
func splittable(r *types.Receipt) error {
	if r.Status() != types.StatusNormal {
		return conflict(r, types.EventSplitApproved, "only NORMAL receipts can be split")
	}
	if r.Ledger().Sync != types.SyncSynced {
		return conflict(r, types.EventSplitApproved, "receipt is not synced with the ledger")
	}
	return nil
}

// normalizeChildren fills defaults from the parent and checks that the
// breakdown conserves quantity and value exactly.
func normalizeChildren(parent types.Goods, children []types.SplitChild) ([]types.SplitChild, error) {
	n := len(children)
	if n < minSplitChildren || n > maxSplitChildren {
		return nil, types.NewValidationError("children",
			fmt.Sprintf("split count must be between %d and %d, got %d", minSplitChildren, maxSplitChildren, n))
	}
	out := make([]types.SplitChild, n)
	locations := make(map[string]int, n)
	sumQty, sumValue := decimal.Zero, decimal.Zero
	for i, c := range children {
		field := fmt.Sprintf("children[%d]", i)
		c.GoodsName = strings.TrimSpace(c.GoodsName)
		c.Unit = strings.TrimSpace(c.Unit)
		c.Location = strings.TrimSpace(c.Location)
		if c.GoodsName == "" {
			c.GoodsName = parent.Name
		}
		if c.Unit == "" {
			c.Unit = parent.Unit
		}
		switch {
		case !c.Quantity.IsPositive():
			return nil, types.NewValidationError(field+".quantity", "must be greater than zero")
		case !c.UnitPrice.IsPositive():
			return nil, types.NewValidationError(field+".unit_price", "must be greater than zero")
		case c.GoodsName != parent.Name:
			return nil, types.NewValidationError(field+".goods_name", fmt.Sprintf("must equal the parent's %q", parent.Name))
		case c.Unit != parent.Unit:
			return nil, types.NewValidationError(field+".unit", fmt.Sprintf("must equal the parent's %q", parent.Unit))
		case !c.UnitPrice.Equal(parent.UnitPrice):
			return nil, types.NewValidationError(field+".unit_price", fmt.Sprintf("must equal the parent's %s", parent.UnitPrice))
		case c.Location == "":
			return nil, types.NewValidationError(field+".location", "is required")
		}
		want := c.Quantity.Mul(c.UnitPrice)
		if c.TotalValue.IsZero() {
			c.TotalValue = want
		}
		if !c.TotalValue.Equal(want) {
			return nil, types.NewValidationError(field+".total_value",
				fmt.Sprintf("%s does not equal quantity %s x unit price %s", c.TotalValue, c.Quantity, c.UnitPrice))
		}
		if j, dup := locations[c.Location]; dup {
			return nil, types.NewValidationError(field+".location",
				fmt.Sprintf("%q is already used by children[%d]", c.Location, j))
		}
		locations[c.Location] = i
		sumQty = sumQty.Add(c.Quantity)
		sumValue = sumValue.Add(c.TotalValue)
		out[i] = c
	}
	if !sumQty.Equal(parent.Quantity) {
		return nil, types.NewValidationError("children",
			fmt.Sprintf("child quantities sum to %s, parent holds %s", sumQty, parent.Quantity))
	}
	if !sumValue.Equal(parent.TotalValue) {
		return nil, types.NewValidationError("children",
			fmt.Sprintf("child values sum to %s, parent is worth %s", sumValue, parent.TotalValue))
	}
	return out, nil
}
