package receipts

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// CreateReceipt creates a DRAFT receipt owned by req.Owner.
func (s *Service) CreateReceipt(ctx context.Context, req CreateRequest) (*types.Receipt, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := s.authz.CheckCreatePermission(ctx, req.Actor, req.Owner.ID); err != nil {
		return nil, err
	}

	now := s.now()
	number := strings.TrimSpace(req.Number)
	if number == "" {
		var err error
		if number, err = s.numbers.unique(ctx, numberPrefix, now, s.numberTaken); err != nil {
			return nil, err
		}
	}
	holder := req.Owner
	if req.Holder != nil {
		holder = *req.Holder
	}
	storage := req.StorageDate
	if storage.IsZero() {
		storage = now
	}
	r, err := types.NewDraftReceipt(uuid.Must(uuid.NewV7()).String(), number, req.Owner, req.Warehouse, holder,
		types.Goods{
			Name:        strings.TrimSpace(req.GoodsName),
			Unit:        strings.TrimSpace(req.Unit),
			Quantity:    req.Quantity,
			UnitPrice:   req.UnitPrice,
			Location:    strings.TrimSpace(req.Location),
			StorageDate: storage.UTC(),
			ExpiryDate:  req.ExpiryDate,
		},
		req.Actor, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateReceipt(ctx, r); err != nil {
		return nil, s.storeErr(err, nil)
	}
	if err := s.store.AppendAudit(ctx, types.AuditEntry{
		ReceiptID: r.ID, Action: types.AuditTransition, Actor: req.Actor, To: types.StatusDraft, At: now,
	}); err != nil {
		s.logger.Warn("audit append failed", zap.String("receipt_id", r.ID), zap.Error(err))
	}
	s.logger.Info("receipt created", zap.String("receipt_id", r.ID), zap.String("number", r.Number))
	return r, nil
}

// UpdateReceipt edits the fields named in req. TotalValue is recomputed
// whenever quantity or unit price change.
func (s *Service) UpdateReceipt(ctx context.Context, req UpdateRequest) (*types.Receipt, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	var out *types.Receipt
	err := s.withLock(ctx, []string{req.ReceiptID}, func(ctx context.Context) error {
		r, err := s.load(ctx, req.ReceiptID)
		if err != nil {
			return err
		}
		if err := s.authz.CheckCreatePermission(ctx, req.Actor, r.Owner.ID); err != nil {
			return err
		}
		if !r.Can(types.EventUpdate) {
			return conflict(r, types.EventUpdate, "only DRAFT and NORMAL receipts can be edited")
		}
		goods, err := applyUpdate(r, req)
		if err != nil {
			return err
		}
		r.Goods = goods

		b := &batch{}
		if err := b.fire(r, types.EventUpdate, types.Facts{Actor: req.Actor, At: s.now()}, ""); err != nil {
			return err
		}
		if err := s.apply(ctx, b); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyUpdate(r *types.Receipt, req UpdateRequest) (types.Goods, error) {
	g := r.Goods
	if r.Status() != types.StatusDraft {
		switch {
		case req.GoodsName != nil:
			return g, types.NewValidationError("goods_name", "cannot change once the receipt is on the ledger")
		case req.Unit != nil:
			return g, types.NewValidationError("unit", "cannot change once the receipt is on the ledger")
		case req.Quantity != nil:
			return g, types.NewValidationError("quantity", "cannot change once the receipt is on the ledger")
		case req.UnitPrice != nil:
			return g, types.NewValidationError("unit_price", "cannot change once the receipt is on the ledger")
		case req.StorageDate != nil:
			return g, types.NewValidationError("storage_date", "cannot change once the receipt is on the ledger")
		}
	}
	if req.GoodsName != nil {
		g.Name = strings.TrimSpace(*req.GoodsName)
	}
	if req.Unit != nil {
		g.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.Quantity != nil {
		g.Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		g.UnitPrice = *req.UnitPrice
	}
	g = g.WithUnitPrice(g.UnitPrice)
	if req.Location != nil {
		g.Location = strings.TrimSpace(*req.Location)
	}
	if req.StorageDate != nil {
		g.StorageDate = req.StorageDate.UTC()
	}
	if req.ExpiryDate != nil {
		t := req.ExpiryDate.UTC()
		g.ExpiryDate = &t
	}
	if err := g.Validate(); err != nil {
		return r.Goods, err
	}
	return g, nil
}

// GetReceipt returns one receipt.
func (s *Service) GetReceipt(ctx context.Context, id string) (*types.Receipt, error) {
	return s.load(ctx, id)
}

// GetReceiptByNumber returns the receipt with the given number.
func (s *Service) GetReceiptByNumber(ctx context.Context, number string) (*types.Receipt, error) {
	if number == "" {
		return nil, types.NewValidationError("number", "is required")
	}
	return s.store.GetReceiptByNumber(ctx, number)
}

// GetReceipts returns receipts in the order of ids.
func (s *Service) GetReceipts(ctx context.Context, ids []string) ([]*types.Receipt, error) {
	return s.store.GetReceipts(ctx, ids)
}

// ListReceipts returns receipts matching filter.
func (s *Service) ListReceipts(ctx context.Context, filter types.ReceiptFilter) ([]*types.Receipt, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, types.NewValidationError("status", "unknown status "+string(st))
		}
	}
	return s.store.ListReceipts(ctx, filter)
}

// DeleteDraft soft-deletes a DRAFT receipt.
func (s *Service) DeleteDraft(ctx context.Context, actor, id string) error {
	return s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckCreatePermission(ctx, actor, r.Owner.ID); err != nil {
			return err
		}
		if r.Status() != types.StatusDraft {
			return conflict(r, "", "only DRAFT receipts can be deleted")
		}
		now := s.now()
		if err := s.store.DeleteDraft(ctx, id, now); err != nil {
			return s.storeErr(err, nil)
		}
		return s.store.AppendAudit(ctx, types.AuditEntry{
			ReceiptID: id, Action: types.AuditDraftDeleted, Actor: actor, From: types.StatusDraft, At: now,
		})
	})
}

// RejectReceipt sends a draft back to its owner with a note.
func (s *Service) RejectReceipt(ctx context.Context, actor, id, reason string) (Result, error) {
	if strings.TrimSpace(reason) == "" {
		return Result{}, types.NewValidationError("reason", "is required")
	}
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckApprovalPermission(ctx, actor, r.Warehouse.ID); err != nil {
			return err
		}
		b := &batch{}
		if err := b.fire(r, types.EventReject, types.Facts{Actor: actor, Reason: reason, At: s.now()}, ""); err != nil {
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

// RecordDelivery marks the goods as delivered out of the warehouse.
func (s *Service) RecordDelivery(ctx context.Context, actor, id string) (Result, error) {
	var res Result
	err := s.withLock(ctx, []string{id}, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authz.CheckApprovalPermission(ctx, actor, r.Warehouse.ID); err != nil {
			return err
		}
		b := &batch{}
		if err := b.fire(r, types.EventRecordDelivery, types.Facts{Actor: actor, At: s.now()}, ""); err != nil {
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

// GetApplication returns one structural application.
func (s *Service) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	return s.store.GetApplication(ctx, id)
}

// ListApplications returns applications matching filter.
func (s *Service) ListApplications(ctx context.Context, filter types.ApplicationFilter) ([]*types.Application, error) {
	return s.store.ListApplications(ctx, filter)
}

// AuditTrail returns the audit entries of a receipt, oldest first.
func (s *Service) AuditTrail(ctx context.Context, id string) ([]types.AuditEntry, error) {
	return s.store.ListAudit(ctx, id)
}

// ExportAudit writes the full audit trail to path as JSON lines.
func (s *Service) ExportAudit(ctx context.Context, path string) error {
	if path == "" {
		return types.NewValidationError("path", "is required")
	}
	return s.store.ExportAudit(ctx, path)
}
