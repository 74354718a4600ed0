package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// receiptColumns is the select/insert column list shared with
// staged_receipts.
const receiptColumns = `receipt_id, number, owner_id, owner_address, warehouse_id, warehouse_address,
    holder_id, holder_address, goods_name, unit, quantity, unit_price, total_value, location,
    storage_date, expiry_date, status, state, sync_status, tx_ref, block_ref, parent_id, source_ids,
    split_count, split_at, merge_count, merged_at, created_by, version, created_at, updated_at, deleted_at`

const receiptPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

// receiptArgs flattens r in receiptColumns order.
func receiptArgs(r *types.Receipt) ([]any, error) {
	state, err := types.MarshalState(r.State())
	if err != nil {
		return nil, fmt.Errorf("marshaling state of %s: %w", r.ID, err)
	}
	sources, err := json.Marshal(r.SourceIDs)
	if err != nil {
		return nil, fmt.Errorf("marshaling source ids of %s: %w", r.ID, err)
	}
	ledger := r.Ledger()
	return []any{
		r.ID, r.Number, r.Owner.ID, r.Owner.Address, r.Warehouse.ID, r.Warehouse.Address,
		r.Holder.ID, r.Holder.Address, r.Goods.Name, r.Goods.Unit,
		r.Goods.Quantity.String(), r.Goods.UnitPrice.String(), r.Goods.TotalValue.String(), r.Goods.Location,
		formatTime(r.Goods.StorageDate), formatTimePtr(r.Goods.ExpiryDate),
		string(r.Status()), string(state), string(ledger.Sync), nullString(ledger.TxRef), nullString(ledger.BlockRef),
		nullString(r.ParentID), string(sources),
		r.SplitCount, formatTimePtr(r.SplitAt), r.MergeCount, formatTimePtr(r.MergedAt),
		r.CreatedBy, r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), formatTimePtr(r.DeletedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// hydrateReceipt scans one row laid out as receiptColumns.
func hydrateReceipt(row scanner) (*types.Receipt, error) {
	var (
		r                                      types.Receipt
		quantity, unitPrice, totalValue        string
		storageDate, status, state, syncStatus string
		sources, createdAt, updatedAt          string
		expiry, txRef, blockRef, parentID      sql.NullString
		splitAt, mergedAt, deletedAt           sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.Number, &r.Owner.ID, &r.Owner.Address, &r.Warehouse.ID, &r.Warehouse.Address,
		&r.Holder.ID, &r.Holder.Address, &r.Goods.Name, &r.Goods.Unit,
		&quantity, &unitPrice, &totalValue, &r.Goods.Location,
		&storageDate, &expiry, &status, &state, &syncStatus, &txRef, &blockRef,
		&parentID, &sources,
		&r.SplitCount, &splitAt, &r.MergeCount, &mergedAt,
		&r.CreatedBy, &r.Version, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Goods.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parsing quantity of %s: %w", r.ID, err)
	}
	if r.Goods.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("parsing unit price of %s: %w", r.ID, err)
	}
	if r.Goods.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return nil, fmt.Errorf("parsing total value of %s: %w", r.ID, err)
	}
	if r.Goods.StorageDate, err = parseTime(storageDate); err != nil {
		return nil, err
	}
	if r.Goods.ExpiryDate, err = parseTimePtr(expiry); err != nil {
		return nil, err
	}
	r.ParentID = parentID.String
	if err := json.Unmarshal([]byte(sources), &r.SourceIDs); err != nil {
		return nil, fmt.Errorf("parsing source ids of %s: %w", r.ID, err)
	}
	if r.SplitAt, err = parseTimePtr(splitAt); err != nil {
		return nil, err
	}
	if r.MergedAt, err = parseTimePtr(mergedAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if r.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	if err := types.RestoreReceipt(&r, types.Status(status), []byte(state)); err != nil {
		return nil, fmt.Errorf("restoring %s: %w", r.ID, err)
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// insertReceipt inserts r as an addressable receipt.
func insertReceipt(ctx context.Context, q querier, r *types.Receipt) error {
	args, err := receiptArgs(r)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO receipts ("+receiptColumns+") VALUES ("+receiptPlaceholders+")", args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("inserting %s: %w", r.Number, types.ErrDuplicateNumber)
	}
	if err != nil {
		return fmt.Errorf("inserting receipt %s: %w", r.ID, err)
	}
	return nil
}

// casReceipt writes r when the stored version matches r.Version.
func casReceipt(ctx context.Context, q querier, r *types.Receipt) error {
	next := r.Clone()
	next.Version = r.Version + 1
	args, err := receiptArgs(next)
	if err != nil {
		return err
	}
	// Drop receipt_id from the SET list and use it in the WHERE clause.
	cols := strings.Split(receiptColumns, ",")
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, strings.TrimSpace(c)+" = ?")
	}
	args = append(args[1:], r.ID, r.Version)
	res, err := q.ExecContext(ctx,
		"UPDATE receipts SET "+strings.Join(sets, ", ")+" WHERE receipt_id = ? AND version = ?", args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("updating %s: %w", r.Number, types.ErrDuplicateNumber)
	}
	if err != nil {
		return fmt.Errorf("updating receipt %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating receipt %s: %w", r.ID, err)
	}
	if n == 0 {
		var version int64
		err := q.QueryRowContext(ctx, "SELECT version FROM receipts WHERE receipt_id = ?", r.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFoundError("receipt", r.ID)
		}
		if err != nil {
			return fmt.Errorf("checking version of %s: %w", r.ID, err)
		}
		return fmt.Errorf("receipt %s at version %d, expected %d: %w", r.ID, version, r.Version, types.ErrVersionConflict)
	}
	r.Version = next.Version
	return nil
}

// CreateReceipt inserts r with Version 1.
func (b *Backend) CreateReceipt(ctx context.Context, r *types.Receipt) error {
	r.Version = 1
	return b.withTx(ctx, func(tx *sql.Tx) error {
		return insertReceipt(ctx, tx, r)
	})
}

// GetReceipt returns a non-deleted receipt by id.
func (b *Backend) GetReceipt(ctx context.Context, id string) (*types.Receipt, error) {
	return b.getReceiptWhere(ctx, "receipt_id", id)
}

// GetReceiptByNumber returns a non-deleted receipt by its receipt number.
func (b *Backend) GetReceiptByNumber(ctx context.Context, number string) (*types.Receipt, error) {
	return b.getReceiptWhere(ctx, "number", number)
}

func (b *Backend) getReceiptWhere(ctx context.Context, col, val string) (*types.Receipt, error) {
	var r *types.Receipt
	err := b.read(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			"SELECT "+receiptColumns+" FROM receipts WHERE "+col+" = ? AND deleted_at IS NULL", val)
		var err error
		r, err = hydrateReceipt(row)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFoundError("receipt", val)
		}
		if err != nil {
			return fmt.Errorf("getting receipt %s: %w", val, err)
		}
		return nil
	})
	return r, err
}

// GetReceipts returns receipts in the order of ids.
func (b *Backend) GetReceipts(ctx context.Context, ids []string) ([]*types.Receipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[string]*types.Receipt, len(ids))
	err := b.read(func(db *sql.DB) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := db.QueryContext(ctx,
			"SELECT "+receiptColumns+" FROM receipts WHERE deleted_at IS NULL AND receipt_id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("getting receipts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := hydrateReceipt(rows)
			if err != nil {
				return fmt.Errorf("hydrating receipt: %w", err)
			}
			byID[r.ID] = r
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Receipt, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, types.NewNotFoundError("receipt", id)
		}
		out = append(out, r)
	}
	return out, nil
}

// ListReceipts returns receipts matching filter ordered by creation time.
func (b *Backend) ListReceipts(ctx context.Context, filter types.ReceiptFilter) ([]*types.Receipt, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.WarehouseID != "" {
		where = append(where, "warehouse_id = ?")
		args = append(args, filter.WarehouseID)
	}
	if filter.HolderAddress != "" {
		where = append(where, "holder_address = ?")
		args = append(args, types.Party{Address: filter.HolderAddress}.Normalized().Address)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(filter.Statuses)), ", ")+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if filter.ExpiresAfter != nil {
		where = append(where, "expiry_date >= ?")
		args = append(args, formatTime(*filter.ExpiresAfter))
	}
	if filter.ExpiresBefore != nil {
		where = append(where, "expiry_date < ?")
		args = append(args, formatTime(*filter.ExpiresBefore))
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, formatTime(*filter.UpdatedBefore))
	}

	query := "SELECT " + receiptColumns + " FROM receipts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, receipt_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var out []*types.Receipt
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("listing receipts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := hydrateReceipt(rows)
			if err != nil {
				return fmt.Errorf("hydrating receipt: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateReceipt writes r under version compare-and-swap.
func (b *Backend) UpdateReceipt(ctx context.Context, r *types.Receipt) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		return casReceipt(ctx, tx, r)
	})
}

// DeleteDraft soft-deletes a DRAFT receipt.
func (b *Backend) DeleteDraft(ctx context.Context, id string, at time.Time) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM receipts WHERE receipt_id = ? AND deleted_at IS NULL", id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFoundError("receipt", id)
		}
		if err != nil {
			return fmt.Errorf("reading receipt %s: %w", id, err)
		}
		if types.Status(status) != types.StatusDraft {
			return fmt.Errorf("receipt %s is %s: %w", id, status, types.ErrNotDraft)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE receipts SET deleted_at = ?, updated_at = ?, version = version + 1 WHERE receipt_id = ?",
			formatTime(at), formatTime(at), id)
		if err != nil {
			return fmt.Errorf("deleting receipt %s: %w", id, err)
		}
		return nil
	})
}
