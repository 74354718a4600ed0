package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Staged records live in staged_receipts, which no receipt query reads.
// They become addressable only when a changeset inserts them into receipts.

func stageReceipt(ctx context.Context, q querier, applicationID string, r *types.Receipt) error {
	args, err := receiptArgs(r)
	if err != nil {
		return err
	}
	args = append([]any{applicationID}, args...)
	_, err = q.ExecContext(ctx,
		"INSERT INTO staged_receipts (application_id, "+receiptColumns+") VALUES (?, "+receiptPlaceholders+")", args...)
	if err != nil {
		return fmt.Errorf("staging receipt %s for %s: %w", r.ID, applicationID, err)
	}
	return nil
}

func discardStaged(ctx context.Context, q querier, applicationID string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM staged_receipts WHERE application_id = ?", applicationID); err != nil {
		return fmt.Errorf("discarding staged receipts of %s: %w", applicationID, err)
	}
	return nil
}

// ListStaged returns the provisional records staged under applicationID in
// staging order.
func (b *Backend) ListStaged(ctx context.Context, applicationID string) ([]*types.Receipt, error) {
	var out []*types.Receipt
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT "+receiptColumns+" FROM staged_receipts WHERE application_id = ? ORDER BY rowid", applicationID)
		if err != nil {
			return fmt.Errorf("listing staged receipts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := hydrateReceipt(rows)
			if err != nil {
				return fmt.Errorf("hydrating staged receipt: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}
