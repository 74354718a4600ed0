package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// RecordFinancing stores a financing record.
func (b *Backend) RecordFinancing(ctx context.Context, f types.Financing) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		return insertFinancing(ctx, tx, f)
	})
}

func insertFinancing(ctx context.Context, q querier, f types.Financing) error {
	if f.ID == "" {
		f.ID = newID()
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO financings (financing_id, receipt_id, financier, created_at) VALUES (?, ?, ?, ?)",
		f.ID, f.ReceiptID, f.Financier, formatTime(f.At))
	if err != nil {
		return fmt.Errorf("recording financing of %s: %w", f.ReceiptID, err)
	}
	return nil
}

// HasFinanced reports whether financier has financed the receipt.
func (b *Backend) HasFinanced(ctx context.Context, receiptID, financier string) (bool, error) {
	var n int
	err := b.read(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM financings WHERE receipt_id = ? AND financier = ?", receiptID, financier).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("checking financing of %s: %w", receiptID, err)
	}
	return n > 0, nil
}

// CountFinancings returns how many financing records the receipt has.
func (b *Backend) CountFinancings(ctx context.Context, receiptID string) (int, error) {
	return b.count(ctx, "financings", receiptID)
}

// LatestFinancier returns the financier of the most recently recorded
// financing of the receipt.
func (b *Backend) LatestFinancier(ctx context.Context, receiptID string) (string, error) {
	var financier string
	err := b.read(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT financier FROM financings WHERE receipt_id = ? ORDER BY rowid DESC LIMIT 1",
			receiptID).Scan(&financier)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("financing of %s: %w", receiptID, types.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading financing of %s: %w", receiptID, err)
	}
	return financier, nil
}

// RecordEndorsement stores an endorsement record.
func (b *Backend) RecordEndorsement(ctx context.Context, e types.Endorsement) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		return insertEndorsement(ctx, tx, e)
	})
}

func insertEndorsement(ctx context.Context, q querier, e types.Endorsement) error {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO endorsements (endorsement_id, receipt_id, from_id, from_address, to_id, to_address, actor, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ReceiptID, e.From.ID, e.From.Address, e.To.ID, e.To.Address, e.Actor, formatTime(e.At))
	if err != nil {
		return fmt.Errorf("recording endorsement of %s: %w", e.ReceiptID, err)
	}
	return nil
}

// CountEndorsements returns how many endorsement records the receipt has.
func (b *Backend) CountEndorsements(ctx context.Context, receiptID string) (int, error) {
	return b.count(ctx, "endorsements", receiptID)
}

func (b *Backend) count(ctx context.Context, table, receiptID string) (int, error) {
	var n int
	err := b.read(func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE receipt_id = ?", receiptID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s of %s: %w", table, receiptID, err)
	}
	return n, nil
}

const auditColumns = `audit_id, receipt_id, application_id, action, actor, from_status, to_status,
    event, reason, reference_no, tx_ref, at`

func insertAudit(ctx context.Context, q querier, entries ...types.AuditEntry) error {
	for _, e := range entries {
		if e.ID == "" {
			e.ID = newID()
		}
		_, err := q.ExecContext(ctx,
			"INSERT INTO audit_log ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			e.ID, e.ReceiptID, nullString(e.ApplicationID), string(e.Action), e.Actor,
			nullString(string(e.From)), nullString(string(e.To)), nullString(string(e.Event)),
			nullString(e.Reason), nullString(e.ReferenceNo), nullString(e.TxRef), formatTime(e.At))
		if err != nil {
			return fmt.Errorf("appending audit entry for %s: %w", e.ReceiptID, err)
		}
	}
	return nil
}

// AppendAudit appends entries outside of a changeset.
func (b *Backend) AppendAudit(ctx context.Context, entries ...types.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return b.withTx(ctx, func(tx *sql.Tx) error {
		return insertAudit(ctx, tx, entries...)
	})
}

func hydrateAudit(row scanner) (types.AuditEntry, error) {
	var (
		e                                          types.AuditEntry
		action, at                                 string
		app, from, to, event, reason, refNo, txRef sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ReceiptID, &app, &action, &e.Actor, &from, &to,
		&event, &reason, &refNo, &txRef, &at); err != nil {
		return e, err
	}
	e.ApplicationID = app.String
	e.Action = types.AuditAction(action)
	e.From = types.Status(from.String)
	e.To = types.Status(to.String)
	e.Event = types.Event(event.String)
	e.Reason = reason.String
	e.ReferenceNo = refNo.String
	e.TxRef = txRef.String
	t, err := parseTime(at)
	if err != nil {
		return e, err
	}
	e.At = t
	return e, nil
}

func (b *Backend) listAudit(ctx context.Context, where string, args ...any) ([]types.AuditEntry, error) {
	var out []types.AuditEntry
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "SELECT "+auditColumns+" FROM audit_log "+where+" ORDER BY seq", args...)
		if err != nil {
			return fmt.Errorf("listing audit: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := hydrateAudit(rows)
			if err != nil {
				return fmt.Errorf("hydrating audit entry: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// ListAudit returns the audit trail of a receipt, oldest first.
func (b *Backend) ListAudit(ctx context.Context, receiptID string) ([]types.AuditEntry, error) {
	return b.listAudit(ctx, "WHERE receipt_id = ?", receiptID)
}

// ExportAudit writes the whole audit trail to path as JSON lines.
func (b *Backend) ExportAudit(ctx context.Context, path string) error {
	entries, err := b.listAudit(ctx, "")
	if err != nil {
		return err
	}
	records := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling audit entry %s: %w", e.ID, err)
		}
		records = append(records, line)
	}
	return writeJSONL(path, records)
}
