package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

const applicationColumns = `application_id, kind, status, payload, applicant, reviewer, review_note,
    failed_reason, tx_ref, block_ref, version, submitted_at, reviewed_at, updated_at`

// applicationPayload is the JSON stored in applications.payload.
type applicationPayload struct {
	Split  *types.SplitPayload  `json:"split,omitempty"`
	Merge  *types.MergePayload  `json:"merge,omitempty"`
	Freeze *types.FreezePayload `json:"freeze,omitempty"`
	Cancel *types.CancelPayload `json:"cancel,omitempty"`
}

// CreateApplication inserts a PENDING application and claims the pending
// slot of every receipt it names in one transaction. The partial unique
// index on application_receipts makes the claim atomic.
func (b *Backend) CreateApplication(ctx context.Context, a *types.Application) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.Status = types.ApplicationPending
	a.Version = 1
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.SubmittedAt
	}
	payload, err := json.Marshal(applicationPayload{Split: a.Split, Merge: a.Merge, Freeze: a.Freeze, Cancel: a.Cancel})
	if err != nil {
		return fmt.Errorf("marshaling application payload: %w", err)
	}

	return b.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO applications ("+applicationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			a.ID, string(a.Kind), string(a.Status), string(payload), a.Applicant,
			nullString(a.Reviewer), nullString(a.ReviewNote), nullString(a.FailedReason),
			nullString(a.TxRef), nullString(a.BlockRef), a.Version,
			formatTime(a.SubmittedAt), formatTimePtr(a.ReviewedAt), formatTime(a.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting application %s: %w", a.ID, err)
		}
		for i, rid := range a.ReceiptIDs {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO application_receipts (application_id, receipt_id, ordinal, pending) VALUES (?, ?, ?, 1)",
				a.ID, rid, i)
			if isUniqueViolation(err) {
				return fmt.Errorf("receipt %s: %w", rid, types.ErrPendingApplication)
			}
			if err != nil {
				if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
					return types.NewNotFoundError("receipt", rid)
				}
				return fmt.Errorf("linking application %s to %s: %w", a.ID, rid, err)
			}
		}
		return nil
	})
}

// casApplication writes a under version compare-and-swap. A terminal
// status releases the pending slots.
func casApplication(ctx context.Context, q querier, a *types.Application) error {
	payload, err := json.Marshal(applicationPayload{Split: a.Split, Merge: a.Merge, Freeze: a.Freeze, Cancel: a.Cancel})
	if err != nil {
		return fmt.Errorf("marshaling application payload: %w", err)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE applications SET status = ?, payload = ?, reviewer = ?, review_note = ?, failed_reason = ?,
            tx_ref = ?, block_ref = ?, version = ?, reviewed_at = ?, updated_at = ?
         WHERE application_id = ? AND version = ?`,
		string(a.Status), string(payload), nullString(a.Reviewer), nullString(a.ReviewNote),
		nullString(a.FailedReason), nullString(a.TxRef), nullString(a.BlockRef), a.Version+1,
		formatTimePtr(a.ReviewedAt), formatTime(a.UpdatedAt), a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("updating application %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating application %s: %w", a.ID, err)
	}
	if n == 0 {
		var version int64
		err := q.QueryRowContext(ctx, "SELECT version FROM applications WHERE application_id = ?", a.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFoundError("application", a.ID)
		}
		if err != nil {
			return fmt.Errorf("checking version of application %s: %w", a.ID, err)
		}
		return fmt.Errorf("application %s at version %d, expected %d: %w", a.ID, version, a.Version, types.ErrVersionConflict)
	}
	if a.Status.Terminal() {
		if _, err := q.ExecContext(ctx,
			"UPDATE application_receipts SET pending = 0 WHERE application_id = ?", a.ID); err != nil {
			return fmt.Errorf("releasing pending slots of %s: %w", a.ID, err)
		}
	}
	a.Version++
	return nil
}

func hydrateApplication(row scanner) (*types.Application, error) {
	var (
		a                                       types.Application
		kind, status, payload                   string
		submittedAt, updatedAt                  string
		reviewer, note, failed, txRef, blockRef sql.NullString
		reviewedAt                              sql.NullString
	)
	err := row.Scan(&a.ID, &kind, &status, &payload, &a.Applicant, &reviewer, &note,
		&failed, &txRef, &blockRef, &a.Version, &submittedAt, &reviewedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = types.ApplicationKind(kind)
	a.Status = types.ApplicationStatus(status)
	a.Reviewer = reviewer.String
	a.ReviewNote = note.String
	a.FailedReason = failed.String
	a.TxRef = txRef.String
	a.BlockRef = blockRef.String

	var p applicationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("parsing payload of application %s: %w", a.ID, err)
	}
	a.Split, a.Merge, a.Freeze, a.Cancel = p.Split, p.Merge, p.Freeze, p.Cancel

	if a.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if a.ReviewedAt, err = parseTimePtr(reviewedAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// loadApplicationReceipts fills ReceiptIDs in submission order.
func loadApplicationReceipts(ctx context.Context, q querier, a *types.Application) error {
	rows, err := q.QueryContext(ctx,
		"SELECT receipt_id FROM application_receipts WHERE application_id = ? ORDER BY ordinal", a.ID)
	if err != nil {
		return fmt.Errorf("loading receipts of application %s: %w", a.ID, err)
	}
	defer rows.Close()
	a.ReceiptIDs = nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		a.ReceiptIDs = append(a.ReceiptIDs, id)
	}
	return rows.Err()
}

// GetApplication returns an application with its receipt ids.
func (b *Backend) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	var a *types.Application
	err := b.read(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, "SELECT "+applicationColumns+" FROM applications WHERE application_id = ?", id)
		var err error
		a, err = hydrateApplication(row)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFoundError("application", id)
		}
		if err != nil {
			return fmt.Errorf("getting application %s: %w", id, err)
		}
		return loadApplicationReceipts(ctx, db, a)
	})
	return a, err
}

// ListApplications returns applications matching filter, oldest first.
func (b *Backend) ListApplications(ctx context.Context, filter types.ApplicationFilter) ([]*types.Application, error) {
	var (
		where []string
		args  []any
	)
	if filter.ReceiptID != "" {
		where = append(where, "application_id IN (SELECT application_id FROM application_receipts WHERE receipt_id = ?)")
		args = append(args, filter.ReceiptID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := "SELECT " + applicationColumns + " FROM applications"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at, application_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var out []*types.Application
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("listing applications: %w", err)
		}
		for rows.Next() {
			a, err := hydrateApplication(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("hydrating application: %w", err)
			}
			out = append(out, a)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		// One connection: close the cursor before issuing the next query.
		rows.Close()
		for _, a := range out {
			if err := loadApplicationReceipts(ctx, db, a); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
