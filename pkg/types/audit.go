package types

import "time"

// AuditAction labels an audit entry.
type AuditAction string

// Audit actions.
const (
	AuditTransition       AuditAction = "transition"
	AuditApplication      AuditAction = "application"
	AuditFreeze           AuditAction = "freeze"
	AuditUnfreeze         AuditAction = "unfreeze"
	AuditLedgerFailure    AuditAction = "ledger_failure"
	AuditNotaryFailure    AuditAction = "notary_failure"
	AuditRollback         AuditAction = "rollback"
	AuditFinancing        AuditAction = "financing"
	AuditEndorsement      AuditAction = "endorsement"
	AuditDraftDeleted     AuditAction = "draft_deleted"
	AuditStructuralOutput AuditAction = "structural_output"
)

// AuditEntry is one append-only record about a receipt.
type AuditEntry struct {
	ID            string      `json:"id"`
	ReceiptID     string      `json:"receipt_id"`
	ApplicationID string      `json:"application_id,omitempty"`
	Action        AuditAction `json:"action"`
	Actor         string      `json:"actor"`
	From          Status      `json:"from,omitempty"`
	To            Status      `json:"to,omitempty"`
	Event         Event       `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	ReferenceNo   string      `json:"reference_no,omitempty"`
	TxRef         string      `json:"tx_ref,omitempty"`
	At            time.Time   `json:"at"`
}

// Financing records a financier lending against a receipt.
type Financing struct {
	ID        string    `json:"id"`
	ReceiptID string    `json:"receipt_id"`
	Financier string    `json:"financier"`
	At        time.Time `json:"at"`
}

// Endorsement records a transfer of the receipt to a new holder.
type Endorsement struct {
	ID        string    `json:"id"`
	ReceiptID string    `json:"receipt_id"`
	From      Party     `json:"from"`
	To        Party     `json:"to"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}
