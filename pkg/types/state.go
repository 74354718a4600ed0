package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the sealed set of per-status variants. Each variant carries only
// the fields meaningful to its status.
type State interface {
	Status() Status
	sealed()
}

// LedgerRef links a receipt to the ledger transaction that last confirmed it.
type LedgerRef struct {
	TxRef    string     `json:"tx_ref,omitempty"`
	BlockRef string     `json:"block_ref,omitempty"`
	Sync     SyncStatus `json:"sync_status"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// Rejection annotates a draft that a reviewer sent back.
type Rejection struct {
	Actor  string    `json:"actor"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// SyncFailure records which ledger step failed and why.
type SyncFailure struct {
	Step   string    `json:"step"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// FreezeRecord describes who froze a receipt and on what authority.
type FreezeRecord struct {
	Actor        string       `json:"actor"`
	OperatorType OperatorType `json:"operator_type"`
	Reason       string       `json:"reason"`
	ReferenceNo  string       `json:"reference_no,omitempty"`
	TxRef        string       `json:"tx_ref,omitempty"`
	At           time.Time    `json:"at"`
}

// Cancellation is the metadata attached to a cancelled receipt.
type Cancellation struct {
	Reason      string     `json:"reason"`
	Type        CancelType `json:"type"`
	Actor       string     `json:"actor"`
	At          time.Time  `json:"at"`
	NotaryTxRef string     `json:"notary_tx_ref,omitempty"`
}

// Draft is the initial, owner-editable state.
type Draft struct {
	Rejections []Rejection `json:"rejections,omitempty"`
}

// PendingOnchain is staged for the initial ledger commit. SyncToken is the
// idempotency token reused by every attempt of the same logical commit.
type PendingOnchain struct {
	SyncToken string    `json:"sync_token"`
	Attempt   int       `json:"attempt"`
	StagedAt  time.Time `json:"staged_at"`
}

// Normal is a committed, freely usable receipt.
type Normal struct {
	Ledger LedgerRef `json:"ledger"`
}

// OnchainFailed marks divergence between the store and the ledger after a
// failed initial commit.
type OnchainFailed struct {
	SyncToken string      `json:"sync_token"`
	Attempts  int         `json:"attempts"`
	Failure   SyncFailure `json:"failure"`
}

// Pledged is a receipt used as collateral with a financier.
type Pledged struct {
	Ledger    LedgerRef `json:"ledger"`
	Financier string    `json:"financier"`
}

// Transferred is a receipt endorsed to a new holder.
type Transferred struct {
	Ledger LedgerRef `json:"ledger"`
}

// Frozen remembers the state it was frozen from.
type Frozen struct {
	Ledger    LedgerRef    `json:"ledger"`
	Prior     Status       `json:"prior"`
	Financier string       `json:"financier,omitempty"`
	Freeze    FreezeRecord `json:"freeze"`
}

// Splitting is a parent whose split has been approved and is being
// submitted to the ledger.
type Splitting struct {
	Ledger        LedgerRef `json:"ledger"`
	ApplicationID string    `json:"application_id"`
	ChildIDs      []string  `json:"child_ids"`
}

// Split is a parent that has been replaced by its children.
type Split struct {
	Ledger   LedgerRef `json:"ledger"`
	ChildIDs []string  `json:"child_ids"`
}

// Merging is a merge source whose merge is being submitted to the ledger.
type Merging struct {
	Ledger        LedgerRef `json:"ledger"`
	ApplicationID string    `json:"application_id"`
	MergedID      string    `json:"merged_id"`
}

// Merged is a merge source that has been absorbed into MergedInto.
type Merged struct {
	Ledger     LedgerRef `json:"ledger"`
	MergedInto string    `json:"merged_into"`
}

// Cancelling is an approved cancellation that has not been finalized.
type Cancelling struct {
	Prior         Status    `json:"prior"`
	Ledger        LedgerRef `json:"ledger"`
	ApplicationID string    `json:"application_id"`
}

// Cancelled is terminal.
type Cancelled struct {
	Ledger       LedgerRef    `json:"ledger"`
	Cancellation Cancellation `json:"cancellation"`
}

// Expired is a receipt past its expiry date.
type Expired struct {
	Ledger    LedgerRef `json:"ledger"`
	ExpiredAt time.Time `json:"expired_at"`
}

// Delivered is a receipt whose goods have left the warehouse.
type Delivered struct {
	Ledger      LedgerRef `json:"ledger"`
	DeliveredAt time.Time `json:"delivered_at"`
}

func (Draft) Status() Status          { return StatusDraft }
func (PendingOnchain) Status() Status { return StatusPendingOnchain }
func (Normal) Status() Status         { return StatusNormal }
func (OnchainFailed) Status() Status  { return StatusOnchainFailed }
func (Pledged) Status() Status        { return StatusPledged }
func (Transferred) Status() Status    { return StatusTransferred }
func (Frozen) Status() Status         { return StatusFrozen }
func (Splitting) Status() Status      { return StatusSplitting }
func (Split) Status() Status          { return StatusSplit }
func (Merging) Status() Status        { return StatusMerging }
func (Merged) Status() Status         { return StatusMerged }
func (Cancelling) Status() Status     { return StatusCancelling }
func (Cancelled) Status() Status      { return StatusCancelled }
func (Expired) Status() Status        { return StatusExpired }
func (Delivered) Status() Status      { return StatusDelivered }

func (Draft) sealed()          {}
func (PendingOnchain) sealed() {}
func (Normal) sealed()         {}
func (OnchainFailed) sealed()  {}
func (Pledged) sealed()        {}
func (Transferred) sealed()    {}
func (Frozen) sealed()         {}
func (Splitting) sealed()      {}
func (Split) sealed()          {}
func (Merging) sealed()        {}
func (Merged) sealed()         {}
func (Cancelling) sealed()     {}
func (Cancelled) sealed()      {}
func (Expired) sealed()        {}
func (Delivered) sealed()      {}

// ledgerOf returns the ledger linkage carried by s.
func ledgerOf(s State) LedgerRef {
	switch v := s.(type) {
	case Draft, PendingOnchain:
		return LedgerRef{Sync: SyncPending}
	case OnchainFailed:
		return LedgerRef{Sync: SyncFailed}
	case Normal:
		return v.Ledger
	case Pledged:
		return v.Ledger
	case Transferred:
		return v.Ledger
	case Frozen:
		return v.Ledger
	case Splitting:
		return v.Ledger
	case Split:
		return v.Ledger
	case Merging:
		return v.Ledger
	case Merged:
		return v.Ledger
	case Cancelling:
		return v.Ledger
	case Cancelled:
		return v.Ledger
	case Expired:
		return v.Ledger
	case Delivered:
		return v.Ledger
	}
	return LedgerRef{}
}

// MarshalState encodes a variant for storage next to its status column.
func MarshalState(s State) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("marshal state: nil state")
	}
	return json.Marshal(s)
}

// UnmarshalState decodes the variant stored for status.
func UnmarshalState(status Status, data []byte) (State, error) {
	var (
		s   State
		err error
	)
	switch status {
	case StatusDraft:
		s, err = decodeState[Draft](data)
	case StatusPendingOnchain:
		s, err = decodeState[PendingOnchain](data)
	case StatusNormal:
		s, err = decodeState[Normal](data)
	case StatusOnchainFailed:
		s, err = decodeState[OnchainFailed](data)
	case StatusPledged:
		s, err = decodeState[Pledged](data)
	case StatusTransferred:
		s, err = decodeState[Transferred](data)
	case StatusFrozen:
		s, err = decodeState[Frozen](data)
	case StatusSplitting:
		s, err = decodeState[Splitting](data)
	case StatusSplit:
		s, err = decodeState[Split](data)
	case StatusMerging:
		s, err = decodeState[Merging](data)
	case StatusMerged:
		s, err = decodeState[Merged](data)
	case StatusCancelling:
		s, err = decodeState[Cancelling](data)
	case StatusCancelled:
		s, err = decodeState[Cancelled](data)
	case StatusExpired:
		s, err = decodeState[Expired](data)
	case StatusDelivered:
		s, err = decodeState[Delivered](data)
	default:
		return nil, fmt.Errorf("unmarshal state: unknown status %q", status)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s state: %w", status, err)
	}
	return s, nil
}

func decodeState[T State](data []byte) (State, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
