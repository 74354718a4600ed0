package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Party identifies an owner, warehouse or holder by an internal id and the
// ledger address it signs with.
type Party struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
}

// Validate checks that the party carries an id and a well-formed address.
func (p Party) Validate(field string) error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError(field+".id", "must not be empty")
	}
	if !common.IsHexAddress(p.Address) {
		return NewValidationError(field+".address", fmt.Sprintf("%q is not a ledger address", p.Address))
	}
	return nil
}

// Normalized returns the party with its address in checksum form so that
// equality checks do not depend on letter case.
func (p Party) Normalized() Party {
	if common.IsHexAddress(p.Address) {
		p.Address = common.HexToAddress(p.Address).Hex()
	}
	return p
}

// SameAs reports whether two parties name the same id and address.
func (p Party) SameAs(o Party) bool {
	a, b := p.Normalized(), o.Normalized()
	return a.ID == b.ID && a.Address == b.Address
}

// Goods describes what a receipt represents. TotalValue always equals
// Quantity * UnitPrice.
type Goods struct {
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Location    string          `json:"location"`
	StorageDate time.Time       `json:"storage_date"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// Validate checks quantities, prices and the value invariant.
func (g Goods) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return NewValidationError("goods.name", "must not be empty")
	}
	if strings.TrimSpace(g.Unit) == "" {
		return NewValidationError("goods.unit", "must not be empty")
	}
	if !g.Quantity.IsPositive() {
		return NewValidationError("goods.quantity", "must be greater than zero")
	}
	if !g.UnitPrice.IsPositive() {
		return NewValidationError("goods.unit_price", "must be greater than zero")
	}
	if !g.TotalValue.Equal(g.Quantity.Mul(g.UnitPrice)) {
		return NewValidationError("goods.total_value",
			fmt.Sprintf("%s does not equal quantity %s x unit price %s", g.TotalValue, g.Quantity, g.UnitPrice))
	}
	if g.ExpiryDate != nil && !g.StorageDate.IsZero() && g.ExpiryDate.Before(g.StorageDate) {
		return NewValidationError("goods.expiry_date", "must not precede the storage date")
	}
	return nil
}

// WithUnitPrice returns g repriced, with TotalValue recomputed.
func (g Goods) WithUnitPrice(price decimal.Decimal) Goods {
	g.UnitPrice = price
	g.TotalValue = g.Quantity.Mul(price)
	return g
}

// Receipt is a tokenized warehouse-deposit record.
type Receipt struct {
	ID        string
	Number    string
	Owner     Party
	Warehouse Party
	Holder    Party
	Goods     Goods

	ParentID   string
	SourceIDs  []string
	SplitCount int
	SplitAt    *time.Time
	MergeCount int
	MergedAt   *time.Time

	CreatedBy string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	state State
}

// NewDraftReceipt creates a receipt in DRAFT. TotalValue is computed from
// quantity and unit price; any value supplied by the caller is ignored.
func NewDraftReceipt(id, number string, owner, warehouse, holder Party, goods Goods, createdBy string, at time.Time) (*Receipt, error) {
	goods.TotalValue = goods.Quantity.Mul(goods.UnitPrice)
	r := &Receipt{
		ID:        id,
		Number:    number,
		Owner:     owner.Normalized(),
		Warehouse: warehouse.Normalized(),
		Holder:    holder.Normalized(),
		Goods:     goods,
		CreatedBy: createdBy,
		CreatedAt: at,
		UpdatedAt: at,
		state:     Draft{},
	}
	if err := r.validateShape(); err != nil {
		return nil, err
	}
	return r, nil
}

// Derivation describes a receipt produced by a split or merge.
type Derivation struct {
	ID        string
	Number    string
	Owner     Party
	Warehouse Party
	Holder    Party
	Goods     Goods
	ParentID  string
	SourceIDs []string
	CreatedBy string
	At        time.Time
}

// NewDerivedReceipt creates a split child or merge product. It is born
// NORMAL with ledger sync PENDING; the structural ledger call confirms it
// through EventSyncConfirmed.
func NewDerivedReceipt(d Derivation) (*Receipt, error) {
	r := &Receipt{
		ID:        d.ID,
		Number:    d.Number,
		Owner:     d.Owner.Normalized(),
		Warehouse: d.Warehouse.Normalized(),
		Holder:    d.Holder.Normalized(),
		Goods:     d.Goods,
		ParentID:  d.ParentID,
		SourceIDs: append([]string(nil), d.SourceIDs...),
		CreatedBy: d.CreatedBy,
		CreatedAt: d.At,
		UpdatedAt: d.At,
		state:     Normal{Ledger: LedgerRef{Sync: SyncPending}},
	}
	if len(d.SourceIDs) > 0 {
		r.MergeCount = len(d.SourceIDs)
		at := d.At
		r.MergedAt = &at
	}
	if err := r.validateShape(); err != nil {
		return nil, err
	}
	return r, nil
}

// RestoreReceipt installs a persisted variant on a receipt loaded from a
// store. The variant is decoded against the stored status.
func RestoreReceipt(r *Receipt, status Status, stateJSON []byte) error {
	s, err := UnmarshalState(status, stateJSON)
	if err != nil {
		return err
	}
	r.state = s
	return nil
}

func (r *Receipt) validateShape() error {
	if r.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	if r.Number == "" {
		return NewValidationError("number", "must not be empty")
	}
	if err := r.Owner.Validate("owner"); err != nil {
		return err
	}
	if err := r.Warehouse.Validate("warehouse"); err != nil {
		return err
	}
	if err := r.Holder.Validate("holder"); err != nil {
		return err
	}
	return r.Goods.Validate()
}

// State returns the current variant.
func (r *Receipt) State() State {
	if r.state == nil {
		return Draft{}
	}
	return r.state
}

// Status returns the current status.
func (r *Receipt) Status() Status { return r.State().Status() }

// Ledger returns the ledger linkage implied by the current variant.
func (r *Receipt) Ledger() LedgerRef { return ledgerOf(r.State()) }

// Cancellation returns cancellation metadata when the receipt is cancelled.
func (r *Receipt) Cancellation() (Cancellation, bool) {
	c, ok := r.State().(Cancelled)
	return c.Cancellation, ok
}

// FreezeInfo returns the freeze record when the receipt is frozen.
func (r *Receipt) FreezeInfo() (FreezeRecord, bool) {
	f, ok := r.State().(Frozen)
	return f.Freeze, ok
}

// SyncToken returns the idempotency token of the initial ledger commit, if
// one has been minted.
func (r *Receipt) SyncToken() string {
	switch v := r.State().(type) {
	case PendingOnchain:
		return v.SyncToken
	case OnchainFailed:
		return v.SyncToken
	}
	return ""
}

// Clone returns a deep copy suitable for compare-and-swap updates.
func (r *Receipt) Clone() *Receipt {
	c := *r
	c.SourceIDs = append([]string(nil), r.SourceIDs...)
	if r.Goods.ExpiryDate != nil {
		t := *r.Goods.ExpiryDate
		c.Goods.ExpiryDate = &t
	}
	return &c
}

// receiptJSON is the wire shape used for CLI output and JSONL export.
type receiptJSON struct {
	ID         string     `json:"id"`
	Number     string     `json:"number"`
	Owner      Party      `json:"owner"`
	Warehouse  Party      `json:"warehouse"`
	Holder     Party      `json:"holder"`
	Goods      Goods      `json:"goods"`
	Status     Status     `json:"status"`
	Ledger     LedgerRef  `json:"ledger"`
	State      State      `json:"state"`
	ParentID   string     `json:"parent_id,omitempty"`
	SourceIDs  []string   `json:"source_ids,omitempty"`
	SplitCount int        `json:"split_count,omitempty"`
	SplitAt    *time.Time `json:"split_at,omitempty"`
	MergeCount int        `json:"merge_count,omitempty"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
	CreatedBy  string     `json:"created_by"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// MarshalJSON renders the receipt with its status and variant.
func (r *Receipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(receiptJSON{
		ID:         r.ID,
		Number:     r.Number,
		Owner:      r.Owner,
		Warehouse:  r.Warehouse,
		Holder:     r.Holder,
		Goods:      r.Goods,
		Status:     r.Status(),
		Ledger:     r.Ledger(),
		State:      r.State(),
		ParentID:   r.ParentID,
		SourceIDs:  r.SourceIDs,
		SplitCount: r.SplitCount,
		SplitAt:    r.SplitAt,
		MergeCount: r.MergeCount,
		MergedAt:   r.MergedAt,
		CreatedBy:  r.CreatedBy,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		DeletedAt:  r.DeletedAt,
	})
}
