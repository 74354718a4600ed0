package types

import "context"

// LedgerClient is the external append-only ledger. Every write carries an
// idempotency token; resubmitting a token that already committed returns
// the original transaction reference instead of writing again.
type LedgerClient interface {
	SubmitCreate(ctx context.Context, token string, payload CreatePayload) (string, error)
	SubmitVerify(ctx context.Context, token, receiptID string) (string, error)
	SubmitSplit(ctx context.Context, token, parentID string, childIDs []string, count int) (string, error)
	SubmitMerge(ctx context.Context, token string, sourceIDs []string, mergedID string) (string, error)
	SubmitCancel(ctx context.Context, token, receiptID, reason string) (string, error)
	SubmitFreeze(ctx context.Context, token, receiptID, reason, referenceNo string) (string, error)
	SubmitUnfreeze(ctx context.Context, token, receiptID string, target Status) (string, error)
	QueryBlockReference(ctx context.Context, txRef string) (string, error)
}

// CreatePayload is what the ledger records for a new receipt.
type CreatePayload struct {
	ReceiptID  string `json:"receipt_id"`
	Number     string `json:"number"`
	Owner      string `json:"owner"`
	Warehouse  string `json:"warehouse"`
	Holder     string `json:"holder"`
	GoodsName  string `json:"goods_name"`
	Unit       string `json:"unit"`
	Quantity   string `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	TotalValue string `json:"total_value"`
}

// NewCreatePayload builds the ledger payload for r.
func NewCreatePayload(r *Receipt) CreatePayload {
	return CreatePayload{
		ReceiptID:  r.ID,
		Number:     r.Number,
		Owner:      r.Owner.Address,
		Warehouse:  r.Warehouse.Address,
		Holder:     r.Holder.Address,
		GoodsName:  r.Goods.Name,
		Unit:       r.Goods.Unit,
		Quantity:   r.Goods.Quantity.String(),
		UnitPrice:  r.Goods.UnitPrice.String(),
		TotalValue: r.Goods.TotalValue.String(),
	}
}

// Ledger steps, reported when a submission fails.
const (
	StepSubmitCreate   = "submit_create"
	StepSubmitVerify   = "submit_verify"
	StepQueryBlock     = "query_block"
	StepSubmitSplit    = "submit_split"
	StepSubmitMerge    = "submit_merge"
	StepSubmitCancel   = "submit_cancel"
	StepSubmitFreeze   = "submit_freeze"
	StepSubmitUnfreeze = "submit_unfreeze"
	// StepFinalize reports a write that landed on the ledger after the
	// receipt left the state it was meant for.
	StepFinalize = "finalize"
)
