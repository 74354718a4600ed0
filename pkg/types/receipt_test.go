package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDraftReceiptComputesTotalValue(t *testing.T) {
	r := newTestReceipt(t)
	assert.Equal(t, StatusDraft, r.Status())
	assert.True(t, r.Goods.TotalValue.Equal(decimal.NewFromInt(1000)), "got %s", r.Goods.TotalValue)
	assert.Equal(t, SyncPending, r.Ledger().Sync)
}

func TestNewDraftReceiptValidation(t *testing.T) {
	good := Goods{
		Name:      "wheat",
		Unit:      "t",
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(1),
	}
	owner := Party{ID: "o", Address: ownerAddr}
	wh := Party{ID: "w", Address: warehouseAddr}

	tests := []struct {
		name      string
		owner     Party
		goods     func(Goods) Goods
		wantField string
	}{
		{name: "bad owner address", owner: Party{ID: "o", Address: "not-hex"}, goods: func(g Goods) Goods { return g }, wantField: "owner.address"},
		{name: "empty owner id", owner: Party{Address: ownerAddr}, goods: func(g Goods) Goods { return g }, wantField: "owner.id"},
		{name: "zero quantity", owner: owner, goods: func(g Goods) Goods { g.Quantity = decimal.Zero; return g }, wantField: "goods.quantity"},
		{name: "negative price", owner: owner, goods: func(g Goods) Goods { g.UnitPrice = decimal.NewFromInt(-1); return g }, wantField: "goods.unit_price"},
		{name: "empty name", owner: owner, goods: func(g Goods) Goods { g.Name = " "; return g }, wantField: "goods.name"},
		{
			name:  "expiry before storage",
			owner: owner,
			goods: func(g Goods) Goods {
				g.StorageDate = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
				exp := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
				g.ExpiryDate = &exp
				return g
			},
			wantField: "goods.expiry_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDraftReceipt("id", "WR-1", tt.owner, wh, tt.owner, tt.goods(good), "o", time.Now())
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestGoodsWithUnitPriceKeepsValueInvariant(t *testing.T) {
	r := newTestReceipt(t)
	g := r.Goods.WithUnitPrice(decimal.RequireFromString("12.35"))
	assert.True(t, g.TotalValue.Equal(decimal.RequireFromString("1235")), "got %s", g.TotalValue)
	assert.NoError(t, g.Validate())
}

func TestPartyNormalization(t *testing.T) {
	lower := Party{ID: "p", Address: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"}
	upper := Party{ID: "p", Address: "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"}
	assert.True(t, lower.SameAs(upper))
	assert.Equal(t, lower.Normalized().Address, upper.Normalized().Address)
	assert.False(t, lower.SameAs(Party{ID: "q", Address: lower.Address}))
}

func TestStateRoundTrip(t *testing.T) {
	for _, s := range AllStatuses {
		t.Run(string(s), func(t *testing.T) {
			st := stateFor(s)
			data, err := MarshalState(st)
			require.NoError(t, err)

			got, err := UnmarshalState(s, data)
			require.NoError(t, err)
			assert.Equal(t, st, got)
		})
	}

	_, err := UnmarshalState("BOGUS", []byte("{}"))
	assert.Error(t, err)
}

func TestRestoreReceiptInstallsVariant(t *testing.T) {
	r := &Receipt{ID: "x"}
	data, err := MarshalState(Frozen{Prior: StatusNormal, Freeze: FreezeRecord{Actor: "court", Reason: "order"}})
	require.NoError(t, err)
	require.NoError(t, RestoreReceipt(r, StatusFrozen, data))

	info, ok := r.FreezeInfo()
	require.True(t, ok)
	assert.Equal(t, "court", info.Actor)
	assert.Equal(t, StatusFrozen, r.Status())
}

func TestReceiptMarshalJSONIncludesStatus(t *testing.T) {
	r := newTestReceipt(t)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"status":"DRAFT"`), string(data))
	assert.True(t, strings.Contains(string(data), `"total_value":"1000"`), string(data))
}

func TestParseUnfreezeTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantEv  Event
		wantErr bool
	}{
		{in: "NORMAL", want: StatusNormal, wantEv: EventUnfreezeToNormal},
		{in: "PLEDGED", want: StatusPledged, wantEv: EventUnfreezeToPledged},
		{in: "TRANSFERRED", want: StatusTransferred, wantEv: EventUnfreezeToTransferred},
		{in: "DRAFT", wantErr: true},
		{in: "normal", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ev, err := ParseUnfreezeTarget(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantEv, ev)
		})
	}
}

func TestApplicationDecide(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := &Application{ID: "a", Kind: KindCancel, ReceiptIDs: []string{"r"}, Status: ApplicationPending, Cancel: &CancelPayload{Reason: "x"}}
	require.NoError(t, a.Validate())
	require.NoError(t, a.Decide(ApplicationApproved, "rev", "ok", at))
	assert.Equal(t, "rev", a.Reviewer)
	require.NotNil(t, a.ReviewedAt)

	err := a.Decide(ApplicationRejected, "rev", "", at)
	assert.True(t, errors.Is(err, ErrStateConflict))

	bad := &Application{ID: "b", Kind: KindSplit, ReceiptIDs: []string{"r"}}
	assert.True(t, errors.Is(bad.Validate(), ErrValidation))
}
