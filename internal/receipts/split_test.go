package receipts

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

func child(qty, price, location string) types.SplitChild {
	return types.SplitChild{Quantity: dec(qty), UnitPrice: dec(price), Location: location}
}

func TestSplit_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.normal(t, owner, "100", "10")

	sub, err := f.svc.SubmitSplit(ctx, SplitRequest{
		Actor:     owner.ID,
		ReceiptID: parent.ID,
		Children:  []types.SplitChild{child("50", "10", "B-1"), child("50", "10", "B-2")},
	})
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationPending, sub.ApplicationStatus)

	res, err := f.svc.ReviewSplit(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSplit, res.Status)
	assert.True(t, res.Synced)
	assert.Equal(t, types.ApplicationApproved, res.ApplicationStatus)
	require.Len(t, res.ChildIDs, 2)

	p := f.get(t, parent.ID)
	assert.Equal(t, types.StatusSplit, p.Status())
	assert.Equal(t, 2, p.SplitCount)
	assert.NotNil(t, p.SplitAt)

	children, err := f.svc.GetReceipts(ctx, res.ChildIDs)
	require.NoError(t, err)
	sumQty, sumValue := decimal.Zero, decimal.Zero
	for i, c := range children {
		assert.Equal(t, types.StatusNormal, c.Status())
		assert.Equal(t, types.SyncSynced, c.Ledger().Sync)
		assert.Equal(t, res.TxRef, c.Ledger().TxRef)
		assert.Equal(t, res.BlockRef, c.Ledger().BlockRef)
		assert.Equal(t, parent.ID, c.ParentID)
		assert.Equal(t, fmt.Sprintf("%s-S%d", parent.Number, i+1), c.Number)
		assert.True(t, c.Goods.Quantity.Equal(dec("50")))
		assert.True(t, c.Goods.TotalValue.Equal(dec("500")))
		sumQty = sumQty.Add(c.Goods.Quantity)
		sumValue = sumValue.Add(c.Goods.TotalValue)
	}
	assert.True(t, sumQty.Equal(parent.Goods.Quantity))
	assert.True(t, sumValue.Equal(parent.Goods.TotalValue))

	a, err := f.svc.GetApplication(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationApproved, a.Status)
	assert.Equal(t, warehouse.ID, a.Reviewer)
	assert.Equal(t, res.TxRef, a.TxRef)

	staged, err := f.store.ListStaged(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestSplit_UnevenConservingBreakdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.normal(t, owner, "10", "0.3")

	sub, err := f.svc.SubmitSplit(ctx, SplitRequest{
		Actor:     owner.ID,
		ReceiptID: parent.ID,
		Children: []types.SplitChild{
			child("3.3", "0.3", "B-1"),
			child("3.3", "0.3", "B-2"),
			child("3.4", "0.3", "B-3"),
		},
	})
	require.NoError(t, err)
	res, err := f.svc.ReviewSplit(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	require.Len(t, res.ChildIDs, 3)

	children, err := f.svc.GetReceipts(ctx, res.ChildIDs)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, c := range children {
		sum = sum.Add(c.Goods.TotalValue)
	}
	assert.Equal(t, parent.Goods.TotalValue.String(), sum.String())
}

func TestSubmitSplit_Rejects(t *testing.T) {
	tooMany := make([]types.SplitChild, 11)
	for i := range tooMany {
		tooMany[i] = child("10", "10", fmt.Sprintf("L-%d", i))
	}

	tests := []struct {
		name     string
		children []types.SplitChild
	}{
		{"quantities sum short", []types.SplitChild{child("45", "10", "B-1"), child("45", "10", "B-2")}},
		{"one child", []types.SplitChild{child("100", "10", "B-1")}},
		{"eleven children", tooMany},
		{"duplicate locations", []types.SplitChild{child("50", "10", "B-1"), child("50", "10", "B-1")}},
		{"price differs", []types.SplitChild{child("50", "12", "B-1"), child("50", "8", "B-2")}},
		{"zero quantity", []types.SplitChild{child("0", "10", "B-1"), child("100", "10", "B-2")}},
		{"missing location", []types.SplitChild{child("50", "10", ""), child("50", "10", "B-2")}},
		{"goods differ", []types.SplitChild{
			{Quantity: dec("50"), UnitPrice: dec("10"), Location: "B-1", GoodsName: "tin"},
			child("50", "10", "B-2"),
		}},
		{"total mismatch", []types.SplitChild{
			{Quantity: dec("50"), UnitPrice: dec("10"), TotalValue: dec("499"), Location: "B-1"},
			child("50", "10", "B-2"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			parent := f.normal(t, owner, "100", "10")

			_, err := f.svc.SubmitSplit(ctx, SplitRequest{Actor: owner.ID, ReceiptID: parent.ID, Children: tt.children})
			require.ErrorIs(t, err, types.ErrValidation)

			assert.Equal(t, types.StatusNormal, f.get(t, parent.ID).Status())
			apps, err := f.svc.ListApplications(ctx, types.ApplicationFilter{ReceiptID: parent.ID})
			require.NoError(t, err)
			assert.Empty(t, apps)
		})
	}
}

func TestSubmitSplit_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	children := []types.SplitChild{child("50", "10", "B-1"), child("50", "10", "B-2")}

	d := f.draft(t, owner, "100", "10")
	_, err := f.svc.SubmitSplit(ctx, SplitRequest{Actor: owner.ID, ReceiptID: d.ID, Children: children})
	assert.ErrorIs(t, err, types.ErrStateConflict)

	n := f.normal(t, owner, "100", "10")
	_, err = f.svc.SubmitSplit(ctx, SplitRequest{Actor: owner2.ID, ReceiptID: n.ID, Children: children})
	assert.ErrorIs(t, err, types.ErrPermission)

	_, err = f.svc.SubmitSplit(ctx, SplitRequest{Actor: owner.ID, ReceiptID: "missing", Children: children})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSplit_LedgerFailureLeavesNoOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.normal(t, owner, "100", "10")
	children := []types.SplitChild{child("50", "10", "B-1"), child("50", "10", "B-2")}

	sub, err := f.svc.SubmitSplit(ctx, SplitRequest{Actor: owner.ID, ReceiptID: parent.ID, Children: children})
	require.NoError(t, err)
	f.ledger.FailNext(types.StepSubmitSplit, 1)

	res, err := f.svc.ReviewSplit(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StepSubmitSplit, res.FailedStep)
	assert.Equal(t, types.StatusNormal, res.Status)
	assert.Equal(t, types.ApplicationFailed, res.ApplicationStatus)
	assert.Empty(t, res.ChildIDs)

	all, err := f.svc.ListReceipts(ctx, types.ReceiptFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, parent.ID, all[0].ID)
	staged, err := f.store.ListStaged(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Empty(t, staged)

	a, err := f.svc.GetApplication(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Contains(t, a.FailedReason, types.StepSubmitSplit)

	// The failed application released the pending slot.
	again, err := f.svc.SubmitSplit(ctx, SplitRequest{Actor: owner.ID, ReceiptID: parent.ID, Children: children})
	require.NoError(t, err)
	res, err = f.svc.ReviewSplit(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: again.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSplit, res.Status)
}

func TestReviewSplit_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.normal(t, owner, "100", "10")
	sub, err := f.svc.SubmitSplit(ctx, SplitRequest{
		Actor: owner.ID, ReceiptID: parent.ID,
		Children: []types.SplitChild{child("50", "10", "B-1"), child("50", "10", "B-2")},
	})
	require.NoError(t, err)

	_, err = f.svc.ReviewSplit(ctx, ReviewRequest{Actor: owner.ID, ApplicationID: sub.ApplicationID})
	assert.ErrorIs(t, err, types.ErrPermission)

	res, err := f.svc.ReviewSplit(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Note: "keep whole"})
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationRejected, res.ApplicationStatus)
	assert.Equal(t, types.StatusNormal, f.get(t, parent.ID).Status())
	assert.Equal(t, 0, f.writes(types.StepSubmitSplit))

	_, err = f.svc.ReviewSplit(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	assert.ErrorIs(t, err, types.ErrStateConflict)

	_, err = f.svc.ReviewMerge(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestPendingApplication_OnePerReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")

	_, err := f.svc.SubmitSplit(ctx, SplitRequest{
		Actor: owner.ID, ReceiptID: r.ID,
		Children: []types.SplitChild{child("50", "10", "B-1"), child("50", "10", "B-2")},
	})
	require.NoError(t, err)

	_, err = f.svc.SubmitCancel(ctx, CancelRequest{Actor: owner.ID, ReceiptID: r.ID, Reason: "x", Type: string(types.CancelByOwner)})
	assert.ErrorIs(t, err, types.ErrStateConflict)
	_, err = f.svc.SubmitFreeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "audit"})
	assert.ErrorIs(t, err, types.ErrStateConflict)

	apps, err := f.svc.ListApplications(ctx, types.ApplicationFilter{ReceiptID: r.ID, Status: types.ApplicationPending})
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestPendingApplication_ConcurrentSubmitters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.svc.SubmitCancel(ctx, CancelRequest{
				Actor: owner.ID, ReceiptID: r.ID, Reason: "dup", Type: string(types.CancelByOwner),
			})
			errs <- err
		}()
	}
	ok := 0
	for i := 0; i < n; i++ {
		err := <-errs
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, types.ErrStateConflict)
	}
	assert.Equal(t, 1, ok)
}
