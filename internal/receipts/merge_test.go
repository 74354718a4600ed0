package receipts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

func TestMerge_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.normal(t, owner, "10", "10")
	b := f.normal(t, owner, "20", "10")
	c := f.normal(t, owner, "30", "10")
	ids := []string{a.ID, b.ID, c.ID}

	sub, err := f.svc.SubmitMerge(ctx, MergeRequest{Actor: owner.ID, ReceiptIDs: ids, Location: "C-9"})
	require.NoError(t, err)
	assert.Equal(t, ids, sub.SourceIDs)
	assert.Equal(t, types.ApplicationPending, sub.ApplicationStatus)

	res, err := f.svc.ReviewMerge(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.True(t, res.Synced)
	assert.Equal(t, types.StatusMerged, res.Status)
	assert.Equal(t, types.ApplicationApproved, res.ApplicationStatus)
	require.NotEmpty(t, res.MergedID)

	for _, id := range ids {
		assert.Equal(t, types.StatusMerged, f.get(t, id).Status())
	}
	merged := f.get(t, res.MergedID)
	assert.Equal(t, types.StatusNormal, merged.Status())
	assert.Equal(t, types.SyncSynced, merged.Ledger().Sync)
	assert.True(t, strings.HasPrefix(merged.Number, "WR-M-"), merged.Number)
	assert.True(t, merged.Goods.Quantity.Equal(dec("60")))
	assert.True(t, merged.Goods.TotalValue.Equal(dec("600")))
	assert.Equal(t, "C-9", merged.Goods.Location)
	assert.ElementsMatch(t, ids, merged.SourceIDs)
	assert.True(t, merged.Owner.SameAs(owner))
	assert.Equal(t, 1, f.writes(types.StepSubmitMerge))

	audit, err := f.svc.AuditTrail(ctx, merged.ID)
	require.NoError(t, err)
	var actions []types.AuditAction
	for _, e := range audit {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, types.AuditStructuralOutput)
}

func TestMerge_KeepsEarliestExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.normal(t, owner, "10", "10")
	f.clock.Advance(48 * time.Hour)
	b := f.normal(t, owner, "10", "10")

	sub, err := f.svc.SubmitMerge(ctx, MergeRequest{Actor: owner.ID, ReceiptIDs: []string{b.ID, a.ID}, Location: "C-1"})
	require.NoError(t, err)
	res, err := f.svc.ReviewMerge(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)

	merged := f.get(t, res.MergedID)
	require.NotNil(t, merged.Goods.ExpiryDate)
	assert.True(t, merged.Goods.ExpiryDate.Equal(*a.Goods.ExpiryDate))
	assert.True(t, merged.Goods.StorageDate.Equal(a.Goods.StorageDate))
}

func TestSubmitMerge_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		sources func(f *fixture, t *testing.T) []string
		wantErr error
	}{
		{"different owners", func(f *fixture, t *testing.T) []string {
			return []string{f.normal(t, owner, "10", "10").ID, f.normal(t, owner2, "10", "10").ID}
		}, types.ErrValidation},
		{"different unit price", func(f *fixture, t *testing.T) []string {
			return []string{f.normal(t, owner, "10", "10").ID, f.normal(t, owner, "10", "11").ID}
		}, types.ErrValidation},
		{"duplicate ids", func(f *fixture, t *testing.T) []string {
			id := f.normal(t, owner, "10", "10").ID
			return []string{id, id}
		}, types.ErrValidation},
		{"single source", func(f *fixture, t *testing.T) []string {
			return []string{f.normal(t, owner, "10", "10").ID}
		}, types.ErrValidation},
		{"source not normal", func(f *fixture, t *testing.T) []string {
			return []string{f.normal(t, owner, "10", "10").ID, f.draft(t, owner, "10", "10").ID}
		}, types.ErrStateConflict},
		{"unknown source", func(f *fixture, t *testing.T) []string {
			return []string{f.normal(t, owner, "10", "10").ID, "missing"}
		}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ids := tt.sources(f, t)

			_, err := f.svc.SubmitMerge(context.Background(), MergeRequest{Actor: owner.ID, ReceiptIDs: ids, Location: "C-1"})
			require.ErrorIs(t, err, tt.wantErr)

			apps, err := f.svc.ListApplications(context.Background(), types.ApplicationFilter{Kind: types.KindMerge})
			require.NoError(t, err)
			assert.Empty(t, apps)
		})
	}
}

func TestSubmitMerge_RequiresHolder(t *testing.T) {
	f := newFixture(t)
	a := f.normal(t, owner, "10", "10")
	b := f.normal(t, owner, "10", "10")

	_, err := f.svc.SubmitMerge(context.Background(), MergeRequest{Actor: owner2.ID, ReceiptIDs: []string{a.ID, b.ID}, Location: "C-1"})
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestMerge_LedgerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.normal(t, owner, "10", "10")
	b := f.normal(t, owner, "20", "10")

	sub, err := f.svc.SubmitMerge(ctx, MergeRequest{Actor: owner.ID, ReceiptIDs: []string{a.ID, b.ID}, Location: "C-1"})
	require.NoError(t, err)
	f.ledger.FailNext(types.StepSubmitMerge, 1)

	res, err := f.svc.ReviewMerge(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StepSubmitMerge, res.FailedStep)
	assert.Equal(t, types.ApplicationFailed, res.ApplicationStatus)
	assert.Empty(t, res.MergedID)

	assert.Equal(t, types.StatusNormal, f.get(t, a.ID).Status())
	assert.Equal(t, types.StatusNormal, f.get(t, b.ID).Status())
	all, err := f.svc.ListReceipts(ctx, types.ReceiptFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	staged, err := f.store.ListStaged(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestReviewMerge_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.normal(t, owner, "10", "10")
	b := f.normal(t, owner, "20", "10")
	sub, err := f.svc.SubmitMerge(ctx, MergeRequest{Actor: owner.ID, ReceiptIDs: []string{a.ID, b.ID}, Location: "C-1"})
	require.NoError(t, err)

	res, err := f.svc.ReviewMerge(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Note: "no"})
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationRejected, res.ApplicationStatus)
	assert.Empty(t, res.ReceiptID)
	assert.Equal(t, []string{a.ID, b.ID}, res.SourceIDs)

	app, err := f.svc.GetApplication(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, "no", app.ReviewNote)
	assert.Equal(t, 0, f.writes(types.StepSubmitMerge))
}
