package receipts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/receipts/internal/authz"
	"github.com/mesh-intelligence/receipts/internal/ledger"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

// interceptLedger runs a hook once right after a freeze or unfreeze lands,
// while the service holds no lock.
type interceptLedger struct {
	*ledger.Devnet
	afterFreeze   func()
	afterUnfreeze func()
}

func (l *interceptLedger) SubmitFreeze(ctx context.Context, token, receiptID, reason, referenceNo string) (string, error) {
	tx, err := l.Devnet.SubmitFreeze(ctx, token, receiptID, reason, referenceNo)
	if hook := l.afterFreeze; hook != nil {
		l.afterFreeze = nil
		hook()
	}
	return tx, err
}

func (l *interceptLedger) SubmitUnfreeze(ctx context.Context, token, receiptID string, target types.Status) (string, error) {
	tx, err := l.Devnet.SubmitUnfreeze(ctx, token, receiptID, target)
	if hook := l.afterUnfreeze; hook != nil {
		l.afterUnfreeze = nil
		hook()
	}
	return tx, err
}

func (f *fixture) intercept(t *testing.T) *interceptLedger {
	t.Helper()
	l := &interceptLedger{Devnet: f.ledger}
	svc, err := New(f.store, l, authz.NewPolicy([]string{admin}, owner, owner2, warehouse, bank),
		WithClock(f.clock.Now), WithUnfreezePolicy(types.UnfreezeAdmin))
	require.NoError(t, err)
	f.svc = svc
	return l
}

func strandedEntry(t *testing.T, f *fixture, receiptID string) types.AuditEntry {
	t.Helper()
	trail, err := f.svc.AuditTrail(context.Background(), receiptID)
	require.NoError(t, err)
	for _, e := range trail {
		if e.Action == types.AuditLedgerFailure {
			return e
		}
	}
	require.Fail(t, "no ledger failure in audit trail")
	return types.AuditEntry{}
}

func TestFreeze_OperatorTypes(t *testing.T) {
	tests := []struct {
		name    string
		pledge  bool
		actor   string
		op      types.OperatorType
		wantErr error
	}{
		{"warehouse keeper", false, warehouse.ID, types.OperatorWarehouse, nil},
		{"owner posing as warehouse", false, owner.ID, types.OperatorWarehouse, types.ErrPermission},
		{"financier without financing", false, bank.ID, types.OperatorFinancier, types.ErrPermission},
		{"financier of a pledged receipt", true, bank.ID, types.OperatorFinancier, nil},
		{"other financier of a pledged receipt", true, "fund-9", types.OperatorFinancier, types.ErrPermission},
		{"administrator posing as warehouse", false, admin, types.OperatorWarehouse, types.ErrPermission},
		{"platform", false, admin, types.OperatorPlatform, nil},
		{"court", false, "court-7", types.OperatorCourt, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			r := f.normal(t, owner, "100", "10")
			if tt.pledge {
				_, err := f.svc.Pledge(ctx, owner.ID, r.ID, bank.ID)
				require.NoError(t, err)
			}
			prior := f.get(t, r.ID).Status()

			res, err := f.svc.Freeze(ctx, FreezeRequest{
				Actor: tt.actor, ReceiptID: r.ID, OperatorType: string(tt.op), Reason: "dispute", ReferenceNo: "REF-1",
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, prior, f.get(t, r.ID).Status())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.StatusFrozen, res.Status)
			rec, ok := f.get(t, r.ID).FreezeInfo()
			require.True(t, ok)
			assert.Equal(t, tt.actor, rec.Actor)
			assert.Equal(t, tt.op, rec.OperatorType)
			assert.Equal(t, "REF-1", rec.ReferenceNo)
		})
	}
}

func TestFreeze_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t, owner, "100", "10")
	n := f.normal(t, owner, "100", "10")

	_, err := f.svc.Freeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: d.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	assert.ErrorIs(t, err, types.ErrStateConflict)
	_, err = f.svc.Freeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: n.ID, OperatorType: "SHERIFF", Reason: "x"})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.svc.Freeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: n.ID, OperatorType: "WAREHOUSE"})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = f.svc.Freeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: n.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	require.NoError(t, err)
	_, err = f.svc.Freeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: n.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	assert.ErrorIs(t, err, types.ErrStateConflict)
}

func TestFreezeApplication_Approve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")

	sub, err := f.svc.SubmitFreeze(ctx, FreezeRequest{
		Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "inventory audit", ReferenceNo: "AUD-9",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, sub.Status)

	_, err = f.svc.ReviewFreeze(ctx, ReviewRequest{Actor: warehouse.ID, ApplicationID: sub.ApplicationID, Approve: true})
	assert.ErrorIs(t, err, types.ErrPermission)

	res, err := f.svc.ReviewFreeze(ctx, ReviewRequest{Actor: admin, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFrozen, res.Status)
	assert.Equal(t, types.ApplicationApproved, res.ApplicationStatus)

	rec, ok := f.get(t, r.ID).FreezeInfo()
	require.True(t, ok)
	assert.Equal(t, warehouse.ID, rec.Actor)
	assert.NotEmpty(t, rec.TxRef)
	assert.Equal(t, 1, f.writes(types.StepSubmitFreeze))

	a, err := f.svc.GetApplication(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, admin, a.Reviewer)
	assert.Equal(t, rec.TxRef, a.TxRef)
}

func TestFreezeApplication_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	sub, err := f.svc.SubmitFreeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	require.NoError(t, err)

	res, err := f.svc.ReviewFreeze(ctx, ReviewRequest{Actor: admin, ApplicationID: sub.ApplicationID, Note: "insufficient grounds"})
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationRejected, res.ApplicationStatus)
	assert.Equal(t, types.StatusNormal, f.get(t, r.ID).Status())
	assert.Equal(t, 0, f.writes(types.StepSubmitFreeze))
}

func TestFreezeApplication_LedgerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	sub, err := f.svc.SubmitFreeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	require.NoError(t, err)
	f.ledger.FailNext(types.StepSubmitFreeze, 1)

	res, err := f.svc.ReviewFreeze(ctx, ReviewRequest{Actor: admin, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StepSubmitFreeze, res.FailedStep)
	assert.Equal(t, types.ApplicationFailed, res.ApplicationStatus)
	assert.Equal(t, types.StatusNormal, f.get(t, r.ID).Status())
}

func TestFreezeApplication_ReceiptDrifted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	sub, err := f.svc.SubmitFreeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	require.NoError(t, err)
	_, err = f.svc.Freeze(ctx, FreezeRequest{Actor: admin, ReceiptID: r.ID, OperatorType: "PLATFORM", Reason: "urgent"})
	require.NoError(t, err)

	_, err = f.svc.ReviewFreeze(ctx, ReviewRequest{Actor: admin, ApplicationID: sub.ApplicationID, Approve: true})
	assert.ErrorIs(t, err, types.ErrStateConflict)
	assert.Equal(t, 0, f.writes(types.StepSubmitFreeze))

	a, err := f.svc.GetApplication(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationPending, a.Status)
}

func TestFreezeApplication_ReceiptMovedDuringLedgerCall(t *testing.T) {
	f := newFixture(t)
	l := f.intercept(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	sub, err := f.svc.SubmitFreeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "x"})
	require.NoError(t, err)
	l.afterFreeze = func() {
		_, err := f.svc.RecordDelivery(ctx, warehouse.ID, r.ID)
		require.NoError(t, err)
	}

	res, err := f.svc.ReviewFreeze(ctx, ReviewRequest{Actor: admin, ApplicationID: sub.ApplicationID, Approve: true})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StepFinalize, res.FailedStep)
	assert.Equal(t, types.ApplicationFailed, res.ApplicationStatus)
	assert.Equal(t, types.StatusDelivered, f.get(t, r.ID).Status())
	require.Equal(t, 1, f.writes(types.StepSubmitFreeze))

	var txRef string
	for _, tx := range f.ledger.Transactions() {
		if tx.Op == types.StepSubmitFreeze {
			txRef = tx.Ref
		}
	}
	a, err := f.svc.GetApplication(ctx, sub.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, types.ApplicationFailed, a.Status)
	assert.Equal(t, txRef, a.TxRef)
	assert.Contains(t, a.FailedReason, txRef)
	assert.Contains(t, res.Failure, txRef)

	e := strandedEntry(t, f, r.ID)
	assert.Equal(t, txRef, e.TxRef)
	assert.Equal(t, sub.ApplicationID, e.ApplicationID)
}

func TestUnfreeze_ReceiptMovedDuringLedgerCall(t *testing.T) {
	f := newFixture(t)
	l := f.intercept(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	_, err := f.svc.Freeze(ctx, FreezeRequest{Actor: admin, ReceiptID: r.ID, OperatorType: "PLATFORM", Reason: "x"})
	require.NoError(t, err)
	l.afterUnfreeze = func() {
		_, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusTransferred)})
		require.NoError(t, err)
	}

	res, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusNormal)})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StepFinalize, res.FailedStep)
	assert.Equal(t, types.StatusTransferred, res.Status)
	assert.Equal(t, types.StatusTransferred, f.get(t, r.ID).Status())
	assert.Equal(t, 2, f.writes(types.StepSubmitUnfreeze))

	e := strandedEntry(t, f, r.ID)
	assert.NotEmpty(t, e.TxRef)
	assert.Contains(t, res.Failure, e.TxRef)
}

func TestUnfreeze_RetryReusesLedgerWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	_, err := f.svc.Freeze(ctx, FreezeRequest{Actor: admin, ReceiptID: r.ID, OperatorType: "PLATFORM", Reason: "x"})
	require.NoError(t, err)
	f.ledger.FailAfterCommit(types.StepSubmitUnfreeze, 1)

	res, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusNormal)})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StatusFrozen, f.get(t, r.ID).Status())

	res, err = f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusNormal)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, res.Status)
	assert.Equal(t, 1, f.writes(types.StepSubmitUnfreeze))
}

func TestUnfreeze_ToPledgedUsesLatestFinancing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	_, err := f.svc.Pledge(ctx, owner.ID, r.ID, bank.ID)
	require.NoError(t, err)
	_, err = f.svc.ReleasePledge(ctx, bank.ID, r.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusNormal, f.get(t, r.ID).Status())
	_, err = f.svc.Freeze(ctx, FreezeRequest{Actor: admin, ReceiptID: r.ID, OperatorType: "PLATFORM", Reason: "x"})
	require.NoError(t, err)

	res, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusPledged)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPledged, res.Status)
	p, ok := f.get(t, r.ID).State().(types.Pledged)
	require.True(t, ok)
	assert.Equal(t, bank.ID, p.Financier)
}

func TestUnfreeze_Policies(t *testing.T) {
	tests := []struct {
		name    string
		policy  types.UnfreezePolicy
		actor   string
		wantErr error
	}{
		{"admin policy admin", types.UnfreezeAdmin, admin, nil},
		{"admin policy freezer", types.UnfreezeAdmin, warehouse.ID, types.ErrPermission},
		{"freezer policy freezer", types.UnfreezeFreezer, warehouse.ID, nil},
		{"freezer policy admin", types.UnfreezeFreezer, admin, nil},
		{"freezer policy stranger", types.UnfreezeFreezer, owner.ID, types.ErrPermission},
		{"any policy stranger", types.UnfreezeAny, owner.ID, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithUnfreezePolicy(tt.policy))
			ctx := context.Background()
			r := f.normal(t, owner, "100", "10")
			_, err := f.svc.Freeze(ctx, FreezeRequest{Actor: warehouse.ID, ReceiptID: r.ID, OperatorType: "WAREHOUSE", Reason: "x"})
			require.NoError(t, err)

			res, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: tt.actor, ReceiptID: r.ID, Target: string(types.StatusNormal)})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, types.StatusFrozen, f.get(t, r.ID).Status())
				assert.Equal(t, 0, f.writes(types.StepSubmitUnfreeze))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.StatusNormal, res.Status)
			assert.True(t, res.Synced)
			assert.Equal(t, 1, f.writes(types.StepSubmitUnfreeze))
		})
	}
}

func TestUnfreeze_Targets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plain := f.normal(t, owner, "100", "10")
	pledged := f.normal(t, owner, "100", "10")
	_, err := f.svc.Pledge(ctx, owner.ID, pledged.ID, bank.ID)
	require.NoError(t, err)
	for _, id := range []string{plain.ID, pledged.ID} {
		_, err := f.svc.Freeze(ctx, FreezeRequest{Actor: admin, ReceiptID: id, OperatorType: "PLATFORM", Reason: "x"})
		require.NoError(t, err)
	}

	_, err = f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: plain.ID, Target: "DRAFT"})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: plain.ID, Target: string(types.StatusPledged)})
	assert.ErrorIs(t, err, types.ErrValidation)

	res, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: pledged.ID, Target: string(types.StatusPledged)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPledged, res.Status)

	_, err = f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: pledged.ID, Target: string(types.StatusNormal)})
	assert.ErrorIs(t, err, types.ErrStateConflict)
}

func TestUnfreeze_LedgerFailureKeepsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.normal(t, owner, "100", "10")
	_, err := f.svc.Freeze(ctx, FreezeRequest{Actor: admin, ReceiptID: r.ID, OperatorType: "PLATFORM", Reason: "x"})
	require.NoError(t, err)
	f.ledger.FailNext(types.StepSubmitUnfreeze, 1)

	res, err := f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusNormal)})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, types.StepSubmitUnfreeze, res.FailedStep)
	assert.Equal(t, types.StatusFrozen, f.get(t, r.ID).Status())

	res, err = f.svc.Unfreeze(ctx, UnfreezeRequest{Actor: admin, ReceiptID: r.ID, Target: string(types.StatusNormal)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, res.Status)
}
