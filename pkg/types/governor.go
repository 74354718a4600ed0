package types

import (
	"fmt"
	"sort"
	"time"
)

// transitions is the complete lifecycle table. A (status, event) pair that
// is absent is rejected.
var transitions = map[Status]map[Event]Status{
	StatusDraft: {
		EventApprove: StatusPendingOnchain,
		EventReject:  StatusDraft,
		EventUpdate:  StatusDraft,
	},
	StatusPendingOnchain: {
		EventLedgerSucceeded: StatusNormal,
		EventLedgerFailed:    StatusOnchainFailed,
	},
	StatusNormal: {
		EventUpdate:         StatusNormal,
		EventRecordDelivery: StatusDelivered,
		EventFreeze:         StatusFrozen,
		EventSplitApproved:  StatusSplitting,
		EventMergeApproved:  StatusMerging,
		EventCancelApproved: StatusCancelling,
		EventSyncConfirmed:  StatusNormal,
		EventPledge:         StatusPledged,
		EventEndorse:        StatusTransferred,
		EventExpire:         StatusExpired,
	},
	StatusOnchainFailed: {
		EventRetry:          StatusPendingOnchain,
		EventRollback:       StatusDraft,
		EventCancelApproved: StatusCancelling,
		EventRecordDelivery: StatusDelivered,
	},
	StatusPledged: {
		EventFreeze:         StatusFrozen,
		EventRecordDelivery: StatusDelivered,
		EventReleasePledge:  StatusNormal,
		EventExpire:         StatusExpired,
	},
	StatusTransferred: {
		EventFreeze:         StatusFrozen,
		EventRecordDelivery: StatusDelivered,
		EventPledge:         StatusPledged,
		EventEndorse:        StatusTransferred,
		EventExpire:         StatusExpired,
	},
	StatusFrozen: {
		EventUnfreezeToNormal:      StatusNormal,
		EventUnfreezeToPledged:     StatusPledged,
		EventUnfreezeToTransferred: StatusTransferred,
	},
	StatusSplitting: {
		EventSplitSucceeded: StatusSplit,
		EventSplitFailed:    StatusNormal,
	},
	StatusMerging: {
		EventMergeSucceeded: StatusMerged,
		EventMergeFailed:    StatusNormal,
	},
	StatusCancelling: {
		EventCancelCompleted: StatusCancelled,
	},
	StatusSplit:     {},
	StatusMerged:    {},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusDelivered: {},
}

// Next returns the status reached by firing ev from from, or a
// *StateConflictError when the pair is not in the table.
func Next(from Status, ev Event) (Status, error) {
	row, ok := transitions[from]
	if !ok {
		return "", &StateConflictError{Current: from, Event: ev, Reason: "unknown status"}
	}
	to, ok := row[ev]
	if !ok {
		reason := "no transition defined"
		if from.Terminal() {
			reason = "receipt is read-only"
		}
		return "", &StateConflictError{Current: from, Event: ev, Reason: reason}
	}
	return to, nil
}

// Allowed lists the events legal from a status, sorted by name.
func Allowed(from Status) []Event {
	row := transitions[from]
	out := make([]Event, 0, len(row))
	for ev := range row {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Facts carries the data an event contributes to the next variant. Only the
// fields relevant to the fired event are read.
type Facts struct {
	At            time.Time
	Actor         string
	Reason        string
	Ledger        LedgerRef
	SyncToken     string
	Failure       *SyncFailure
	Freeze        *FreezeRecord
	ApplicationID string
	ChildIDs      []string
	MergedID      string
	Cancellation  *Cancellation
	Financier     string
}

// Can reports whether ev is legal from the receipt's current status.
func (r *Receipt) Can(ev Event) bool {
	_, err := Next(r.Status(), ev)
	return err == nil
}

// Fire applies ev to the receipt, installing the variant the table names.
// The receipt is left untouched when the event is rejected or the facts
// are incomplete.
func (r *Receipt) Fire(ev Event, f Facts) error {
	cur := r.State()
	to, err := Next(cur.Status(), ev)
	if err != nil {
		return err
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	next, err := build(cur, ev, f)
	if err != nil {
		return err
	}
	if next.Status() != to {
		return fmt.Errorf("governor: %s on %s built %s, table says %s", ev, cur.Status(), next.Status(), to)
	}
	r.state = next
	r.UpdatedAt = f.At
	return nil
}

func build(cur State, ev Event, f Facts) (State, error) {
	ledger := ledgerOf(cur)
	switch ev {
	case EventApprove:
		if f.SyncToken == "" {
			return nil, NewValidationError("sync_token", "approval requires an idempotency token")
		}
		return PendingOnchain{SyncToken: f.SyncToken, Attempt: 1, StagedAt: f.At}, nil

	case EventReject:
		d := cur.(Draft)
		rej := append(append([]Rejection(nil), d.Rejections...), Rejection{Actor: f.Actor, Reason: f.Reason, At: f.At})
		return Draft{Rejections: rej}, nil

	case EventUpdate:
		return cur, nil

	case EventLedgerSucceeded, EventSyncConfirmed:
		return Normal{Ledger: synced(f.Ledger, f.At)}, nil

	case EventLedgerFailed:
		p := cur.(PendingOnchain)
		if f.Failure == nil {
			return nil, NewValidationError("failure", "ledger failure requires a failure annotation")
		}
		return OnchainFailed{SyncToken: p.SyncToken, Attempts: p.Attempt, Failure: *f.Failure}, nil

	case EventRetry:
		o := cur.(OnchainFailed)
		return PendingOnchain{SyncToken: o.SyncToken, Attempt: o.Attempts + 1, StagedAt: f.At}, nil

	case EventRollback:
		return Draft{}, nil

	case EventRecordDelivery:
		return Delivered{Ledger: ledger, DeliveredAt: f.At}, nil

	case EventFreeze:
		if f.Freeze == nil {
			return nil, NewValidationError("freeze", "freeze requires a freeze record")
		}
		fz := Frozen{Ledger: carry(ledger, f), Prior: cur.Status(), Freeze: *f.Freeze}
		if p, ok := cur.(Pledged); ok {
			fz.Financier = p.Financier
		}
		return fz, nil

	case EventUnfreezeToNormal:
		return Normal{Ledger: carry(ledger, f)}, nil

	case EventUnfreezeToPledged:
		financier := f.Financier
		if financier == "" {
			financier = cur.(Frozen).Financier
		}
		return Pledged{Ledger: carry(ledger, f), Financier: financier}, nil

	case EventUnfreezeToTransferred:
		return Transferred{Ledger: carry(ledger, f)}, nil

	case EventSplitApproved:
		if f.ApplicationID == "" || len(f.ChildIDs) == 0 {
			return nil, NewValidationError("split", "split approval requires an application and child ids")
		}
		return Splitting{Ledger: ledger, ApplicationID: f.ApplicationID, ChildIDs: append([]string(nil), f.ChildIDs...)}, nil

	case EventSplitSucceeded:
		s := cur.(Splitting)
		return Split{Ledger: carry(ledger, f), ChildIDs: s.ChildIDs}, nil

	case EventMergeApproved:
		if f.ApplicationID == "" || f.MergedID == "" {
			return nil, NewValidationError("merge", "merge approval requires an application and merged id")
		}
		return Merging{Ledger: ledger, ApplicationID: f.ApplicationID, MergedID: f.MergedID}, nil

	case EventMergeSucceeded:
		m := cur.(Merging)
		return Merged{Ledger: carry(ledger, f), MergedInto: m.MergedID}, nil

	case EventSplitFailed, EventMergeFailed:
		return Normal{Ledger: ledger}, nil

	case EventCancelApproved:
		if f.ApplicationID == "" {
			return nil, NewValidationError("cancel", "cancel approval requires an application")
		}
		return Cancelling{Prior: cur.Status(), Ledger: ledger, ApplicationID: f.ApplicationID}, nil

	case EventCancelCompleted:
		if f.Cancellation == nil {
			return nil, NewValidationError("cancellation", "cancel completion requires cancellation metadata")
		}
		return Cancelled{Ledger: carry(ledger, f), Cancellation: *f.Cancellation}, nil

	case EventPledge:
		if f.Financier == "" {
			return nil, NewValidationError("financier", "pledge requires a financier")
		}
		return Pledged{Ledger: ledger, Financier: f.Financier}, nil

	case EventReleasePledge:
		return Normal{Ledger: ledger}, nil

	case EventEndorse:
		return Transferred{Ledger: ledger}, nil

	case EventExpire:
		return Expired{Ledger: ledger, ExpiredAt: f.At}, nil
	}
	return nil, fmt.Errorf("governor: no builder for event %q", ev)
}

// carry prefers a freshly confirmed ledger reference over the current one.
func carry(cur LedgerRef, f Facts) LedgerRef {
	if f.Ledger.TxRef == "" {
		return cur
	}
	return synced(f.Ledger, f.At)
}

func synced(l LedgerRef, at time.Time) LedgerRef {
	l.Sync = SyncSynced
	if l.SyncedAt == nil {
		t := at
		l.SyncedAt = &t
	}
	return l
}
