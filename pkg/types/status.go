package types

import "fmt"

// Status is the closed enumeration of receipt states.
type Status string

// Receipt states.
const (
	StatusDraft          Status = "DRAFT"
	StatusPendingOnchain Status = "PENDING_ONCHAIN"
	StatusNormal         Status = "NORMAL"
	StatusOnchainFailed  Status = "ONCHAIN_FAILED"
	StatusPledged        Status = "PLEDGED"
	StatusTransferred    Status = "TRANSFERRED"
	StatusFrozen         Status = "FROZEN"
	StatusSplitting      Status = "SPLITTING"
	StatusSplit          Status = "SPLIT"
	StatusMerging        Status = "MERGING"
	StatusMerged         Status = "MERGED"
	StatusCancelling     Status = "CANCELLING"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
	StatusDelivered      Status = "DELIVERED"
)

// AllStatuses lists every receipt state in declaration order.
var AllStatuses = []Status{
	StatusDraft,
	StatusPendingOnchain,
	StatusNormal,
	StatusOnchainFailed,
	StatusPledged,
	StatusTransferred,
	StatusFrozen,
	StatusSplitting,
	StatusSplit,
	StatusMerging,
	StatusMerged,
	StatusCancelling,
	StatusCancelled,
	StatusExpired,
	StatusDelivered,
}

var validStatuses = func() map[Status]bool {
	m := make(map[Status]bool, len(AllStatuses))
	for _, s := range AllStatuses {
		m[s] = true
	}
	return m
}()

// Valid reports whether s is one of the declared states.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no further structural operation may touch a
// receipt in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSplit, StatusMerged, StatusCancelled, StatusDelivered:
		return true
	}
	return false
}

// InFlight reports whether the state is owned by a running synchronization.
func (s Status) InFlight() bool {
	switch s {
	case StatusPendingOnchain, StatusSplitting, StatusMerging, StatusCancelling:
		return true
	}
	return false
}

// ParseStatus converts a string to a Status, rejecting unknown values.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", NewValidationError("status", fmt.Sprintf("unknown status %q", v))
	}
	return s, nil
}

// Unfreeze targets form a closed set.
var unfreezeTargets = map[Status]Event{
	StatusNormal:      EventUnfreezeToNormal,
	StatusPledged:     EventUnfreezeToPledged,
	StatusTransferred: EventUnfreezeToTransferred,
}

// ParseUnfreezeTarget validates an unfreeze target at the boundary and
// returns the matching event.
func ParseUnfreezeTarget(v string) (Status, Event, error) {
	s := Status(v)
	ev, ok := unfreezeTargets[s]
	if !ok {
		return "", "", NewValidationError("target_status",
			fmt.Sprintf("unfreeze target must be one of NORMAL, PLEDGED, TRANSFERRED, got %q", v))
	}
	return s, ev, nil
}

// SyncStatus tracks whether a receipt's current state is reflected on the
// ledger.
type SyncStatus string

// Ledger sync states.
const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// Event names a lifecycle event submitted to the Governor.
type Event string

// Lifecycle events.
const (
	EventApprove               Event = "approve"
	EventReject                Event = "reject"
	EventLedgerSucceeded       Event = "ledger_succeeded"
	EventLedgerFailed          Event = "ledger_failed"
	EventUpdate                Event = "update"
	EventRecordDelivery        Event = "record_delivery"
	EventFreeze                Event = "freeze"
	EventUnfreezeToNormal      Event = "unfreeze_to_normal"
	EventUnfreezeToPledged     Event = "unfreeze_to_pledged"
	EventUnfreezeToTransferred Event = "unfreeze_to_transferred"
	EventSplitApproved         Event = "split_approved"
	EventSplitSucceeded        Event = "split_succeeded"
	EventSplitFailed           Event = "split_failed"
	EventMergeApproved         Event = "merge_approved"
	EventMergeSucceeded        Event = "merge_succeeded"
	EventMergeFailed           Event = "merge_failed"
	EventCancelApproved        Event = "cancel_approved"
	EventCancelCompleted       Event = "cancel_completed"
	EventRetry                 Event = "retry"
	EventRollback              Event = "rollback"
	EventSyncConfirmed         Event = "sync_confirmed"
	EventPledge                Event = "pledge"
	EventReleasePledge         Event = "release_pledge"
	EventEndorse               Event = "endorse"
	EventExpire                Event = "expire"
)

// AllEvents lists every lifecycle event.
var AllEvents = []Event{
	EventApprove,
	EventReject,
	EventLedgerSucceeded,
	EventLedgerFailed,
	EventUpdate,
	EventRecordDelivery,
	EventFreeze,
	EventUnfreezeToNormal,
	EventUnfreezeToPledged,
	EventUnfreezeToTransferred,
	EventSplitApproved,
	EventSplitSucceeded,
	EventSplitFailed,
	EventMergeApproved,
	EventMergeSucceeded,
	EventMergeFailed,
	EventCancelApproved,
	EventCancelCompleted,
	EventRetry,
	EventRollback,
	EventSyncConfirmed,
	EventPledge,
	EventReleasePledge,
	EventEndorse,
	EventExpire,
}
