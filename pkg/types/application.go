package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationKind names what a structural application asks for.
type ApplicationKind string

// Application kinds.
const (
	KindSplit  ApplicationKind = "SPLIT"
	KindMerge  ApplicationKind = "MERGE"
	KindFreeze ApplicationKind = "FREEZE"
	KindCancel ApplicationKind = "CANCEL"
)

// ApplicationStatus is the review state of an application.
type ApplicationStatus string

// Application states. Everything but PENDING is terminal.
const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
	ApplicationFailed   ApplicationStatus = "FAILED"
)

// Terminal reports whether the application can no longer be reviewed.
func (s ApplicationStatus) Terminal() bool { return s != ApplicationPending }

// SplitChild is one requested output of a split.
type SplitChild struct {
	Quantity   decimal.Decimal `json:"quantity" yaml:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" yaml:"unit_price"`
	TotalValue decimal.Decimal `json:"total_value" yaml:"total_value"`
	Location   string          `json:"location" yaml:"location" validate:"required"`
	GoodsName  string          `json:"goods_name,omitempty" yaml:"goods_name"`
	Unit       string          `json:"unit,omitempty" yaml:"unit"`
}

// SplitPayload is the requested breakdown of a split.
type SplitPayload struct {
	Children []SplitChild `json:"children"`
}

// MergePayload names the location of the merged record.
type MergePayload struct {
	Location string `json:"location"`
}

// FreezePayload is the requested freeze.
type FreezePayload struct {
	OperatorType OperatorType `json:"operator_type"`
	Reason       string       `json:"reason"`
	ReferenceNo  string       `json:"reference_no,omitempty"`
}

// CancelPayload is the requested cancellation.
type CancelPayload struct {
	Reason string     `json:"reason"`
	Type   CancelType `json:"type"`
}

// Application is a structural request awaiting or past review. ReceiptIDs
// lists every receipt it involves; a merge names all of its sources.
type Application struct {
	ID         string
	Kind       ApplicationKind
	ReceiptIDs []string
	Status     ApplicationStatus

	Split  *SplitPayload
	Merge  *MergePayload
	Freeze *FreezePayload
	Cancel *CancelPayload

	Applicant    string
	Reviewer     string
	ReviewNote   string
	FailedReason string
	TxRef        string
	BlockRef     string

	Version     int64
	SubmittedAt time.Time
	ReviewedAt  *time.Time
	UpdatedAt   time.Time
}

// Validate checks that the payload matches the kind.
func (a *Application) Validate() error {
	if a.ID == "" {
		return NewValidationError("application.id", "must not be empty")
	}
	if len(a.ReceiptIDs) == 0 {
		return NewValidationError("application.receipt_ids", "must name at least one receipt")
	}
	var ok bool
	switch a.Kind {
	case KindSplit:
		ok = a.Split != nil
	case KindMerge:
		ok = a.Merge != nil
	case KindFreeze:
		ok = a.Freeze != nil
	case KindCancel:
		ok = a.Cancel != nil
	default:
		return NewValidationError("application.kind", fmt.Sprintf("unknown kind %q", a.Kind))
	}
	if !ok {
		return NewValidationError("application.payload", fmt.Sprintf("%s application has no payload", a.Kind))
	}
	return nil
}

// Decide moves a pending application to a terminal status.
func (a *Application) Decide(status ApplicationStatus, reviewer, note string, at time.Time) error {
	if a.Status.Terminal() {
		return &StateConflictError{
			Current: Status(a.Status),
			Event:   Event("review"),
			Reason:  fmt.Sprintf("application %s is already %s", a.ID, a.Status),
		}
	}
	if status == ApplicationPending {
		return NewValidationError("decision", "a decision must be terminal")
	}
	a.Status = status
	a.Reviewer = reviewer
	a.ReviewNote = note
	t := at
	a.ReviewedAt = &t
	a.UpdatedAt = at
	return nil
}

// Clone returns a copy for compare-and-swap updates.
func (a *Application) Clone() *Application {
	c := *a
	c.ReceiptIDs = append([]string(nil), a.ReceiptIDs...)
	return &c
}
