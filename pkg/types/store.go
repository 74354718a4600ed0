package types

import (
	"context"
	"time"
)

// Store is the durable record of receipts and structural applications. It
// holds no business rules: the lifecycle service decides, the store persists.
type Store interface {
	// Attach opens the backend described by config. Returns ErrAlreadyOpen
	// if called twice without Detach.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent. After Detach every
	// operation returns ErrStoreClosed.
	Detach() error

	// CreateReceipt inserts r with Version 1. Returns ErrDuplicateNumber when
	// the receipt number is taken.
	CreateReceipt(ctx context.Context, r *Receipt) error
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
	GetReceiptByNumber(ctx context.Context, number string) (*Receipt, error)
	// GetReceipts returns receipts in the order of ids, failing with a
	// NotFoundError on the first unknown id.
	GetReceipts(ctx context.Context, ids []string) ([]*Receipt, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]*Receipt, error)

	// UpdateReceipt writes r if the stored version equals r.Version and then
	// increments r.Version. Returns ErrVersionConflict otherwise.
	UpdateReceipt(ctx context.Context, r *Receipt) error

	// DeleteDraft soft-deletes a DRAFT receipt. Returns ErrNotDraft for any
	// other status.
	DeleteDraft(ctx context.Context, id string, at time.Time) error

	// CreateApplication inserts a PENDING application and, in the same
	// statement set, claims the pending slot of every receipt it names.
	// Returns ErrPendingApplication if any of them already has one.
	CreateApplication(ctx context.Context, a *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]*Application, error)

	// ListStaged returns the provisional records an in-flight split or
	// merge staged under applicationID.
	ListStaged(ctx context.Context, applicationID string) ([]*Receipt, error)

	// Apply commits a changeset atomically.
	Apply(ctx context.Context, cs Changeset) error

	RecordFinancing(ctx context.Context, f Financing) error
	HasFinanced(ctx context.Context, receiptID, financier string) (bool, error)
	CountFinancings(ctx context.Context, receiptID string) (int, error)
	// LatestFinancier returns the financier of the most recent financing
	// record, or ErrNotFound when the receipt was never financed.
	LatestFinancier(ctx context.Context, receiptID string) (string, error)
	RecordEndorsement(ctx context.Context, e Endorsement) error
	CountEndorsements(ctx context.Context, receiptID string) (int, error)

	AppendAudit(ctx context.Context, entries ...AuditEntry) error
	ListAudit(ctx context.Context, receiptID string) ([]AuditEntry, error)
	// ExportAudit writes the whole audit trail to path as JSON lines,
	// replacing the file atomically.
	ExportAudit(ctx context.Context, path string) error
}

// ReceiptFilter selects receipts. Zero fields do not constrain.
type ReceiptFilter struct {
	OwnerID       string
	WarehouseID   string
	HolderAddress string
	Statuses      []Status
	ExpiresAfter  *time.Time
	ExpiresBefore *time.Time
	// UpdatedBefore selects receipts untouched since the given time.
	UpdatedBefore  *time.Time
	IncludeDeleted bool
	Limit          int
}

// ApplicationFilter selects applications. Zero fields do not constrain.
type ApplicationFilter struct {
	ReceiptID string
	Kind      ApplicationKind
	Status    ApplicationStatus
	Limit     int
}

// Changeset groups writes that must commit together.
type Changeset struct {
	// Updates are compare-and-swap receipt writes.
	Updates []*Receipt
	// Inserts are new addressable receipts.
	Inserts []*Receipt
	// Stage holds provisional records under StageFor.
	Stage    []*Receipt
	StageFor string
	// DiscardStaged drops every provisional record of these applications.
	DiscardStaged []string
	// Applications are compare-and-swap application writes. A terminal
	// status releases the pending slot of the involved receipts.
	Applications []*Application
	Financings   []Financing
	Endorsements []Endorsement
	Audit        []AuditEntry
}

// Empty reports whether the changeset carries no writes.
func (c Changeset) Empty() bool {
	return len(c.Updates) == 0 && len(c.Inserts) == 0 && len(c.Stage) == 0 &&
		len(c.DiscardStaged) == 0 && len(c.Applications) == 0 && len(c.Financings) == 0 &&
		len(c.Endorsements) == 0 && len(c.Audit) == 0
}
