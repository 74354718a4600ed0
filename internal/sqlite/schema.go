package sqlite

import "fmt"

// receiptColumnDefs is shared by receipts and staged_receipts so a staged
// record promotes without conversion.
const receiptColumnDefs = `
    receipt_id TEXT PRIMARY KEY,
    number TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    owner_address TEXT NOT NULL,
    warehouse_id TEXT NOT NULL,
    warehouse_address TEXT NOT NULL,
    holder_id TEXT NOT NULL,
    holder_address TEXT NOT NULL,
    goods_name TEXT NOT NULL,
    unit TEXT NOT NULL,
    quantity TEXT NOT NULL,
    unit_price TEXT NOT NULL,
    total_value TEXT NOT NULL,
    location TEXT NOT NULL,
    storage_date TEXT NOT NULL,
    expiry_date TEXT,
    status TEXT NOT NULL,
    state TEXT NOT NULL,
    sync_status TEXT NOT NULL,
    tx_ref TEXT,
    block_ref TEXT,
    parent_id TEXT,
    source_ids TEXT NOT NULL,
    split_count INTEGER NOT NULL DEFAULT 0,
    split_at TEXT,
    merge_count INTEGER NOT NULL DEFAULT 0,
    merged_at TEXT,
    created_by TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT`

// Schema DDL for all tables.
var (
	createReceipts = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS receipts (%s,
    UNIQUE (number)
);`, receiptColumnDefs)

	createStagedReceipts = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS staged_receipts (
    application_id TEXT NOT NULL,%s,
    FOREIGN KEY (application_id) REFERENCES applications(application_id)
);`, receiptColumnDefs)
)

const (
	createApplications = `CREATE TABLE IF NOT EXISTS applications (
    application_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    payload TEXT NOT NULL,
    applicant TEXT NOT NULL,
    reviewer TEXT,
    review_note TEXT,
    failed_reason TEXT,
    tx_ref TEXT,
    block_ref TEXT,
    version INTEGER NOT NULL,
    submitted_at TEXT NOT NULL,
    reviewed_at TEXT,
    updated_at TEXT NOT NULL
);`

	// pending mirrors applications.status = 'PENDING' so that a partial
	// unique index can enforce one pending application per receipt.
	createApplicationReceipts = `CREATE TABLE IF NOT EXISTS application_receipts (
    application_id TEXT NOT NULL,
    receipt_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    pending INTEGER NOT NULL,
    PRIMARY KEY (application_id, receipt_id),
    FOREIGN KEY (application_id) REFERENCES applications(application_id),
    FOREIGN KEY (receipt_id) REFERENCES receipts(receipt_id)
);`

	createFinancings = `CREATE TABLE IF NOT EXISTS financings (
    financing_id TEXT PRIMARY KEY,
    receipt_id TEXT NOT NULL,
    financier TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (receipt_id) REFERENCES receipts(receipt_id)
);`

	createEndorsements = `CREATE TABLE IF NOT EXISTS endorsements (
    endorsement_id TEXT PRIMARY KEY,
    receipt_id TEXT NOT NULL,
    from_id TEXT NOT NULL,
    from_address TEXT NOT NULL,
    to_id TEXT NOT NULL,
    to_address TEXT NOT NULL,
    actor TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (receipt_id) REFERENCES receipts(receipt_id)
);`

	createAuditLog = `CREATE TABLE IF NOT EXISTS audit_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    audit_id TEXT NOT NULL UNIQUE,
    receipt_id TEXT NOT NULL,
    application_id TEXT,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    from_status TEXT,
    to_status TEXT,
    event TEXT,
    reason TEXT,
    reference_no TEXT,
    tx_ref TEXT,
    at TEXT NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxReceiptsStatus      = `CREATE INDEX IF NOT EXISTS idx_receipts_status ON receipts(status);`
	idxReceiptsOwner       = `CREATE INDEX IF NOT EXISTS idx_receipts_owner ON receipts(owner_id);`
	idxReceiptsWarehouse   = `CREATE INDEX IF NOT EXISTS idx_receipts_warehouse ON receipts(warehouse_id);`
	idxReceiptsHolder      = `CREATE INDEX IF NOT EXISTS idx_receipts_holder ON receipts(holder_address);`
	idxReceiptsExpiry      = `CREATE INDEX IF NOT EXISTS idx_receipts_expiry ON receipts(expiry_date);`
	idxStagedApplication   = `CREATE INDEX IF NOT EXISTS idx_staged_application ON staged_receipts(application_id);`
	idxApplicationsStatus  = `CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);`
	idxApplicationReceipt  = `CREATE INDEX IF NOT EXISTS idx_application_receipts_receipt ON application_receipts(receipt_id);`
	idxApplicationPending  = `CREATE UNIQUE INDEX IF NOT EXISTS idx_application_receipts_pending ON application_receipts(receipt_id) WHERE pending = 1;`
	idxFinancingsReceipt   = `CREATE INDEX IF NOT EXISTS idx_financings_receipt ON financings(receipt_id, financier);`
	idxEndorsementsReceipt = `CREATE INDEX IF NOT EXISTS idx_endorsements_receipt ON endorsements(receipt_id);`
	idxAuditReceipt        = `CREATE INDEX IF NOT EXISTS idx_audit_receipt ON audit_log(receipt_id);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createReceipts,
	createApplications,
	createStagedReceipts,
	createApplicationReceipts,
	createFinancings,
	createEndorsements,
	createAuditLog,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxReceiptsStatus,
	idxReceiptsOwner,
	idxReceiptsWarehouse,
	idxReceiptsHolder,
	idxReceiptsExpiry,
	idxStagedApplication,
	idxApplicationsStatus,
	idxApplicationReceipt,
	idxApplicationPending,
	idxFinancingsReceipt,
	idxEndorsementsReceipt,
	idxAuditReceipt,
}
