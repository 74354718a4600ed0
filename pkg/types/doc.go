// Package types defines the receipt entity, its lifecycle state machine, the
// structural application record, the typed error taxonomy, and the Store,
// LedgerClient and Authorizer interfaces consumed by the lifecycle service.
//
// A receipt's state is a sealed variant (see State). The only code paths that
// install a new variant are NewDraftReceipt, NewDerivedReceipt, Receipt.Fire
// (which consults the transition table) and RestoreReceipt, used by stores to
// hydrate persisted rows.
package types
