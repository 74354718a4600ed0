// Package sqlite provides the public factory for the SQLite receipt store
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/receipts/internal/sqlite"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

// NewStore creates a new SQLite store. The store is not attached; call
// Attach with a Config to initialize.
//
// Example:
//
//	store := sqlite.NewStore()
//	err := store.Attach(types.Config{
//	    Backend:        types.BackendSQLite,
//	    DataDir:        ".receipts-db",
//	    UnfreezePolicy: types.UnfreezeAdmin,
//	})
//	defer store.Detach()
func NewStore() types.Store {
	return sqlite.NewBackend()
}

// Open creates a store and attaches it in one step.
func Open(config types.Config) (types.Store, error) {
	s := sqlite.NewBackend()
	if err := s.Attach(config); err != nil {
		return nil, err
	}
	return s, nil
}
