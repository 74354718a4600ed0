package sqlite

import (
	"context"
	"database/sql"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Apply commits every write in cs in a single transaction. Any failure,
// including a lost compare-and-swap, rolls the whole changeset back and
// leaves the callers' version numbers untouched.
func (b *Backend) Apply(ctx context.Context, cs types.Changeset) error {
	if cs.Empty() {
		return nil
	}

	// Version bumps are applied to copies first so that a rollback does not
	// leave the caller holding advanced versions.
	updates := make([]*types.Receipt, len(cs.Updates))
	for i, r := range cs.Updates {
		updates[i] = r.Clone()
	}
	apps := make([]*types.Application, len(cs.Applications))
	for i, a := range cs.Applications {
		apps[i] = a.Clone()
	}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range updates {
			if err := casReceipt(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, r := range cs.Inserts {
			r.Version = 1
			if err := insertReceipt(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, r := range cs.Stage {
			if err := stageReceipt(ctx, tx, cs.StageFor, r); err != nil {
				return err
			}
		}
		for _, id := range cs.DiscardStaged {
			if err := discardStaged(ctx, tx, id); err != nil {
				return err
			}
		}
		for _, a := range apps {
			if err := casApplication(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, f := range cs.Financings {
			if err := insertFinancing(ctx, tx, f); err != nil {
				return err
			}
		}
		for _, e := range cs.Endorsements {
			if err := insertEndorsement(ctx, tx, e); err != nil {
				return err
			}
		}
		return insertAudit(ctx, tx, cs.Audit...)
	})
	if err != nil {
		return err
	}

	for i, r := range cs.Updates {
		r.Version = updates[i].Version
	}
	for i, a := range cs.Applications {
		a.Version = apps[i].Version
	}
	return nil
}
