// Package authz implements the permission checks the lifecycle service
// consumes. Actors are identified by id; each known actor may carry the
// ledger address it signs with.
package authz

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Policy is a static directory of administrators and actor addresses.
type Policy struct {
	admins    map[string]bool
	addresses map[string]common.Address
}

// NewPolicy builds a policy. Parties with a malformed address are ignored
// for holder checks.
func NewPolicy(administrators []string, parties ...types.Party) *Policy {
	p := &Policy{
		admins:    make(map[string]bool, len(administrators)),
		addresses: make(map[string]common.Address, len(parties)),
	}
	for _, a := range administrators {
		if a = strings.TrimSpace(a); a != "" {
			p.admins[a] = true
		}
	}
	for _, party := range parties {
		if common.IsHexAddress(party.Address) {
			p.addresses[party.ID] = common.HexToAddress(party.Address)
		}
	}
	return p
}

// CheckHolderPermission passes when actor signs with holderAddress.
func (p *Policy) CheckHolderPermission(_ context.Context, actor, holderAddress string, action types.Action) error {
	addr, ok := p.addresses[actor]
	if !ok {
		return types.NewPermissionError(actor, action, "actor has no registered address")
	}
	if !common.IsHexAddress(holderAddress) || addr != common.HexToAddress(holderAddress) {
		return types.NewPermissionError(actor, action, "actor is not the current holder")
	}
	return nil
}

// CheckCreatePermission passes when actor is the owner.
func (p *Policy) CheckCreatePermission(_ context.Context, actor, ownerID string) error {
	if actor == "" || actor != ownerID {
		return types.NewPermissionError(actor, types.ActionCreate, "only the owner may create or edit its receipts")
	}
	return nil
}

// CheckApprovalPermission passes for the warehouse itself and for
// administrators.
func (p *Policy) CheckApprovalPermission(ctx context.Context, actor, warehouseID string) error {
	if actor != "" && actor == warehouseID {
		return nil
	}
	if p.IsAdministrator(ctx, actor) {
		return nil
	}
	return types.NewPermissionError(actor, types.ActionApprove, "actor does not operate warehouse "+warehouseID)
}

// IsAdministrator reports whether actor is listed as an administrator.
func (p *Policy) IsAdministrator(_ context.Context, actor string) bool {
	return p.admins[actor]
}

// Party returns the registered party for id with its checksum address.
func (p *Policy) Party(id string) (types.Party, bool) {
	addr, ok := p.addresses[id]
	if !ok {
		return types.Party{}, false
	}
	return types.Party{ID: id, Address: addr.Hex()}, true
}
