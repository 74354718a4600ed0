package types

import (
	"context"
	"fmt"
)

// Action names what an actor is attempting, for permission checks.
type Action string

// Actions.
const (
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionApprove        Action = "approve"
	ActionSplit          Action = "split"
	ActionMerge          Action = "merge"
	ActionCancel         Action = "cancel"
	ActionFreeze         Action = "freeze"
	ActionUnfreeze       Action = "unfreeze"
	ActionReview         Action = "review"
	ActionRetry          Action = "retry"
	ActionRollback       Action = "rollback"
	ActionRecordDelivery Action = "record_delivery"
	ActionPledge         Action = "pledge"
	ActionEndorse        Action = "endorse"
	ActionExpire         Action = "expire"
)

// Authorizer answers permission questions. Implementations return nil when
// the actor is allowed and a *PermissionError otherwise.
type Authorizer interface {
	CheckHolderPermission(ctx context.Context, actor, holderAddress string, action Action) error
	CheckCreatePermission(ctx context.Context, actor, ownerID string) error
	CheckApprovalPermission(ctx context.Context, actor, warehouseID string) error
	IsAdministrator(ctx context.Context, actor string) bool
}

// OperatorType tags who is freezing a receipt.
type OperatorType string

// Operator types.
const (
	OperatorWarehouse OperatorType = "WAREHOUSE"
	OperatorFinancier OperatorType = "FINANCIER"
	OperatorPlatform  OperatorType = "PLATFORM"
	OperatorCourt     OperatorType = "COURT"
)

// ParseOperatorType rejects anything outside the closed set.
func ParseOperatorType(v string) (OperatorType, error) {
	switch t := OperatorType(v); t {
	case OperatorWarehouse, OperatorFinancier, OperatorPlatform, OperatorCourt:
		return t, nil
	}
	return "", NewValidationError("operator_type", fmt.Sprintf("unknown operator type %q", v))
}

// CancelType classifies a cancellation.
type CancelType string

// Cancellation types.
const (
	CancelByOwner   CancelType = "OWNER_REQUEST"
	CancelDamaged   CancelType = "GOODS_DAMAGED"
	CancelErroneous CancelType = "ISSUED_IN_ERROR"
	CancelJudicial  CancelType = "JUDICIAL"
)

// ParseCancelType rejects anything outside the closed set.
func ParseCancelType(v string) (CancelType, error) {
	switch t := CancelType(v); t {
	case CancelByOwner, CancelDamaged, CancelErroneous, CancelJudicial:
		return t, nil
	}
	return "", NewValidationError("cancel_type", fmt.Sprintf("unknown cancel type %q", v))
}

// UnfreezePolicy decides who may unfreeze a receipt. There is no default;
// operators choose one explicitly.
type UnfreezePolicy string

// Unfreeze policies.
const (
	UnfreezeAdmin   UnfreezePolicy = "admin"
	UnfreezeFreezer UnfreezePolicy = "freezer"
	UnfreezeAny     UnfreezePolicy = "any"
)

// Valid reports whether p is one of the declared policies.
func (p UnfreezePolicy) Valid() bool {
	switch p {
	case UnfreezeAdmin, UnfreezeFreezer, UnfreezeAny:
		return true
	}
	return false
}
