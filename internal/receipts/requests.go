package receipts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// CreateRequest asks for a new DRAFT receipt. Holder defaults to Owner and
// Number to a freshly minted one.
type CreateRequest struct {
	Actor       string          `json:"actor" validate:"required"`
	Number      string          `json:"number,omitempty"`
	Owner       types.Party     `json:"owner"`
	Warehouse   types.Party     `json:"warehouse"`
	Holder      *types.Party    `json:"holder,omitempty"`
	GoodsName   string          `json:"goods_name" validate:"required"`
	Unit        string          `json:"unit" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Location    string          `json:"location" validate:"required"`
	StorageDate time.Time       `json:"storage_date"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// UpdateRequest edits a receipt. Nil fields are left alone. A DRAFT accepts
// every field; a NORMAL receipt accepts only Location and ExpiryDate.
type UpdateRequest struct {
	Actor       string           `json:"actor" validate:"required"`
	ReceiptID   string           `json:"receipt_id" validate:"required"`
	GoodsName   *string          `json:"goods_name,omitempty" validate:"omitempty,min=1"`
	Unit        *string          `json:"unit,omitempty" validate:"omitempty,min=1"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Location    *string          `json:"location,omitempty" validate:"omitempty,min=1"`
	StorageDate *time.Time       `json:"storage_date,omitempty"`
	ExpiryDate  *time.Time       `json:"expiry_date,omitempty"`
}

// SplitRequest asks to split one receipt into 2 to 10 children.
type SplitRequest struct {
	Actor     string             `json:"actor" validate:"required"`
	ReceiptID string             `json:"receipt_id" validate:"required"`
	Children  []types.SplitChild `json:"children" validate:"min=2,max=10,dive"`
}

// MergeRequest asks to merge 2 to 10 distinct receipts into one.
type MergeRequest struct {
	Actor      string   `json:"actor" validate:"required"`
	ReceiptIDs []string `json:"receipt_ids" validate:"min=2,max=10,unique,dive,required"`
	Location   string   `json:"location" validate:"required"`
}

// CancelRequest asks to cancel a receipt.
type CancelRequest struct {
	Actor     string `json:"actor" validate:"required"`
	ReceiptID string `json:"receipt_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	Type      string `json:"type" validate:"required"`
}

// FreezeRequest freezes a receipt directly or, through SubmitFreeze, asks
// an administrator to.
type FreezeRequest struct {
	Actor        string `json:"actor" validate:"required"`
	ReceiptID    string `json:"receipt_id" validate:"required"`
	OperatorType string `json:"operator_type" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
	ReferenceNo  string `json:"reference_no,omitempty"`
}

// UnfreezeRequest restores a frozen receipt to Target, which must be
// NORMAL, PLEDGED or TRANSFERRED.
type UnfreezeRequest struct {
	Actor     string `json:"actor" validate:"required"`
	ReceiptID string `json:"receipt_id" validate:"required"`
	Target    string `json:"target" validate:"required"`
}

// ReviewRequest approves or rejects a pending application.
type ReviewRequest struct {
	Actor         string `json:"actor" validate:"required"`
	ApplicationID string `json:"application_id" validate:"required"`
	Approve       bool   `json:"approve"`
	Note          string `json:"note,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// check validates req and reports the first problem as a ValidationError.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return types.NewValidationError("", err.Error())
	}
	fe := ves[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return types.NewValidationError(field, describe(fe))
}

func describe(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if isList {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if isList {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "unique":
		return "must not repeat entries"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
