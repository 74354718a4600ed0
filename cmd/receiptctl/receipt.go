// Receipt commands: creation, editing, review and queries.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/internal/receipts"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Create, review and query receipts",
}

var (
	createNumber    string
	createOwner     string
	createWarehouse string
	createHolder    string
	createGoods     string
	createUnit      string
	createQuantity  string
	createPrice     string
	createLocation  string
	createStorage   string
	createExpiry    string
)

var receiptCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a DRAFT receipt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := actor()
		if err != nil {
			return err
		}
		qty, err := parseDecimal("quantity", createQuantity)
		if err != nil {
			return err
		}
		price, err := parseDecimal("unit_price", createPrice)
		if err != nil {
			return err
		}
		storage, err := parseDate("storage_date", createStorage)
		if err != nil {
			return err
		}
		expiry, err := parseDate("expiry_date", createExpiry)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			req := receipts.CreateRequest{
				Actor:      who,
				Number:     createNumber,
				GoodsName:  createGoods,
				Unit:       createUnit,
				Quantity:   qty,
				UnitPrice:  price,
				Location:   createLocation,
				ExpiryDate: expiry,
			}
			if storage != nil {
				req.StorageDate = *storage
			}
			if req.Owner, err = a.party(createOwner); err != nil {
				return err
			}
			if req.Warehouse, err = a.party(createWarehouse); err != nil {
				return err
			}
			if createHolder != "" {
				h, err := a.party(createHolder)
				if err != nil {
					return err
				}
				req.Holder = &h
			}
			r, err := a.svc.CreateReceipt(ctx, req)
			if err != nil {
				return err
			}
			return printReceipt(cmd.OutOrStdout(), r)
		})
	},
}

var (
	updateGoods    string
	updateUnit     string
	updateQuantity string
	updatePrice    string
	updateLocation string
	updateStorage  string
	updateExpiry   string
)

var receiptUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Edit a DRAFT receipt, or the location and expiry of a NORMAL one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := actor()
		if err != nil {
			return err
		}
		req := receipts.UpdateRequest{Actor: who, ReceiptID: args[0]}
		flags := cmd.Flags()
		if flags.Changed("goods") {
			req.GoodsName = &updateGoods
		}
		if flags.Changed("unit") {
			req.Unit = &updateUnit
		}
		if flags.Changed("location") {
			req.Location = &updateLocation
		}
		if flags.Changed("quantity") {
			d, err := parseDecimal("quantity", updateQuantity)
			if err != nil {
				return err
			}
			req.Quantity = &d
		}
		if flags.Changed("unit-price") {
			d, err := parseDecimal("unit_price", updatePrice)
			if err != nil {
				return err
			}
			req.UnitPrice = &d
		}
		if req.StorageDate, err = parseDate("storage_date", updateStorage); err != nil {
			return err
		}
		if req.ExpiryDate, err = parseDate("expiry_date", updateExpiry); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			r, err := a.svc.UpdateReceipt(ctx, req)
			if err != nil {
				return err
			}
			return printReceipt(cmd.OutOrStdout(), r)
		})
	},
}

var receiptGetCmd = &cobra.Command{
	Use:   "get <id|number>",
	Short: "Show a receipt by id or receipt number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			r, err := a.svc.GetReceipt(ctx, args[0])
			if isNotFound(err) {
				r, err = a.svc.GetReceiptByNumber(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printReceipt(cmd.OutOrStdout(), r)
		})
	},
}

var (
	listStatuses      string
	listOwner         string
	listWarehouse     string
	listExpiresBefore string
	listLimit         int
)

var receiptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List receipts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.ReceiptFilter{
			OwnerID:     listOwner,
			WarehouseID: listWarehouse,
			Limit:       listLimit,
		}
		for _, s := range splitList(listStatuses) {
			filter.Statuses = append(filter.Statuses, types.Status(strings.ToUpper(s)))
		}
		before, err := parseDate("expires_before", listExpiresBefore)
		if err != nil {
			return err
		}
		filter.ExpiresBefore = before
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rs, err := a.svc.ListReceipts(ctx, filter)
			if err != nil {
				return err
			}
			return printReceipts(cmd.OutOrStdout(), rs)
		})
	},
}

var receiptDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a DRAFT receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := actor()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.svc.DeleteDraft(ctx, who, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

var rejectReason string

var receiptRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a DRAFT receipt back to its owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.RejectReceipt(ctx, who, args[0], rejectReason)
		})
	},
}

var receiptApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a DRAFT receipt and commit it to the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.ApproveReceipt(ctx, who, args[0])
		})
	},
}

var receiptDeliverCmd = &cobra.Command{
	Use:   "deliver <id>",
	Short: "Record delivery of the goods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.RecordDelivery(ctx, who, args[0])
		})
	},
}

func init() {
	f := receiptCreateCmd.Flags()
	f.StringVar(&createNumber, "number", "", "receipt number (default: generated)")
	f.StringVar(&createOwner, "owner", "", "owner party id (required)")
	f.StringVar(&createWarehouse, "warehouse", "", "warehouse party id (required)")
	f.StringVar(&createHolder, "holder", "", "holder party id (default: owner)")
	f.StringVar(&createGoods, "goods", "", "goods name (required)")
	f.StringVar(&createUnit, "unit", "", "unit of measure (required)")
	f.StringVar(&createQuantity, "quantity", "", "quantity (required)")
	f.StringVar(&createPrice, "unit-price", "", "unit price (required)")
	f.StringVar(&createLocation, "location", "", "storage location (required)")
	f.StringVar(&createStorage, "storage-date", "", "storage date YYYY-MM-DD (default: today)")
	f.StringVar(&createExpiry, "expiry-date", "", "expiry date YYYY-MM-DD")
	for _, name := range []string{"owner", "warehouse", "goods", "unit", "quantity", "unit-price", "location"} {
		_ = receiptCreateCmd.MarkFlagRequired(name)
	}

	f = receiptUpdateCmd.Flags()
	f.StringVar(&updateGoods, "goods", "", "goods name")
	f.StringVar(&updateUnit, "unit", "", "unit of measure")
	f.StringVar(&updateQuantity, "quantity", "", "quantity")
	f.StringVar(&updatePrice, "unit-price", "", "unit price")
	f.StringVar(&updateLocation, "location", "", "storage location")
	f.StringVar(&updateStorage, "storage-date", "", "storage date YYYY-MM-DD")
	f.StringVar(&updateExpiry, "expiry-date", "", "expiry date YYYY-MM-DD")

	f = receiptListCmd.Flags()
	f.StringVar(&listStatuses, "status", "", "comma-separated statuses")
	f.StringVar(&listOwner, "owner", "", "owner party id")
	f.StringVar(&listWarehouse, "warehouse", "", "warehouse party id")
	f.StringVar(&listExpiresBefore, "expires-before", "", "only receipts expiring before this date")
	f.IntVar(&listLimit, "limit", 0, "maximum number of receipts")

	receiptRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "why the draft is rejected (required)")
	_ = receiptRejectCmd.MarkFlagRequired("reason")

	receiptCmd.AddCommand(receiptCreateCmd, receiptUpdateCmd, receiptGetCmd, receiptListCmd,
		receiptDeleteCmd, receiptRejectCmd, receiptApproveCmd, receiptDeliverCmd)
}

// runResult is the shape of every command that acts on behalf of --actor
// and reports a Result.
func runResult(cmd *cobra.Command, fn func(ctx context.Context, a *app, who string) (receipts.Result, error)) error {
	who, err := actor()
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := fn(ctx, a, who)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	})
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, types.NewValidationError(field, fmt.Sprintf("%q is not a number", v))
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
