// Freeze commands: direct freezes, freeze applications and unfreezing.
package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/internal/receipts"
)

var (
	freezeOperator  string
	freezeReason    string
	freezeReference string
)

var freezeCmd = &cobra.Command{
	Use:   "freeze <receipt-id>",
	Short: "Freeze a receipt directly",
	Long: `Freeze a receipt on the authority named by --operator. A WAREHOUSE
freeze must come from the warehouse keeping the goods, a FINANCIER freeze
from a party that financed the receipt. "freeze apply" files a freeze for
an administrator's review instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.Freeze(ctx, freezeRequest(who, args[0]))
		})
	},
}

var freezeApplyCmd = &cobra.Command{
	Use:   "apply <receipt-id>",
	Short: "File a freeze application for administrator review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.SubmitFreeze(ctx, freezeRequest(who, args[0]))
		})
	},
}

func freezeRequest(who, id string) receipts.FreezeRequest {
	return receipts.FreezeRequest{
		Actor:        who,
		ReceiptID:    id,
		OperatorType: strings.ToUpper(freezeOperator),
		Reason:       freezeReason,
		ReferenceNo:  freezeReference,
	}
}

var unfreezeTarget string

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze <receipt-id>",
	Short: "Restore a frozen receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.Unfreeze(ctx, receipts.UnfreezeRequest{
				Actor:     who,
				ReceiptID: args[0],
				Target:    strings.ToUpper(unfreezeTarget),
			})
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{freezeCmd, freezeApplyCmd} {
		c.Flags().StringVar(&freezeOperator, "operator", "", "WAREHOUSE, FINANCIER, PLATFORM or COURT (required)")
		c.Flags().StringVar(&freezeReason, "reason", "", "why the receipt is frozen (required)")
		c.Flags().StringVar(&freezeReference, "reference", "", "external reference, e.g. a court order number")
		_ = c.MarkFlagRequired("operator")
		_ = c.MarkFlagRequired("reason")
	}

	unfreezeCmd.Flags().StringVar(&unfreezeTarget, "to", "NORMAL", "status to restore: NORMAL, PLEDGED or TRANSFERRED")

	freezeCmd.AddCommand(freezeApplyCmd, newReviewCmd("freeze", (*receipts.Service).ReviewFreeze))
}
