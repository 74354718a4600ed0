// Cancel commands: submit and review cancellation applications.
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/internal/receipts"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a receipt",
}

var (
	cancelReason string
	cancelType   string
)

var cancelSubmitCmd = &cobra.Command{
	Use:   "submit <receipt-id>",
	Short: "File a cancellation application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.SubmitCancel(ctx, receipts.CancelRequest{
				Actor:     who,
				ReceiptID: args[0],
				Reason:    cancelReason,
				Type:      cancelType,
			})
		})
	},
}

func init() {
	cancelSubmitCmd.Flags().StringVar(&cancelReason, "reason", "", "why the receipt is cancelled (required)")
	cancelSubmitCmd.Flags().StringVar(&cancelType, "type", "", "OWNER_REQUEST, GOODS_DAMAGED, ISSUED_IN_ERROR or JUDICIAL (required)")
	_ = cancelSubmitCmd.MarkFlagRequired("reason")
	_ = cancelSubmitCmd.MarkFlagRequired("type")

	cancelCmd.AddCommand(cancelSubmitCmd, newReviewCmd("cancel", (*receipts.Service).ReviewCancel))
}
