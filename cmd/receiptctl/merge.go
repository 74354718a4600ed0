// Merge commands: submit and review merge applications.
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/internal/receipts"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge several receipts into one",
}

var mergeLocation string

var mergeSubmitCmd = &cobra.Command{
	Use:   "submit <receipt-id> <receipt-id>...",
	Short: "File a merge application",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.SubmitMerge(ctx, receipts.MergeRequest{Actor: who, ReceiptIDs: args, Location: mergeLocation})
		})
	},
}

func init() {
	mergeSubmitCmd.Flags().StringVar(&mergeLocation, "location", "", "location of the merged goods (required)")
	_ = mergeSubmitCmd.MarkFlagRequired("location")

	mergeCmd.AddCommand(mergeSubmitCmd, newReviewCmd("merge", (*receipts.Service).ReviewMerge))
}
