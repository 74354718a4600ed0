// Custody commands: pledge, release, endorse and the expiry sweep.
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/internal/receipts"
)

var pledgeFinancier string

var pledgeCmd = &cobra.Command{
	Use:   "pledge <receipt-id>",
	Short: "Pledge a receipt to a financier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			fin, err := a.party(pledgeFinancier)
			if err != nil {
				return receipts.Result{}, err
			}
			return a.svc.Pledge(ctx, who, args[0], fin.ID)
		})
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <receipt-id>",
	Short: "Release a pledged receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.ReleasePledge(ctx, who, args[0])
		})
	},
}

var endorseTo string

var endorseCmd = &cobra.Command{
	Use:   "endorse <receipt-id>",
	Short: "Transfer a receipt to a new holder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			to, err := a.party(endorseTo)
			if err != nil {
				return receipts.Result{}, err
			}
			return a.svc.Endorse(ctx, who, args[0], to)
		})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Move every receipt past its expiry date to EXPIRED",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := actor()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rs, err := a.svc.ExpireDue(ctx, who)
			return printResults(cmd.OutOrStdout(), rs, err)
		})
	},
}

func init() {
	pledgeCmd.Flags().StringVar(&pledgeFinancier, "financier", "", "financier party id (required)")
	_ = pledgeCmd.MarkFlagRequired("financier")

	endorseCmd.Flags().StringVar(&endorseTo, "to", "", "new holder party id (required)")
	_ = endorseCmd.MarkFlagRequired("to")
}
