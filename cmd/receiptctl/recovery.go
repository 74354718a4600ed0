// Recovery commands: retry, roll back and resume ledger synchronizations.
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/internal/receipts"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Recover receipts whose ledger synchronization failed or stalled",
}

var recoveryRetryCmd = &cobra.Command{
	Use:   "retry <receipt-id>",
	Short: "Retry the initial ledger commit of an ONCHAIN_FAILED receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.RetrySync(ctx, who, args[0])
		})
	},
}

var rollbackReason string

var recoveryRollbackCmd = &cobra.Command{
	Use:   "rollback <receipt-id>",
	Short: "Return an ONCHAIN_FAILED receipt to DRAFT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.RollbackToDraft(ctx, who, args[0], rollbackReason)
		})
	},
}

var recoveryFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List ONCHAIN_FAILED receipts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rs, err := a.svc.ListFailed(ctx)
			if err != nil {
				return err
			}
			return printReceipts(cmd.OutOrStdout(), rs)
		})
	},
}

var recoveryInFlightCmd = &cobra.Command{
	Use:   "inflight",
	Short: "List receipts with a synchronization in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rs, err := a.svc.ListInFlight(ctx)
			if err != nil {
				return err
			}
			return printReceipts(cmd.OutOrStdout(), rs)
		})
	},
}

var recoveryResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume synchronizations that stalled past stale_after",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := actor()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rs, err := a.svc.ResumeStalled(ctx, who)
			return printResults(cmd.OutOrStdout(), rs, err)
		})
	},
}

func init() {
	recoveryRollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "why the receipt goes back to DRAFT (required)")
	_ = recoveryRollbackCmd.MarkFlagRequired("reason")

	recoveryCmd.AddCommand(recoveryRetryCmd, recoveryRollbackCmd, recoveryFailedCmd, recoveryInFlightCmd, recoveryResumeCmd)
}
