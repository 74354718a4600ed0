// Audit commands: per-receipt trail and full export.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the audit trail",
}

var auditTrailCmd = &cobra.Command{
	Use:   "trail <receipt-id>",
	Short: "Show the audit trail of a receipt, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entries, err := a.svc.AuditTrail(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %-18s %-10s", e.At.Format("2006-01-02 15:04:05"), e.Action, e.Actor)
				if e.From != "" || e.To != "" {
					fmt.Fprintf(w, " %s -> %s", e.From, e.To)
				}
				if e.TxRef != "" {
					fmt.Fprintf(w, " tx %s", e.TxRef)
				}
				if e.Reason != "" {
					fmt.Fprintf(w, " (%s)", e.Reason)
				}
				fmt.Fprintln(w)
			}
			return nil
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Write every audit entry to a JSON lines file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.svc.ExportAudit(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "audit exported to %s\n", args[0])
			return nil
		})
	},
}

func init() {
	auditCmd.AddCommand(auditTrailCmd, auditExportCmd)
}
