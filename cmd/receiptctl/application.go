// Application commands: inspect structural applications.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

var applicationCmd = &cobra.Command{
	Use:     "application",
	Aliases: []string{"app"},
	Short:   "Inspect split, merge, freeze and cancel applications",
}

var applicationGetCmd = &cobra.Command{
	Use:   "get <application-id>",
	Short: "Show one application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ap, err := a.svc.GetApplication(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(cmd.OutOrStdout(), ap)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s  %s %s\n", ap.ID, ap.Kind, ap.Status)
			fmt.Fprintf(w, "  receipts:  %s\n", strings.Join(ap.ReceiptIDs, ", "))
			fmt.Fprintf(w, "  applicant: %s at %s\n", ap.Applicant, ap.SubmittedAt.Format("2006-01-02 15:04:05"))
			if ap.Reviewer != "" {
				fmt.Fprintf(w, "  reviewer:  %s %s\n", ap.Reviewer, ap.ReviewNote)
			}
			if ap.TxRef != "" {
				fmt.Fprintf(w, "  tx:        %s block %s\n", ap.TxRef, ap.BlockRef)
			}
			if ap.FailedReason != "" {
				fmt.Fprintf(w, "  failure:   %s\n", ap.FailedReason)
			}
			return nil
		})
	},
}

var (
	appListReceipt string
	appListKind    string
	appListStatus  string
	appListLimit   int
)

var applicationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List applications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.ApplicationFilter{
			ReceiptID: appListReceipt,
			Kind:      types.ApplicationKind(strings.ToUpper(appListKind)),
			Status:    types.ApplicationStatus(strings.ToUpper(appListStatus)),
			Limit:     appListLimit,
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			as, err := a.svc.ListApplications(ctx, filter)
			if err != nil {
				return err
			}
			return printApplications(cmd.OutOrStdout(), as)
		})
	},
}

func init() {
	f := applicationListCmd.Flags()
	f.StringVar(&appListReceipt, "receipt", "", "only applications naming this receipt")
	f.StringVar(&appListKind, "kind", "", "SPLIT, MERGE, FREEZE or CANCEL")
	f.StringVar(&appListStatus, "status", "", "PENDING, APPROVED, REJECTED or FAILED")
	f.IntVar(&appListLimit, "limit", 0, "maximum number of applications")

	applicationCmd.AddCommand(applicationGetCmd, applicationListCmd)
}
