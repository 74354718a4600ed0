// Version command for receiptctl.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overwritten at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0"

const (
	binaryName = "receiptctl"
	modulePath = "github.com/mesh-intelligence/receipts"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the receiptctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "receiptctl v%s\nmodule: %s\n", Version, modulePath)
	},
}
