// Root command for receiptctl.
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/receipts/internal/paths"
)

// errUsage marks command-line mistakes.
var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// Global flag values.
var (
	flagConfigDir   string
	flagDataDir     string
	flagActor       string
	flagJSON        bool
	flagMetricsFile string
)

// cfg is loaded by PersistentPreRunE so every subcommand can read it.
var cfg *viper.Viper

var rootCmd = &cobra.Command{
	Use:           binaryName,
	Short:         "Manage warehouse receipts and keep them in sync with the ledger",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		configDir, err := paths.ResolveConfigDir(flagConfigDir)
		if err != nil {
			return err
		}
		v, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		cfg = v
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: $(CWD)/.receipts-db)")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "acting party id (default: RECEIPTS_ACTOR)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(receiptCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(unfreezeCmd)
	rootCmd.AddCommand(applicationCmd)
	rootCmd.AddCommand(recoveryCmd)
	rootCmd.AddCommand(pledgeCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(endorseCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(auditCmd)
}

// resolveDataDir follows flag > config data_dir > RECEIPTS_DATA_DIR >
// $(CWD)/.receipts-db.
func resolveDataDir() (string, error) {
	return paths.ResolveDataDir(flagDataDir, cfg.GetString(cfgKeyDataDir))
}

// actor returns the acting party, which every mutating command needs.
func actor() (string, error) {
	if flagActor != "" {
		return flagActor, nil
	}
	if a := cfg.GetString("actor"); a != "" {
		return a, nil
	}
	return "", usageErr("--actor is required")
}
