// Init command: prepare config and data directories.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/receipts/internal/paths"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

var initUnfreezePolicy string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize receipt storage",
	Long:  "Create the configuration and data directories, record the unfreeze policy and initialize the store and devnet ledger.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if initUnfreezePolicy != "" {
			p := types.UnfreezePolicy(initUnfreezePolicy)
			if !p.Valid() {
				return usageErr("unknown unfreeze policy %q (admin, freezer or any)", initUnfreezePolicy)
			}
			configDir, err := paths.ResolveConfigDir(flagConfigDir)
			if err != nil {
				return err
			}
			if err := setConfigValue(paths.ConfigFile(configDir), cfgKeyUnfreeze, string(p)); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			cfg.Set(cfgKeyUnfreeze, string(p))
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), "receipts initialized")
			return nil
		})
	},
}

func init() {
	initCmd.Flags().StringVar(&initUnfreezePolicy, "unfreeze-policy", "", "who may unfreeze: admin, freezer or any")
}

// setConfigValue sets a top-level key in config.yaml, keeping the other
// entries and their comments.
func setConfigValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", path)
	}
	found := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
			found = true
			break
		}
	}
	if !found {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
		)
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
