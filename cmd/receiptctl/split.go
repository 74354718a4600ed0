// Split commands: submit and review split applications.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/receipts/internal/receipts"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a receipt into several children",
}

// splitPlan is the YAML file given to split submit. Amounts are strings so
// they reach decimal parsing without a float round trip.
type splitPlan struct {
	Children []struct {
		Quantity  string `yaml:"quantity"`
		UnitPrice string `yaml:"unit_price"`
		Location  string `yaml:"location"`
		GoodsName string `yaml:"goods_name"`
		Unit      string `yaml:"unit"`
	} `yaml:"children"`
}

var splitPlanFile string

var splitSubmitCmd = &cobra.Command{
	Use:   "submit <receipt-id>",
	Short: "File a split application",
	Long: `File a split application for a NORMAL receipt. The plan file lists the
children:

  children:
    - quantity: "50"
      unit_price: "10"
      location: A-01
    - quantity: "50"
      unit_price: "10"
      location: A-02`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		children, err := readSplitPlan(splitPlanFile)
		if err != nil {
			return err
		}
		return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
			return a.svc.SubmitSplit(ctx, receipts.SplitRequest{Actor: who, ReceiptID: args[0], Children: children})
		})
	},
}

func readSplitPlan(path string) ([]types.SplitChild, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, usageErr("read plan: %v", err)
	}
	var plan splitPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, usageErr("parse plan %s: %v", path, err)
	}
	children := make([]types.SplitChild, 0, len(plan.Children))
	for i, c := range plan.Children {
		qty, err := parseDecimal(fmt.Sprintf("children[%d].quantity", i), c.Quantity)
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal(fmt.Sprintf("children[%d].unit_price", i), c.UnitPrice)
		if err != nil {
			return nil, err
		}
		children = append(children, types.SplitChild{
			Quantity:  qty,
			UnitPrice: price,
			Location:  c.Location,
			GoodsName: c.GoodsName,
			Unit:      c.Unit,
		})
	}
	return children, nil
}

func init() {
	splitSubmitCmd.Flags().StringVar(&splitPlanFile, "plan", "", "YAML file describing the children (required)")
	_ = splitSubmitCmd.MarkFlagRequired("plan")

	splitCmd.AddCommand(splitSubmitCmd, newReviewCmd("split", (*receipts.Service).ReviewSplit))
}

// newReviewCmd builds the review subcommand shared by every application kind.
func newReviewCmd(kind string, review func(*receipts.Service, context.Context, receipts.ReviewRequest) (receipts.Result, error)) *cobra.Command {
	var (
		reject bool
		note   string
	)
	cmd := &cobra.Command{
		Use:   "review <application-id>",
		Short: fmt.Sprintf("Approve or reject a %s application", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reject && note == "" {
				return usageErr("--note is required when rejecting")
			}
			return runResult(cmd, func(ctx context.Context, a *app, who string) (receipts.Result, error) {
				return review(a.svc, ctx, receipts.ReviewRequest{
					Actor:         who,
					ApplicationID: args[0],
					Approve:       !reject,
					Note:          note,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&note, "note", "", "review note")
	return cmd
}
