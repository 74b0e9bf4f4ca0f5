package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/obligation"
)

var obligationsCmd = &cobra.Command{
	Use:   "obligations",
	Short: "Work with obligation and slot definitions",
}

var obligationsLintCmd = &cobra.Command{
	Use:   "lint <template.yaml>...",
	Short: "Validate template definition files",
	Long:  "Checks each definition file for unknown references, invalid enums and dependency cycles. A malformed definition is a configuration error; nothing downstream will touch it.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, path := range args {
			tpl, err := obligation.LoadTemplate(path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s: %d obligations, %d slots)\n",
				path, tpl.TemplateID, len(tpl.Obligations), len(tpl.Slots))
		}
		if failed > 0 {
			zap.L().Error("lint failed", zap.Int("files", failed))
			return fmt.Errorf("%d of %d definition files failed lint", failed, len(args))
		}
		return nil
	},
}

func init() {
	obligationsCmd.AddCommand(obligationsLintCmd)
	rootCmd.AddCommand(obligationsCmd)
}
