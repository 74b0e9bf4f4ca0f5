package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Case bookkeeping",
}

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known cases",
	Long:  "A case exists once its decision trace has at least one entry; there is no separate case record.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		ids, err := st.ListTraceIDs(ctx)
		if err != nil {
			return eris.Wrap(err, "list cases")
		}
		return printJSON(cmd.OutOrStdout(), ids)
	},
}

var caseInitCmd = &cobra.Command{
	Use:   "init <case-id>",
	Short: "Start a case's decision trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rec := trace.NewRecorder(st)
		entry, err := rec.Append(ctx, args[0], trace.Event{
			Type:    model.EventCaseCreated,
			Summary: "case created",
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entry)
	},
}

func init() {
	caseCmd.AddCommand(caseListCmd)
	caseCmd.AddCommand(caseInitCmd)
	rootCmd.AddCommand(caseCmd)
}
