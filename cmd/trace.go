package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/store"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect, verify and export decision traces",
}

var (
	traceLogEvent    string
	traceLogEntity   string
	traceLogContains string
	traceLogLimit    int
)

var traceLogCmd = &cobra.Command{
	Use:   "log [case-id]",
	Short: "Show a case's decision trace, or search across cases",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		f := store.TraceFilter{
			EntityRef: traceLogEntity,
			Contains:  traceLogContains,
			Limit:     traceLogLimit,
		}
		if len(args) == 1 {
			f.TraceID = args[0]
		}
		if traceLogEvent != "" {
			et, err := model.ParseEventType(traceLogEvent)
			if err != nil {
				return err
			}
			f.EventType = et
		}

		entries, err := st.SearchTraceEntries(ctx, f)
		if err != nil {
			return eris.Wrap(err, "search trace entries")
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify <case-id>",
	Short: "Verify a case's hash chain end to end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := trace.Verify(ctx, st, args[0])
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Valid {
			return eris.Errorf("trace %s failed verification: %s", args[0], report.Detail)
		}
		return nil
	},
}

var traceExportFormat string

var traceExportCmd = &cobra.Command{
	Use:   "export <case-id>",
	Short: "Export a case's decision trace as NDJSON or narrative text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.TraceEntries(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load trace entries")
		}

		switch traceExportFormat {
		case "ndjson":
			return trace.WriteNDJSON(cmd.OutOrStdout(), entries)
		case "narrative":
			return trace.WriteNarrative(cmd.OutOrStdout(), args[0], entries)
		}
		return eris.Errorf("unknown export format %q (ndjson|narrative)", traceExportFormat)
	},
}

func init() {
	traceLogCmd.Flags().StringVar(&traceLogEvent, "event", "", "filter by event type")
	traceLogCmd.Flags().StringVar(&traceLogEntity, "entity", "", "filter by entity reference")
	traceLogCmd.Flags().StringVar(&traceLogContains, "contains", "", "filter by summary substring")
	traceLogCmd.Flags().IntVar(&traceLogLimit, "limit", 0, "max entries to return")
	traceExportCmd.Flags().StringVar(&traceExportFormat, "format", "ndjson", "export format: ndjson or narrative")

	traceCmd.AddCommand(traceLogCmd)
	traceCmd.AddCommand(traceVerifyCmd)
	traceCmd.AddCommand(traceExportCmd)
	rootCmd.AddCommand(traceCmd)
}
