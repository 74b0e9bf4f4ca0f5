package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/coverage"
	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/obligation"
	"github.com/veridia-health/psur-cli/internal/store"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var (
	queueTemplatePath  string
	queueCaseID        string
	queuePeriodStart   string
	queuePeriodEnd     string
	queueJurisdictions []string
	queueDryRun        bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Compute the coverage summary and ranked slot queue for a case",
	Long:  "Every computation is recorded in the case's decision trace. With --dry-run the queue is computed and printed but deliberately kept out of the record, for speculative runs (e.g. trying jurisdiction filters) that must not become part of the case history.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tpl, err := obligation.LoadTemplate(queueTemplatePath)
		if err != nil {
			return err
		}
		start, end, err := parsePeriod(queuePeriodStart, queuePeriodEnd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		atoms, err := st.ListAtoms(ctx, queueCaseID)
		if err != nil {
			return eris.Wrap(err, "list evidence atoms")
		}
		accepted, err := st.ListProposals(ctx, store.ProposalFilter{
			CaseID: queueCaseID,
			Status: model.ProposalAccepted,
		})
		if err != nil {
			return eris.Wrap(err, "list accepted proposals")
		}

		report, err := coverage.Build(coverage.Input{
			Template:      tpl,
			Jurisdictions: queueJurisdictions,
			Atoms:         atoms,
			Accepted:      accepted,
			PeriodStart:   start,
			PeriodEnd:     end,
		})
		if err != nil {
			return err
		}

		if !queueDryRun {
			rec := trace.NewRecorder(st)
			_, err = rec.Append(ctx, queueCaseID, trace.Event{
				Type:      model.EventCoverageComputed,
				EntityRef: tpl.TemplateID,
				Summary:   "coverage queue computed",
				Payload: map[string]any{
					"mandatory_satisfied": report.Summary.MandatorySatisfied,
					"mandatory_remaining": report.Summary.MandatoryRemaining,
					"queue_len":           len(report.Queue),
				},
			})
			if err != nil {
				return err
			}
		}

		zap.L().Info("queue built",
			zap.String("case", queueCaseID),
			zap.String("template", tpl.TemplateID),
			zap.Int("queue_len", len(report.Queue)),
		)
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	queueCmd.Flags().StringVar(&queueTemplatePath, "template", "", "path to template definition YAML (required)")
	queueCmd.Flags().StringVar(&queueCaseID, "case", "", "case identifier (required)")
	queueCmd.Flags().StringVar(&queuePeriodStart, "period-start", "", "reporting period start, YYYY-MM-DD (required)")
	queueCmd.Flags().StringVar(&queuePeriodEnd, "period-end", "", "reporting period end, YYYY-MM-DD (required)")
	queueCmd.Flags().StringSliceVar(&queueJurisdictions, "jurisdictions", nil, "restrict obligations to these jurisdictions")
	queueCmd.Flags().BoolVar(&queueDryRun, "dry-run", false, "compute and print only; keep the run out of the decision trace")
	_ = queueCmd.MarkFlagRequired("template")
	_ = queueCmd.MarkFlagRequired("case")
	_ = queueCmd.MarkFlagRequired("period-start")
	_ = queueCmd.MarkFlagRequired("period-end")
	rootCmd.AddCommand(queueCmd)
}
