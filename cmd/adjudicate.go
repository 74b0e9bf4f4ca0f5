package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/adjudicate"
	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/obligation"
	"github.com/veridia-health/psur-cli/internal/store"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var (
	adjTemplatePath string
	adjProposalPath string
	adjCaseID       string
	adjPeriodStart  string
	adjPeriodEnd    string
)

var adjudicateCmd = &cobra.Command{
	Use:   "adjudicate",
	Short: "Adjudicate slot proposals against the admissibility rules",
	Long:  "Validates one proposal file, or every pending proposal of a case, against the evidence store and the template's obligation list. Outcomes are persisted and recorded in the decision trace.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tpl, err := obligation.LoadTemplate(adjTemplatePath)
		if err != nil {
			return err
		}
		start, end, err := parsePeriod(adjPeriodStart, adjPeriodEnd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		rec := trace.NewRecorder(st)

		var proposals []model.SlotProposal
		switch {
		case adjProposalPath != "":
			p, err := readProposalFile(adjProposalPath)
			if err != nil {
				return err
			}
			proposals = []model.SlotProposal{*p}
		case adjCaseID != "":
			proposals, err = st.ListProposals(ctx, store.ProposalFilter{
				CaseID: adjCaseID,
				Status: model.ProposalPending,
			})
			if err != nil {
				return eris.Wrap(err, "list pending proposals")
			}
		default:
			return eris.New("either --proposal or --case is required")
		}

		if len(proposals) == 0 {
			zap.L().Info("nothing to adjudicate", zap.String("case", adjCaseID))
			return nil
		}

		applied := make([]model.SlotProposal, 0, len(proposals))
		for _, p := range proposals {
			a, err := adjudicateOne(ctx, st, rec, tpl, p, start, end)
			if err != nil {
				return err
			}
			applied = append(applied, a)
		}
		return printJSON(cmd.OutOrStdout(), applied)
	},
}

// adjudicateOne runs the full adjudication of a single proposal: rule
// evaluation against the case's evidence snapshot, the slot_adjudicated
// trace entry, and persistence of the outcome — in that order. The trace is
// the system of record: if the trace append fails the proposal is left
// untouched in the store, so no decision ever becomes durable without its
// trace entry.
func adjudicateOne(
	ctx context.Context,
	st store.Store,
	rec *trace.Recorder,
	tpl *obligation.Template,
	p model.SlotProposal,
	periodStart, periodEnd time.Time,
) (model.SlotProposal, error) {
	atoms, err := st.ListAtoms(ctx, p.CaseID)
	if err != nil {
		return model.SlotProposal{}, eris.Wrapf(err, "list evidence for case %s", p.CaseID)
	}

	result, err := adjudicate.Adjudicate(adjudicate.Input{
		Proposal:           p,
		Atoms:              atoms,
		ValidObligationIDs: tpl.ObligationIDs(),
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
	})
	if err != nil {
		return model.SlotProposal{}, err
	}

	payload := map[string]any{"slot_id": p.SlotID, "provenance": string(p.Provenance)}
	if len(result.Reasons) > 0 {
		codes := make([]string, 0, len(result.Reasons))
		for _, r := range result.Reasons {
			codes = append(codes, string(r.Code))
		}
		payload["reason_codes"] = codes
	}
	entry, err := rec.Append(ctx, p.CaseID, trace.Event{
		Type:      model.EventSlotAdjudicated,
		EntityRef: p.ProposalID,
		Decision:  string(result.Decision),
		Summary:   fmt.Sprintf("proposal for slot %s %s", p.SlotID, result.Decision),
		Payload:   payload,
	})
	if err != nil {
		return model.SlotProposal{}, err
	}

	applied := adjudicate.Apply(p, result)
	if err := st.SaveProposal(ctx, applied); err != nil {
		return model.SlotProposal{}, eris.Wrapf(err,
			"save proposal %s (decision recorded at trace seq %d)", p.ProposalID, entry.SequenceNum)
	}
	return applied, nil
}

// readProposalFile loads a proposal JSON file. File-sourced proposals enter
// as pending regardless of what the file claims.
func readProposalFile(path string) (*model.SlotProposal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read proposal %s", path)
	}
	var p model.SlotProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, eris.Wrapf(err, "decode proposal %s", path)
	}
	if p.ProposalID == "" {
		return nil, eris.Errorf("proposal %s has no proposal_id", path)
	}
	if p.CaseID == "" {
		return nil, eris.Errorf("proposal %s has no case_id", path)
	}
	p.Status = model.ProposalPending
	p.Result = nil
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return &p, nil
}

func init() {
	adjudicateCmd.Flags().StringVar(&adjTemplatePath, "template", "", "path to template definition YAML (required)")
	adjudicateCmd.Flags().StringVar(&adjProposalPath, "proposal", "", "path to a single proposal JSON file")
	adjudicateCmd.Flags().StringVar(&adjCaseID, "case", "", "adjudicate every pending proposal of this case")
	adjudicateCmd.Flags().StringVar(&adjPeriodStart, "period-start", "", "reporting period start, YYYY-MM-DD (required)")
	adjudicateCmd.Flags().StringVar(&adjPeriodEnd, "period-end", "", "reporting period end, YYYY-MM-DD (required)")
	_ = adjudicateCmd.MarkFlagRequired("template")
	_ = adjudicateCmd.MarkFlagRequired("period-start")
	_ = adjudicateCmd.MarkFlagRequired("period-end")
	rootCmd.AddCommand(adjudicateCmd)
}
