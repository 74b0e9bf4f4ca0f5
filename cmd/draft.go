package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/narrative"
	"github.com/veridia-health/psur-cli/internal/obligation"
	"github.com/veridia-health/psur-cli/internal/trace"
	"github.com/veridia-health/psur-cli/pkg/anthropic"
)

var (
	draftTemplatePath string
	draftCaseID       string
	draftSlotID       string
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Draft a narrative slot proposal from the case's evidence",
	Long:  "Selects the evidence atoms matching the slot's required types and drafts the section text. The draft is saved as a pending proposal with agent provenance; it goes through adjudication like any other submission.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("draft"); err != nil {
			return err
		}

		tpl, err := obligation.LoadTemplate(draftTemplatePath)
		if err != nil {
			return err
		}
		slot := tpl.Slot(draftSlotID)
		if slot == nil {
			return eris.Errorf("slot %s not in template %s", draftSlotID, tpl.TemplateID)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		atoms, err := st.ListAtoms(ctx, draftCaseID)
		if err != nil {
			return eris.Wrap(err, "list evidence atoms")
		}

		selected := selectSlotEvidence(*slot, tpl, atoms)
		obligations := make([]model.Obligation, 0, len(slot.Mappings))
		for _, m := range slot.Mappings {
			if o := tpl.ObligationByID(m.ObligationID); o != nil {
				obligations = append(obligations, *o)
			}
		}

		drafter := narrative.NewDrafter(anthropic.NewClient(cfg.Anthropic.Key), cfg.Draft)
		proposal, err := drafter.Draft(ctx, narrative.Input{
			CaseID:      draftCaseID,
			Slot:        *slot,
			Obligations: obligations,
			Atoms:       selected,
		})
		if err != nil {
			return err
		}

		if err := st.SaveProposal(ctx, *proposal); err != nil {
			return eris.Wrap(err, "save draft proposal")
		}

		rec := trace.NewRecorder(st)
		_, err = rec.Append(ctx, draftCaseID, trace.Event{
			Type:      model.EventSlotProposed,
			EntityRef: proposal.ProposalID,
			Summary:   "narrative draft proposed for slot " + draftSlotID,
			Payload: map[string]any{
				"slot_id":    draftSlotID,
				"provenance": string(model.ProvenanceAgent),
				"atoms":      len(selected),
			},
		})
		if err != nil {
			return err
		}

		zap.L().Info("draft saved",
			zap.String("case", draftCaseID),
			zap.String("slot", draftSlotID),
			zap.String("proposal", proposal.ProposalID),
		)
		return printJSON(cmd.OutOrStdout(), proposal)
	},
}

// selectSlotEvidence picks the case atoms whose type is required by any of
// the slot's mapped obligations. Superseded atoms are excluded up front so
// drafts never cite retracted evidence.
func selectSlotEvidence(slot model.SlotDefinition, tpl *obligation.Template, atoms []model.EvidenceAtom) []model.EvidenceAtom {
	wanted := make(map[model.EvidenceType]bool)
	for _, m := range slot.Mappings {
		o := tpl.ObligationByID(m.ObligationID)
		if o == nil {
			continue
		}
		for _, et := range o.RequiredEvidenceTypes {
			wanted[et] = true
		}
	}

	var selected []model.EvidenceAtom
	for _, a := range atoms {
		if wanted[a.Type] && a.SupersededBy == "" {
			selected = append(selected, a)
		}
	}
	return selected
}

func init() {
	draftCmd.Flags().StringVar(&draftTemplatePath, "template", "", "path to template definition YAML (required)")
	draftCmd.Flags().StringVar(&draftCaseID, "case", "", "case identifier (required)")
	draftCmd.Flags().StringVar(&draftSlotID, "slot", "", "slot to draft (required)")
	_ = draftCmd.MarkFlagRequired("template")
	_ = draftCmd.MarkFlagRequired("case")
	_ = draftCmd.MarkFlagRequired("slot")
	rootCmd.AddCommand(draftCmd)
}
