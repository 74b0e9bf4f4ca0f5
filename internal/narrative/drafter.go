// Package narrative drafts slot content with an LLM. A draft is never
// trusted output: it becomes a pending SlotProposal with agent provenance
// and goes through the same adjudication rules as any human submission.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/pkg/anthropic"
)

// Options tunes the drafting call.
type Options struct {
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Drafter produces draft slot proposals from the evidence selected for a
// slot. The system prompt (role + generation contract) is cached across
// slots of the same case.
type Drafter struct {
	client anthropic.Client
	opts   Options
}

// NewDrafter returns a drafter backed by the given client.
func NewDrafter(client anthropic.Client, opts Options) *Drafter {
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5-20250929"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 2048
	}
	return &Drafter{client: client, opts: opts}
}

// Input carries one drafting request. Atoms are the evidence already
// selected for the slot; the drafter summarizes them, it never invents
// evidence references.
type Input struct {
	CaseID      string
	Slot        model.SlotDefinition
	Obligations []model.Obligation
	Atoms       []model.EvidenceAtom
}

// Draft produces a pending proposal for the slot. The returned proposal
// claims exactly the slot's mapped obligations and references exactly the
// supplied atoms; adjudication checks both against the authoritative data.
func (d *Drafter) Draft(ctx context.Context, in Input) (*model.SlotProposal, error) {
	if len(in.Atoms) == 0 {
		return nil, eris.Errorf("narrative: no evidence selected for slot %s", in.Slot.SlotID)
	}

	system := anthropic.BuildCachedSystemBlocks(systemPrompt(in.Slot, in.Obligations))
	user, err := userPrompt(in)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     d.opts.Model,
		MaxTokens: d.opts.MaxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "narrative: draft slot %s", in.Slot.SlotID)
	}
	resp.Usage.LogCost(d.opts.Model, "draft")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, eris.Errorf("narrative: empty draft for slot %s (stop reason %s)", in.Slot.SlotID, resp.StopReason)
	}

	atomIDs := make([]string, 0, len(in.Atoms))
	for _, a := range in.Atoms {
		atomIDs = append(atomIDs, a.AtomID)
	}
	sort.Strings(atomIDs)
	obligationIDs := make([]string, 0, len(in.Slot.Mappings))
	for _, m := range in.Slot.Mappings {
		obligationIDs = append(obligationIDs, m.ObligationID)
	}
	sort.Strings(obligationIDs)

	proposal := &model.SlotProposal{
		ProposalID:           "prp-" + uuid.New().String(),
		CaseID:               in.CaseID,
		SlotID:               in.Slot.SlotID,
		EvidenceAtomIDs:      atomIDs,
		ClaimedObligationIDs: obligationIDs,
		MethodStatement: fmt.Sprintf("narrative drafted by %s from %d evidence atoms; summarization only, no derived figures",
			d.opts.Model, len(atomIDs)),
		Content:    map[string]any{"narrative": text},
		Provenance: model.ProvenanceAgent,
		Status:     model.ProposalPending,
		CreatedAt:  time.Now().UTC(),
	}

	zap.L().Info("slot drafted",
		zap.String("case", in.CaseID),
		zap.String("slot", in.Slot.SlotID),
		zap.String("proposal", proposal.ProposalID),
		zap.Int("atoms", len(atomIDs)),
	)
	return proposal, nil
}

func systemPrompt(slot model.SlotDefinition, obligations []model.Obligation) string {
	var b strings.Builder
	b.WriteString("You draft one section of a periodic safety report for a medical device. ")
	b.WriteString("Summarize only the evidence provided; never invent figures, never extrapolate beyond the data. ")
	b.WriteString("Write in the neutral register of a regulatory document.\n\n")

	fmt.Fprintf(&b, "Section kind: %s\n", slot.Kind)
	if len(slot.Contract.MustInclude) > 0 {
		fmt.Fprintf(&b, "The section must address: %s\n", strings.Join(slot.Contract.MustInclude, "; "))
	}
	if len(slot.Contract.ForbiddenTransforms) > 0 {
		fmt.Fprintf(&b, "Forbidden: %s\n", strings.Join(slot.Contract.ForbiddenTransforms, "; "))
	}

	if len(obligations) > 0 {
		b.WriteString("\nThe section satisfies these obligations:\n")
		for _, o := range obligations {
			fmt.Fprintf(&b, "- %s: %s\n", o.ID, o.Description)
		}
	}
	return b.String()
}

func userPrompt(in Input) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft the %q section from the following evidence atoms.\n\n", in.Slot.SlotID)
	for _, a := range in.Atoms {
		data, err := json.Marshal(a.Data)
		if err != nil {
			return "", eris.Wrapf(err, "narrative: marshal atom %s", a.AtomID)
		}
		date := "n/a"
		if a.OccurredAt != nil {
			date = a.OccurredAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "[%s] type=%s date=%s %s\n", a.AtomID, a.Type, date, data)
	}
	return b.String(), nil
}
