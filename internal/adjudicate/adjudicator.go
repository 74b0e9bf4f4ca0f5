// Package adjudicate validates proposed slot fulfillments against the
// evidence-admissibility rules and renders an accept / reject / needs-review
// decision. Admissibility failures are expected, user-facing outcomes and
// come back as structured reasons; a missing authoritative obligation list
// is an integrity failure and fails the call outright (fail closed).
package adjudicate

import (
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/model"
)

// Input carries one adjudication request. All data is already resolved by
// the caller; adjudication itself never performs I/O.
type Input struct {
	Proposal model.SlotProposal
	Atoms    []model.EvidenceAtom
	// ValidObligationIDs is the authoritative obligation list, fetched
	// once per adjudication pass. Nil means the list was unavailable and
	// the adjudication must fail rather than pass unchecked claims. An
	// allocated empty list is a valid (if strict) universe.
	ValidObligationIDs []string
	PeriodStart        time.Time
	PeriodEnd          time.Time
}

// Adjudicate applies the admissibility rules to the proposal and returns
// the decision with every applicable failure collected, not just the first.
// The input proposal is never mutated: a rejected proposal is resubmitted
// as a new proposal, not repaired in place.
func Adjudicate(in Input) (*model.AdjudicationResult, error) {
	if in.ValidObligationIDs == nil {
		return nil, eris.New("adjudicate: authoritative obligation list unavailable, failing closed")
	}

	atoms := make(map[string]model.EvidenceAtom, len(in.Atoms))
	for _, a := range in.Atoms {
		atoms[a.AtomID] = a
	}
	validObligations := make(map[string]bool, len(in.ValidObligationIDs))
	for _, id := range in.ValidObligationIDs {
		validObligations[id] = true
	}

	p := in.Proposal
	var reasons []model.Reason
	var review []model.Reason

	// Rule 1: a proposal with zero evidence references is rejected
	// unconditionally.
	if len(p.EvidenceAtomIDs) == 0 {
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonEmptyEvidence,
			Message: "slot requires in-period evidence: proposal references no evidence atoms",
		})
	}

	// Rule 2: every referenced atom must exist in the evidence store.
	var unknown, outOfPeriod, superseded []string
	for _, id := range p.EvidenceAtomIDs {
		a, ok := atoms[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		// Rule 3: the atom's normalized event date must fall inside the
		// reporting period, bounds inclusive.
		if !a.OccurredInPeriod(in.PeriodStart, in.PeriodEnd) {
			outOfPeriod = append(outOfPeriod, id)
		}
		if a.SupersededBy != "" {
			superseded = append(superseded, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonUnknownAtom,
			Message: fmt.Sprintf("referenced evidence atoms not found: %v", unknown),
			AtomIDs: unknown,
		})
	}
	if len(outOfPeriod) > 0 {
		sort.Strings(outOfPeriod)
		reasons = append(reasons, model.Reason{
			Code: model.ReasonOutOfPeriod,
			Message: fmt.Sprintf("evidence dated outside reporting period %s..%s: %v",
				in.PeriodStart.Format("2006-01-02"), in.PeriodEnd.Format("2006-01-02"), outOfPeriod),
			AtomIDs: outOfPeriod,
		})
	}

	// Rule 4: every claimed obligation must exist in the authoritative list.
	var unknownObligations []string
	for _, id := range p.ClaimedObligationIDs {
		if !validObligations[id] {
			unknownObligations = append(unknownObligations, id)
		}
	}
	if len(unknownObligations) > 0 {
		sort.Strings(unknownObligations)
		reasons = append(reasons, model.Reason{
			Code:          model.ReasonUnknownObligation,
			Message:       fmt.Sprintf("claimed obligations not in authoritative list: %v", unknownObligations),
			ObligationIDs: unknownObligations,
		})
	}

	// Rule 5: a method statement is required for everything except a
	// deterministic pass-through of pre-validated output.
	if p.MethodStatement == "" && p.Provenance != model.ProvenanceDeterministic {
		reasons = append(reasons, model.Reason{
			Code:    model.ReasonMissingMethod,
			Message: "method statement is required for non-deterministic proposals",
		})
	}

	// Review signals: structurally admissible but not auto-acceptable.
	if len(superseded) > 0 {
		sort.Strings(superseded)
		review = append(review, model.Reason{
			Code:    model.ReasonSupersededEvidence,
			Message: fmt.Sprintf("proposal references superseded evidence: %v", superseded),
			AtomIDs: superseded,
		})
	}
	if len(p.ClaimedObligationIDs) == 0 {
		review = append(review, model.Reason{
			Code:    model.ReasonNoObligationsClaimed,
			Message: "proposal claims no obligations; coverage cannot advance",
		})
	}

	result := &model.AdjudicationResult{DecidedAt: time.Now().UTC()}
	switch {
	case len(reasons) > 0:
		result.Decision = model.DecisionRejected
		result.Reasons = reasons
	case len(review) > 0:
		result.Decision = model.DecisionNeedsReview
		result.Reasons = review
	default:
		result.Decision = model.DecisionAccepted
		hash, err := ContentHash(p)
		if err != nil {
			return nil, err
		}
		result.ContentHash = hash
	}

	zap.L().Info("proposal adjudicated",
		zap.String("proposal", p.ProposalID),
		zap.String("slot", p.SlotID),
		zap.String("decision", string(result.Decision)),
		zap.Int("reasons", len(result.Reasons)),
	)
	return result, nil
}

// Apply returns a copy of the proposal with the adjudication outcome set.
// The original value is untouched.
func Apply(p model.SlotProposal, result *model.AdjudicationResult) model.SlotProposal {
	applied := p
	applied.Result = result
	switch result.Decision {
	case model.DecisionAccepted:
		applied.Status = model.ProposalAccepted
	case model.DecisionRejected:
		applied.Status = model.ProposalRejected
	case model.DecisionNeedsReview:
		applied.Status = model.ProposalNeedsReview
	}
	return applied
}
