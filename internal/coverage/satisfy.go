package coverage

import (
	"fmt"
	"sort"
	"time"

	"github.com/veridia-health/psur-cli/internal/model"
)

// obligationState is the computed satisfaction of one obligation together
// with the evidence types that back it.
type obligationState struct {
	status       model.ObligationStatus
	coveredTypes map[model.EvidenceType]bool
	why          []string
}

// computeObligation evaluates one obligation against the accepted proposals
// and the evidence snapshot.
//
// An obligation with an empty required-evidence-types list is satisfied by
// template qualification alone. That is deliberate: such obligations state
// "address this section", not "prove it with records". The coverage summary
// still counts them, so a template full of evidence-free mandatory
// obligations is visible in review.
func computeObligation(
	o model.Obligation,
	accepted []model.SlotProposal,
	atoms map[string]model.EvidenceAtom,
	periodStart, periodEnd time.Time,
) obligationState {
	st := obligationState{coveredTypes: make(map[model.EvidenceType]bool)}

	if len(o.RequiredEvidenceTypes) == 0 {
		st.status = model.ObligationSatisfied
		return st
	}

	required := make(map[model.EvidenceType]bool, len(o.RequiredEvidenceTypes))
	for _, et := range o.RequiredEvidenceTypes {
		required[et] = true
	}

	claiming := 0
	for _, p := range accepted {
		if p.Status != model.ProposalAccepted || !claims(p, o.ID) {
			continue
		}
		claiming++
		for _, atomID := range p.EvidenceAtomIDs {
			a, ok := atoms[atomID]
			if !ok {
				continue
			}
			if required[a.Type] && a.OverlapsPeriod(periodStart, periodEnd) {
				st.coveredTypes[a.Type] = true
			}
		}
	}

	switch {
	case len(st.coveredTypes) == len(required):
		st.status = model.ObligationSatisfied
	case len(st.coveredTypes) > 0:
		st.status = model.ObligationPartiallySatisfied
	default:
		st.status = model.ObligationUnsatisfied
	}

	if st.status != model.ObligationSatisfied {
		if claiming == 0 {
			st.why = append(st.why, fmt.Sprintf("no accepted proposal claims obligation %s", o.ID))
		}
		missing := missingTypes(required, st.coveredTypes)
		if len(missing) > 0 {
			// Distinguish "no such evidence exists" from "exists but out of
			// period" so the queue annotation is actionable.
			var absent, outOfPeriod []string
			for _, et := range missing {
				switch {
				case !typePresent(atoms, et):
					absent = append(absent, string(et))
				case !typeInPeriod(atoms, et, periodStart, periodEnd):
					outOfPeriod = append(outOfPeriod, string(et))
				default:
					absent = append(absent, string(et)+" (not referenced by an accepted proposal)")
				}
			}
			if len(absent) > 0 {
				st.why = append(st.why, fmt.Sprintf("missing evidence: %v", absent))
			}
			if len(outOfPeriod) > 0 {
				st.why = append(st.why, fmt.Sprintf("evidence exists but none overlaps the reporting period: %v", outOfPeriod))
			}
		}
	}
	return st
}

func claims(p model.SlotProposal, obligationID string) bool {
	for _, id := range p.ClaimedObligationIDs {
		if id == obligationID {
			return true
		}
	}
	return false
}

func missingTypes(required, covered map[model.EvidenceType]bool) []model.EvidenceType {
	var out []model.EvidenceType
	for et := range required {
		if !covered[et] {
			out = append(out, et)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func typePresent(atoms map[string]model.EvidenceAtom, et model.EvidenceType) bool {
	for _, a := range atoms {
		if a.Type == et {
			return true
		}
	}
	return false
}

func typeInPeriod(atoms map[string]model.EvidenceAtom, et model.EvidenceType, start, end time.Time) bool {
	for _, a := range atoms {
		if a.Type == et && a.OverlapsPeriod(start, end) {
			return true
		}
	}
	return false
}
