// Package coverage implements the coverage queue builder: given a template,
// the evidence snapshot and the accepted proposals for a case, it computes
// which obligations are satisfied and ranks the unresolved slots into a
// work queue. The computation is a pure function of its inputs — no side
// effects, safe to run concurrently from multiple readers.
package coverage

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/obligation"
)

// Input carries everything a queue computation needs. All I/O (evidence
// fetch, proposal fetch) happens in the caller; the builder never blocks.
type Input struct {
	Template      *obligation.Template
	Jurisdictions []string
	Atoms         []model.EvidenceAtom
	// Accepted is the current accepted-proposal set. Entries with any
	// other status are ignored.
	Accepted    []model.SlotProposal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Build computes the coverage summary and the ranked queue of unresolved
// slots. Configuration errors (nil template, dependency cycles) fail the
// computation; they are never worked around.
func Build(in Input) (*model.CoverageReport, error) {
	if in.Template == nil {
		return nil, eris.New("coverage: template is required")
	}
	if in.PeriodEnd.Before(in.PeriodStart) {
		return nil, eris.Errorf("coverage: reporting period end %s precedes start %s",
			in.PeriodEnd.Format("2006-01-02"), in.PeriodStart.Format("2006-01-02"))
	}

	atoms := make(map[string]model.EvidenceAtom, len(in.Atoms))
	for _, a := range in.Atoms {
		atoms[a.AtomID] = a
	}

	accepted := make([]model.SlotProposal, 0, len(in.Accepted))
	acceptedBySlot := make(map[string]bool)
	for _, p := range in.Accepted {
		if p.Status != model.ProposalAccepted {
			continue
		}
		accepted = append(accepted, p)
		acceptedBySlot[p.SlotID] = true
	}

	// Obligation satisfaction over the applicable subset.
	applicable := applicableObligations(in.Template, in.Jurisdictions)
	states := make(map[string]obligationState, len(applicable))
	summary := model.CoverageSummary{}
	for _, o := range applicable {
		st := computeObligation(o, accepted, atoms, in.PeriodStart, in.PeriodEnd)
		states[o.ID] = st
		if o.Mandatory {
			summary.MandatoryTotal++
			if st.status == model.ObligationSatisfied {
				summary.MandatorySatisfied++
			}
		}
	}
	summary.MandatoryRemaining = summary.MandatoryTotal - summary.MandatorySatisfied

	applicableSet := make(map[string]model.Obligation, len(applicable))
	for _, o := range applicable {
		applicableSet[o.ID] = o
	}

	// Slot aggregation.
	defs := make(map[string]model.SlotDefinition, len(in.Template.Slots))
	var queue []model.QueueSlotItem
	for _, def := range in.Template.Slots {
		defs[def.SlotID] = def

		item, filled := buildSlotItem(def, applicableSet, states, atoms, in.PeriodStart, in.PeriodEnd, acceptedBySlot[def.SlotID])
		if def.Requiredness == model.SlotRequired {
			summary.RequiredSlotsTotal++
			if filled {
				summary.RequiredSlotsFilled++
			}
		}
		if !filled {
			queue = append(queue, item)
		}
	}
	summary.RequiredSlotsRemaining = summary.RequiredSlotsTotal - summary.RequiredSlotsFilled

	ordered, err := orderQueue(queue, defs)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("coverage queue computed",
		zap.String("template", in.Template.TemplateID),
		zap.Int("mandatory_total", summary.MandatoryTotal),
		zap.Int("mandatory_satisfied", summary.MandatorySatisfied),
		zap.Int("queue_len", len(ordered)),
	)

	return &model.CoverageReport{
		TemplateID: in.Template.TemplateID,
		Summary:    summary,
		Queue:      ordered,
	}, nil
}

// buildSlotItem computes the queue item for one slot and whether the slot
// is filled. A slot is filled only when an accepted proposal exists for it
// and every MUST-level mapped obligation is satisfied.
func buildSlotItem(
	def model.SlotDefinition,
	applicable map[string]model.Obligation,
	states map[string]obligationState,
	atoms map[string]model.EvidenceAtom,
	periodStart, periodEnd time.Time,
	hasAccepted bool,
) (model.QueueSlotItem, bool) {
	item := model.QueueSlotItem{
		SlotID:       def.SlotID,
		Kind:         def.Kind,
		Requiredness: def.Requiredness,
		Dependencies: model.SlotDependencies{
			MustFillBefore:         def.MustFillBefore,
			MustHaveEvidenceBefore: def.MustHaveEvidenceBefore,
		},
		GenerationContract: def.Contract,
	}

	filled := hasAccepted
	requiredTypes := make(map[model.EvidenceType]bool)
	for _, m := range def.Mappings {
		o, ok := applicable[m.ObligationID]
		if !ok {
			// Mapped obligation exists in the template but is out of the
			// requested jurisdiction set; it imposes nothing on this run.
			continue
		}
		st := states[o.ID]
		item.MappedObligations = append(item.MappedObligations, model.ObligationCoverage{
			ObligationID:   o.ID,
			Level:          m.Level,
			Mandatory:      o.Mandatory,
			Status:         st.status,
			WhyUnsatisfied: st.why,
		})
		if m.Level == model.LevelMust && st.status != model.ObligationSatisfied {
			filled = false
		}
		for _, et := range o.RequiredEvidenceTypes {
			requiredTypes[et] = true
		}

		// Blocking gap: mandatory obligation with zero atoms of a required
		// type, period regardless. These entries pin to the queue head so a
		// hard gap is never buried by rank.
		if o.Mandatory {
			for _, et := range o.RequiredEvidenceTypes {
				if !typePresent(atoms, et) {
					item.Pinned = true
				}
			}
		}
	}

	item.Evidence = evidenceRequirements(requiredTypes, atoms, periodStart, periodEnd)
	return item, filled
}

// evidenceRequirements computes required vs. available vs. in-period
// evidence types for a slot. The period check passes only if every
// required-and-available type also has period overlap.
func evidenceRequirements(
	required map[model.EvidenceType]bool,
	atoms map[string]model.EvidenceAtom,
	periodStart, periodEnd time.Time,
) model.EvidenceRequirements {
	req := model.EvidenceRequirements{PeriodCheck: model.PeriodCheckPass}
	for et := range required {
		req.Required = append(req.Required, et)
		switch {
		case !typePresent(atoms, et):
			req.Missing = append(req.Missing, et)
		case typeInPeriod(atoms, et, periodStart, periodEnd):
			req.Available = append(req.Available, et)
			req.InPeriod = append(req.InPeriod, et)
		default:
			req.Available = append(req.Available, et)
			req.PeriodCheck = model.PeriodCheckFail
		}
	}
	sortTypes(req.Required)
	sortTypes(req.Available)
	sortTypes(req.Missing)
	sortTypes(req.InPeriod)
	return req
}

func sortTypes(ts []model.EvidenceType) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}

// applicableObligations filters the template's obligations down to the
// requested jurisdictions. An empty jurisdiction set, or an obligation with
// no jurisdiction of its own, matches everything.
func applicableObligations(tpl *obligation.Template, jurisdictions []string) []model.Obligation {
	if len(jurisdictions) == 0 {
		return tpl.Obligations
	}
	want := make(map[string]bool, len(jurisdictions))
	for _, j := range jurisdictions {
		want[j] = true
	}
	var out []model.Obligation
	for _, o := range tpl.Obligations {
		if o.Jurisdiction == "" || want[o.Jurisdiction] {
			out = append(out, o)
		}
	}
	return out
}
