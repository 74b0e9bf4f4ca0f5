package coverage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/obligation"
)

var (
	periodStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
)

func testTemplate() *obligation.Template {
	return &obligation.Template{
		TemplateID:    "psur-eu-mdr",
		Jurisdictions: []string{"EU"},
		Obligations: []model.Obligation{
			{ID: "OBL-1", Jurisdiction: "EU", Mandatory: true,
				RequiredEvidenceTypes: []model.EvidenceType{model.EvidenceComplaintRecord}},
			{ID: "OBL-2", Jurisdiction: "EU", Mandatory: true,
				RequiredEvidenceTypes: []model.EvidenceType{model.EvidenceSalesVolume}},
			{ID: "OBL-3", Jurisdiction: "EU", Mandatory: false,
				RequiredEvidenceTypes: []model.EvidenceType{}},
		},
		Slots: []model.SlotDefinition{
			{SlotID: "slot-complaints", TemplateID: "psur-eu-mdr", Kind: model.SlotKindTable,
				Requiredness: model.SlotRequired, Ordinal: 1,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-1", Level: model.LevelMust}}},
			{SlotID: "slot-sales", TemplateID: "psur-eu-mdr", Kind: model.SlotKindTable,
				Requiredness: model.SlotRequired, Ordinal: 2,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-2", Level: model.LevelMust}}},
			{SlotID: "slot-summary", TemplateID: "psur-eu-mdr", Kind: model.SlotKindNarrative,
				Requiredness: model.SlotRequired, Ordinal: 3,
				MustFillBefore: []string{"slot-complaints", "slot-sales"},
				Mappings:       []model.SlotMapping{{ObligationID: "OBL-3", Level: model.LevelMust}}},
		},
	}
}

func complaintAtom(id, day string) model.EvidenceAtom {
	d, _ := time.Parse("2006-01-02", day)
	return model.EvidenceAtom{
		AtomID: id, Type: model.EvidenceComplaintRecord,
		PeriodStart: &d, PeriodEnd: &d, OccurredAt: &d,
	}
}

func acceptedProposal(slotID string, obligations []string, atomIDs []string) model.SlotProposal {
	return model.SlotProposal{
		ProposalID: "prp-" + slotID, SlotID: slotID,
		EvidenceAtomIDs:      atomIDs,
		ClaimedObligationIDs: obligations,
		Status:               model.ProposalAccepted,
	}
}

func TestBuild_NoEvidence_BlockingGapPinnedTop(t *testing.T) {
	report, err := Build(Input{
		Template:    testTemplate(),
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)

	// OBL-1 unsatisfied, nothing satisfied yet.
	assert.Equal(t, 2, report.Summary.MandatoryTotal)
	assert.Equal(t, 0, report.Summary.MandatorySatisfied)
	assert.Equal(t, 2, report.Summary.MandatoryRemaining)

	// All three slots unresolved; the complaint slot is a blocking gap and
	// must surface at the head of the queue.
	require.Len(t, report.Queue, 3)
	head := report.Queue[0]
	assert.True(t, head.Pinned)
	assert.Equal(t, 0, head.QueueRank)
	assert.Equal(t, "slot-complaints", head.SlotID)

	require.NotEmpty(t, head.MappedObligations)
	assert.Equal(t, model.ObligationUnsatisfied, head.MappedObligations[0].Status)
	assert.NotEmpty(t, head.MappedObligations[0].WhyUnsatisfied)
	assert.Contains(t, head.Evidence.Missing, model.EvidenceComplaintRecord)
}

func TestBuild_SatisfiedObligationLeavesQueue(t *testing.T) {
	atom := complaintAtom("atm-1", "2025-06-15")
	sales := model.EvidenceAtom{AtomID: "atm-2", Type: model.EvidenceSalesVolume,
		PeriodStart: &periodStart, PeriodEnd: &periodEnd}

	report, err := Build(Input{
		Template: testTemplate(),
		Atoms:    []model.EvidenceAtom{atom, sales},
		Accepted: []model.SlotProposal{
			acceptedProposal("slot-complaints", []string{"OBL-1"}, []string{"atm-1"}),
		},
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.MandatorySatisfied)
	assert.Equal(t, 1, report.Summary.MandatoryRemaining)
	assert.Equal(t, 1, report.Summary.RequiredSlotsFilled)

	for _, it := range report.Queue {
		assert.NotEqual(t, "slot-complaints", it.SlotID, "filled slot must leave the unresolved queue")
	}
}

func TestBuild_SummaryArithmeticHolds(t *testing.T) {
	inputs := []Input{
		{Template: testTemplate(), PeriodStart: periodStart, PeriodEnd: periodEnd},
		{Template: testTemplate(), PeriodStart: periodStart, PeriodEnd: periodEnd,
			Atoms: []model.EvidenceAtom{complaintAtom("atm-1", "2025-03-01")},
			Accepted: []model.SlotProposal{
				acceptedProposal("slot-complaints", []string{"OBL-1"}, []string{"atm-1"}),
			}},
	}
	for _, in := range inputs {
		report, err := Build(in)
		require.NoError(t, err)
		s := report.Summary
		assert.Equal(t, s.MandatoryTotal, s.MandatorySatisfied+s.MandatoryRemaining)
		assert.Equal(t, s.RequiredSlotsTotal, s.RequiredSlotsFilled+s.RequiredSlotsRemaining)
	}
}

func TestBuild_TopologicalOrder(t *testing.T) {
	report, err := Build(Input{
		Template:    testTemplate(),
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)

	rank := map[string]int{}
	for _, it := range report.Queue {
		rank[it.SlotID] = it.QueueRank
	}
	// slot-summary lists both others in must_fill_before.
	assert.Less(t, rank["slot-complaints"], rank["slot-summary"])
	assert.Less(t, rank["slot-sales"], rank["slot-summary"])

	// Ranks are a total order 0..n-1.
	for i, it := range report.Queue {
		assert.Equal(t, i, it.QueueRank)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	in := Input{
		Template: testTemplate(),
		Atoms: []model.EvidenceAtom{
			complaintAtom("atm-1", "2025-02-02"),
			{AtomID: "atm-2", Type: model.EvidenceSalesVolume},
		},
		Accepted: []model.SlotProposal{
			acceptedProposal("slot-sales", []string{"OBL-2"}, []string{"atm-2"}),
		},
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	}

	first, err := Build(in)
	require.NoError(t, err)
	second, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuild_EmptyRequiredEvidenceTriviallySatisfied(t *testing.T) {
	tpl := &obligation.Template{
		TemplateID: "t",
		Obligations: []model.Obligation{
			{ID: "OBL-A", Mandatory: true, RequiredEvidenceTypes: []model.EvidenceType{}},
		},
		Slots: []model.SlotDefinition{
			{SlotID: "s1", Kind: model.SlotKindNarrative, Requiredness: model.SlotRequired, Ordinal: 1,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-A", Level: model.LevelMust}}},
		},
	}
	report, err := Build(Input{Template: tpl, PeriodStart: periodStart, PeriodEnd: periodEnd})
	require.NoError(t, err)

	// Satisfied by template qualification alone; the slot still needs an
	// accepted proposal before it is filled.
	assert.Equal(t, 1, report.Summary.MandatorySatisfied)
	require.Len(t, report.Queue, 1)
	assert.Equal(t, model.ObligationSatisfied, report.Queue[0].MappedObligations[0].Status)
}

func TestBuild_NilPeriodAtomAlwaysInPeriod(t *testing.T) {
	tpl := &obligation.Template{
		TemplateID: "t",
		Obligations: []model.Obligation{
			{ID: "OBL-M", Mandatory: true,
				RequiredEvidenceTypes: []model.EvidenceType{model.EvidenceDeviceMaster}},
		},
		Slots: []model.SlotDefinition{
			{SlotID: "s1", Kind: model.SlotKindKeyValue, Requiredness: model.SlotRequired, Ordinal: 1,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-M", Level: model.LevelMust}}},
		},
	}
	// Master-data atom with no validity window.
	atom := model.EvidenceAtom{AtomID: "atm-m", Type: model.EvidenceDeviceMaster}

	report, err := Build(Input{
		Template: tpl,
		Atoms:    []model.EvidenceAtom{atom},
		Accepted: []model.SlotProposal{acceptedProposal("s1", []string{"OBL-M"}, []string{"atm-m"})},
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.MandatorySatisfied)
	assert.Empty(t, report.Queue)
}

func TestBuild_PartialSatisfaction(t *testing.T) {
	tpl := &obligation.Template{
		TemplateID: "t",
		Obligations: []model.Obligation{
			{ID: "OBL-X", Mandatory: true, RequiredEvidenceTypes: []model.EvidenceType{
				model.EvidenceComplaintRecord, model.EvidenceTrendAnalysis,
			}},
		},
		Slots: []model.SlotDefinition{
			{SlotID: "s1", Kind: model.SlotKindTable, Requiredness: model.SlotRequired, Ordinal: 1,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-X", Level: model.LevelMust}}},
		},
	}
	atom := complaintAtom("atm-1", "2025-05-05")

	report, err := Build(Input{
		Template: tpl,
		Atoms:    []model.EvidenceAtom{atom},
		Accepted: []model.SlotProposal{acceptedProposal("s1", []string{"OBL-X"}, []string{"atm-1"})},
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Summary.MandatorySatisfied)
	require.Len(t, report.Queue, 1)
	oc := report.Queue[0].MappedObligations[0]
	assert.Equal(t, model.ObligationPartiallySatisfied, oc.Status)
	assert.Contains(t, report.Queue[0].Evidence.Missing, model.EvidenceTrendAnalysis)
}

func TestBuild_OutOfPeriodEvidenceFailsPeriodCheck(t *testing.T) {
	// Evidence exists but predates the reporting period entirely.
	report, err := Build(Input{
		Template: testTemplate(),
		Atoms:    []model.EvidenceAtom{complaintAtom("atm-old", "2023-06-15")},
		PeriodStart: periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)

	var complaints *model.QueueSlotItem
	for i := range report.Queue {
		if report.Queue[i].SlotID == "slot-complaints" {
			complaints = &report.Queue[i]
		}
	}
	require.NotNil(t, complaints)
	assert.Equal(t, model.PeriodCheckFail, complaints.Evidence.PeriodCheck)
	assert.Contains(t, complaints.Evidence.Available, model.EvidenceComplaintRecord)
	assert.NotContains(t, complaints.Evidence.InPeriod, model.EvidenceComplaintRecord)
}

func TestBuild_DependencyCycleFailsFast(t *testing.T) {
	tpl := &obligation.Template{
		TemplateID: "t",
		Slots: []model.SlotDefinition{
			{SlotID: "s1", Kind: model.SlotKindNarrative, Ordinal: 1, MustFillBefore: []string{"s2"}},
			{SlotID: "s2", Kind: model.SlotKindNarrative, Ordinal: 2, MustFillBefore: []string{"s1"}},
		},
	}
	_, err := Build(Input{Template: tpl, PeriodStart: periodStart, PeriodEnd: periodEnd})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Contains(t, err.Error(), "s1")
}

func TestBuild_JurisdictionFiltering(t *testing.T) {
	tpl := testTemplate()
	tpl.Obligations = append(tpl.Obligations, model.Obligation{
		ID: "OBL-US", Jurisdiction: "US", Mandatory: true,
		RequiredEvidenceTypes: []model.EvidenceType{model.EvidenceRegistryData},
	})

	report, err := Build(Input{
		Template:      tpl,
		Jurisdictions: []string{"EU"},
		PeriodStart:   periodStart, PeriodEnd: periodEnd,
	})
	require.NoError(t, err)
	// The US-only obligation does not count against an EU evaluation.
	assert.Equal(t, 2, report.Summary.MandatoryTotal)
}

func TestBuild_InvalidPeriod(t *testing.T) {
	_, err := Build(Input{Template: testTemplate(), PeriodStart: periodEnd, PeriodEnd: periodStart})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period")
}

func TestBuild_PinnedPrerequisiteHoisting(t *testing.T) {
	// s2 is the blocking gap but depends on s1; s1 must be hoisted with it
	// so the topological property survives pinning.
	tpl := &obligation.Template{
		TemplateID: "t",
		Obligations: []model.Obligation{
			{ID: "OBL-GAP", Mandatory: true,
				RequiredEvidenceTypes: []model.EvidenceType{model.EvidenceIncidentReport}},
			{ID: "OBL-OK", Mandatory: false, RequiredEvidenceTypes: []model.EvidenceType{}},
		},
		Slots: []model.SlotDefinition{
			{SlotID: "s-other", Kind: model.SlotKindNarrative, Ordinal: 1,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-OK", Level: model.LevelShould}}},
			{SlotID: "s1", Kind: model.SlotKindNarrative, Ordinal: 2,
				Mappings: []model.SlotMapping{{ObligationID: "OBL-OK", Level: model.LevelShould}}},
			{SlotID: "s2", Kind: model.SlotKindTable, Ordinal: 3,
				MustFillBefore: []string{"s1"},
				Mappings:       []model.SlotMapping{{ObligationID: "OBL-GAP", Level: model.LevelMust}}},
		},
	}

	report, err := Build(Input{Template: tpl, PeriodStart: periodStart, PeriodEnd: periodEnd})
	require.NoError(t, err)
	require.Len(t, report.Queue, 3)

	rank := map[string]int{}
	pinned := map[string]bool{}
	for _, it := range report.Queue {
		rank[it.SlotID] = it.QueueRank
		pinned[it.SlotID] = it.Pinned
	}
	assert.True(t, pinned["s2"])
	assert.True(t, pinned["s1"], "prerequisite of a pinned slot is hoisted")
	assert.Less(t, rank["s1"], rank["s2"])
	assert.Less(t, rank["s2"], rank["s-other"], "pinned block precedes ordinary slots")
}
