package adjudicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia-health/psur-cli/internal/model"
)

var (
	periodStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
)

func atomDated(id, day string) model.EvidenceAtom {
	d, _ := time.Parse("2006-01-02", day)
	return model.EvidenceAtom{
		AtomID: id, Type: model.EvidenceComplaintRecord, OccurredAt: &d,
	}
}

func validProposal() model.SlotProposal {
	return model.SlotProposal{
		ProposalID:           "prp-1",
		SlotID:               "slot-complaints",
		EvidenceAtomIDs:      []string{"atm-1"},
		ClaimedObligationIDs: []string{"OBL-1"},
		MethodStatement:      "tabulated complaint records from the register export",
		Provenance:           model.ProvenanceHuman,
		Status:               model.ProposalPending,
	}
}

func validInput(p model.SlotProposal) Input {
	return Input{
		Proposal:           p,
		Atoms:              []model.EvidenceAtom{atomDated("atm-1", "2025-06-15")},
		ValidObligationIDs: []string{"OBL-1", "OBL-2"},
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
	}
}

func reasonCodes(rs []model.Reason) []model.ReasonCode {
	codes := make([]model.ReasonCode, 0, len(rs))
	for _, r := range rs {
		codes = append(codes, r.Code)
	}
	return codes
}

func TestAdjudicate_Accepted(t *testing.T) {
	result, err := Adjudicate(validInput(validProposal()))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAccepted, result.Decision)
	assert.Empty(t, result.Reasons)
	assert.Len(t, result.ContentHash, 64)
}

func TestAdjudicate_EmptyEvidenceAlwaysRejected(t *testing.T) {
	p := validProposal()
	p.EvidenceAtomIDs = nil

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
	require.NotEmpty(t, result.Reasons)
	assert.Equal(t, model.ReasonEmptyEvidence, result.Reasons[0].Code)
	assert.Contains(t, result.Reasons[0].Message, "in-period evidence")
}

func TestAdjudicate_UnknownAtom(t *testing.T) {
	p := validProposal()
	p.EvidenceAtomIDs = []string{"atm-1", "atm-ghost"}

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, model.ReasonUnknownAtom, result.Reasons[0].Code)
	assert.Equal(t, []string{"atm-ghost"}, result.Reasons[0].AtomIDs)
}

func TestAdjudicate_PeriodBoundaries(t *testing.T) {
	cases := []struct {
		day  string
		want model.Decision
	}{
		{"2024-12-31", model.DecisionRejected}, // one day before start
		{"2025-01-01", model.DecisionAccepted}, // exact start boundary
		{"2025-12-31", model.DecisionAccepted}, // exact end boundary
		{"2026-01-01", model.DecisionRejected}, // one day after end
	}
	for _, tc := range cases {
		t.Run(tc.day, func(t *testing.T) {
			in := validInput(validProposal())
			in.Atoms = []model.EvidenceAtom{atomDated("atm-1", tc.day)}

			result, err := Adjudicate(in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Decision)
			if tc.want == model.DecisionRejected {
				require.Len(t, result.Reasons, 1)
				assert.Equal(t, model.ReasonOutOfPeriod, result.Reasons[0].Code)
				assert.Equal(t, []string{"atm-1"}, result.Reasons[0].AtomIDs)
			}
		})
	}
}

func TestAdjudicate_UnknownObligation(t *testing.T) {
	p := validProposal()
	p.ClaimedObligationIDs = []string{"OBL-1", "OBL-999"}

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, model.ReasonUnknownObligation, result.Reasons[0].Code)
	assert.Equal(t, []string{"OBL-999"}, result.Reasons[0].ObligationIDs)
}

func TestAdjudicate_MethodStatement(t *testing.T) {
	p := validProposal()
	p.MethodStatement = ""

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
	assert.Contains(t, reasonCodes(result.Reasons), model.ReasonMissingMethod)

	// Deterministic pass-through may omit it — but still passes every
	// other rule.
	p.Provenance = model.ProvenanceDeterministic
	result, err = Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAccepted, result.Decision)
}

func TestAdjudicate_DeterministicNotExemptFromValidation(t *testing.T) {
	p := validProposal()
	p.Provenance = model.ProvenanceDeterministic
	p.EvidenceAtomIDs = nil

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
}

func TestAdjudicate_CollectsAllFailures(t *testing.T) {
	p := validProposal()
	p.EvidenceAtomIDs = []string{"atm-ghost"}
	p.ClaimedObligationIDs = []string{"OBL-999"}
	p.MethodStatement = ""

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)

	codes := reasonCodes(result.Reasons)
	assert.Contains(t, codes, model.ReasonUnknownAtom)
	assert.Contains(t, codes, model.ReasonUnknownObligation)
	assert.Contains(t, codes, model.ReasonMissingMethod)
}

func TestAdjudicate_FailsClosedWithoutObligationList(t *testing.T) {
	in := validInput(validProposal())
	in.ValidObligationIDs = nil

	_, err := Adjudicate(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing closed")

	// An allocated empty list is a valid universe: claims against it are
	// ordinary rejections, not integrity failures.
	in.ValidObligationIDs = []string{}
	result, err := Adjudicate(in)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
}

func TestAdjudicate_SupersededEvidenceNeedsReview(t *testing.T) {
	in := validInput(validProposal())
	a := atomDated("atm-1", "2025-06-15")
	a.SupersededBy = "atm-2"
	in.Atoms = []model.EvidenceAtom{a}

	result, err := Adjudicate(in)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionNeedsReview, result.Decision)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, model.ReasonSupersededEvidence, result.Reasons[0].Code)
}

func TestAdjudicate_NoObligationsClaimedNeedsReview(t *testing.T) {
	p := validProposal()
	p.ClaimedObligationIDs = nil

	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionNeedsReview, result.Decision)
	assert.Contains(t, reasonCodes(result.Reasons), model.ReasonNoObligationsClaimed)
}

func TestAdjudicate_DoesNotMutateProposal(t *testing.T) {
	p := validProposal()
	p.EvidenceAtomIDs = []string{"atm-ghost"}
	before := append([]string{}, p.EvidenceAtomIDs...)

	in := validInput(p)
	result, err := Adjudicate(in)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, result.Decision)
	assert.Equal(t, before, in.Proposal.EvidenceAtomIDs)
	assert.Equal(t, model.ProposalPending, in.Proposal.Status)
}

func TestApply(t *testing.T) {
	p := validProposal()
	result, err := Adjudicate(validInput(p))
	require.NoError(t, err)

	applied := Apply(p, result)
	assert.Equal(t, model.ProposalAccepted, applied.Status)
	assert.Same(t, result, applied.Result)
	assert.Equal(t, model.ProposalPending, p.Status, "input untouched")
}

func TestContentHash_StableUnderReferenceOrder(t *testing.T) {
	p := validProposal()
	p.EvidenceAtomIDs = []string{"atm-2", "atm-1"}
	p.ClaimedObligationIDs = []string{"OBL-2", "OBL-1"}

	q := validProposal()
	q.EvidenceAtomIDs = []string{"atm-1", "atm-2"}
	q.ClaimedObligationIDs = []string{"OBL-1", "OBL-2"}
	q.ProposalID = "prp-other" // volatile fields must not matter

	hp, err := ContentHash(p)
	require.NoError(t, err)
	hq, err := ContentHash(q)
	require.NoError(t, err)
	assert.Equal(t, hp, hq)

	q.MethodStatement = "different derivation"
	hq2, err := ContentHash(q)
	require.NoError(t, err)
	assert.NotEqual(t, hp, hq2)
}
