package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/store"
	"github.com/veridia-health/psur-cli/internal/trace"
)

// appendFailStore rejects every trace append while passing all other
// operations through to the real store.
type appendFailStore struct {
	store.Store
}

func (appendFailStore) AppendTraceEntry(context.Context, model.TraceEntry) error {
	return errors.New("trace storage unavailable")
}

func writeProposalFile(t *testing.T, p model.SlotProposal) string {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), p.ProposalID+".json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestReadProposalFile_ResetsStatus(t *testing.T) {
	path := writeProposalFile(t, model.SlotProposal{
		ProposalID: "prp-1",
		CaseID:     "case-1",
		SlotID:     "slot-complaints",
		Status:     model.ProposalAccepted, // file claims acceptance
		Result:     &model.AdjudicationResult{Decision: model.DecisionAccepted},
	})

	p, err := readProposalFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, p.Status)
	assert.Nil(t, p.Result)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestReadProposalFile_Invalid(t *testing.T) {
	_, err := readProposalFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeProposalFile(t, model.SlotProposal{CaseID: "case-1"})
	_, err = readProposalFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proposal_id")

	path2 := writeProposalFile(t, model.SlotProposal{ProposalID: "prp-2"})
	_, err = readProposalFile(path2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case_id")
}

func TestAdjudicateOne_Accepted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tpl := newTestTemplate(t)
	rec := trace.NewRecorder(st)

	atom := testAtom(t, "case-1", model.EvidenceComplaintRecord,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		map[string]any{"ref": "C-100"})
	_, err := st.PutAtoms(ctx, []model.EvidenceAtom{atom})
	require.NoError(t, err)

	p := model.SlotProposal{
		ProposalID:           "prp-ok",
		CaseID:               "case-1",
		SlotID:               "slot-complaints",
		EvidenceAtomIDs:      []string{atom.AtomID},
		ClaimedObligationIDs: []string{"OBL-1"},
		MethodStatement:      "verbatim complaint listing",
		Provenance:           model.ProvenanceHuman,
		Status:               model.ProposalPending,
		CreatedAt:            time.Now().UTC(),
	}

	applied, err := adjudicateOne(ctx, st, rec, tpl, p,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalAccepted, applied.Status)
	require.NotNil(t, applied.Result)
	assert.NotEmpty(t, applied.Result.ContentHash)

	// The outcome is persisted and traced.
	stored, err := st.GetProposal(ctx, "prp-ok")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalAccepted, stored.Status)

	entries, err := st.SearchTraceEntries(ctx, store.TraceFilter{
		TraceID:   "case-1",
		EventType: model.EventSlotAdjudicated,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "prp-ok", entries[0].EntityRef)
	assert.Equal(t, string(model.DecisionAccepted), entries[0].Decision)
}

func TestAdjudicateOne_TraceFailureLeavesProposalPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tpl := newTestTemplate(t)

	atom := testAtom(t, "case-1", model.EvidenceComplaintRecord,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		map[string]any{"ref": "C-200"})
	_, err := st.PutAtoms(ctx, []model.EvidenceAtom{atom})
	require.NoError(t, err)

	p := model.SlotProposal{
		ProposalID:           "prp-stuck",
		CaseID:               "case-1",
		SlotID:               "slot-complaints",
		EvidenceAtomIDs:      []string{atom.AtomID},
		ClaimedObligationIDs: []string{"OBL-1"},
		MethodStatement:      "verbatim complaint listing",
		Provenance:           model.ProvenanceHuman,
		Status:               model.ProposalPending,
		CreatedAt:            time.Now().UTC(),
	}
	require.NoError(t, st.SaveProposal(ctx, p))

	failing := appendFailStore{Store: st}
	rec := trace.NewRecorder(failing)

	_, err = adjudicateOne(ctx, failing, rec, tpl, p,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	// The decision must not become durable without its trace entry.
	stored, err := st.GetProposal(ctx, "prp-stuck")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, stored.Status)
	assert.Nil(t, stored.Result)

	entries, err := st.TraceEntries(ctx, "case-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdjudicateOne_RejectionRecordsReasonCodes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tpl := newTestTemplate(t)
	rec := trace.NewRecorder(st)

	p := model.SlotProposal{
		ProposalID:           "prp-bad",
		CaseID:               "case-1",
		SlotID:               "slot-complaints",
		EvidenceAtomIDs:      []string{"atm-ghost"},
		ClaimedObligationIDs: []string{"OBL-1"},
		MethodStatement:      "listing",
		Provenance:           model.ProvenanceHuman,
		Status:               model.ProposalPending,
		CreatedAt:            time.Now().UTC(),
	}

	applied, err := adjudicateOne(ctx, st, rec, tpl, p,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, applied.Status)

	entries, err := st.SearchTraceEntries(ctx, store.TraceFilter{TraceID: "case-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	codes, ok := entries[0].Payload["reason_codes"].([]any)
	require.True(t, ok)
	assert.Contains(t, codes, string(model.ReasonUnknownAtom))
}
