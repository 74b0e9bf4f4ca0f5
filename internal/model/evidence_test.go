package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvidenceType(t *testing.T) {
	et, err := ParseEvidenceType("complaint_record")
	require.NoError(t, err)
	assert.Equal(t, EvidenceComplaintRecord, et)

	_, err = ParseEvidenceType("tarot_reading")
	assert.Error(t, err)
}

func TestDeriveAtomID_Deterministic(t *testing.T) {
	data := map[string]any{"device_ref": "DEV-1", "description": "hinge fracture", "severity": "serious"}

	id1, err := DeriveAtomID(EvidenceComplaintRecord, data)
	require.NoError(t, err)
	id2, err := DeriveAtomID(EvidenceComplaintRecord, map[string]any{
		"severity": "serious", "description": "hinge fracture", "device_ref": "DEV-1",
	})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "key order must not change the atom ID")
	assert.Regexp(t, `^atm-[0-9a-f]{24}$`, id1)

	// Different evidence type, same payload: different atom.
	id3, err := DeriveAtomID(EvidenceIncidentReport, data)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestOverlapsPeriod(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	mk := func(s, e string) EvidenceAtom {
		a := EvidenceAtom{}
		if s != "" {
			ts, _ := time.Parse("2006-01-02", s)
			a.PeriodStart = &ts
		}
		if e != "" {
			te, _ := time.Parse("2006-01-02", e)
			a.PeriodEnd = &te
		}
		return a
	}

	assert.True(t, mk("", "").OverlapsPeriod(start, end), "nil window is always in-period")
	assert.True(t, mk("2025-06-01", "2025-06-30").OverlapsPeriod(start, end))
	assert.True(t, mk("2024-12-01", "2025-01-01").OverlapsPeriod(start, end), "touching start is inclusive")
	assert.False(t, mk("2026-01-01", "2026-02-01").OverlapsPeriod(start, end))
	assert.False(t, mk("2024-01-01", "2024-12-31").OverlapsPeriod(start, end))
}

func TestOccurredInPeriod_InclusiveBounds(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	at := func(s string) EvidenceAtom {
		ts, _ := time.Parse("2006-01-02", s)
		return EvidenceAtom{OccurredAt: &ts}
	}

	assert.True(t, at("2025-01-01").OccurredInPeriod(start, end), "exact start boundary accepted")
	assert.True(t, at("2025-12-31").OccurredInPeriod(start, end), "exact end boundary accepted")
	assert.False(t, at("2024-12-31").OccurredInPeriod(start, end), "one day before start rejected")
	assert.False(t, at("2026-01-01").OccurredInPeriod(start, end), "one day after end rejected")
	assert.True(t, EvidenceAtom{}.OccurredInPeriod(start, end), "no event date passes")
}
