package model

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/canonical"
)

// EvidenceType classifies a normalized evidence atom.
type EvidenceType string

const (
	EvidenceComplaintRecord  EvidenceType = "complaint_record"
	EvidenceIncidentReport   EvidenceType = "incident_report"
	EvidenceSalesVolume      EvidenceType = "sales_volume"
	EvidenceFieldAction      EvidenceType = "field_safety_action"
	EvidenceCAPARecord       EvidenceType = "capa_record"
	EvidenceLiteratureReview EvidenceType = "literature_review"
	EvidenceRegistryData     EvidenceType = "registry_data"
	EvidenceTrendAnalysis    EvidenceType = "trend_analysis"
	// EvidenceDeviceMaster is static master data (device description,
	// classification, intended purpose). It usually carries no validity
	// period and is treated as always in-period.
	EvidenceDeviceMaster EvidenceType = "device_master"
)

var evidenceTypes = map[EvidenceType]bool{
	EvidenceComplaintRecord:  true,
	EvidenceIncidentReport:   true,
	EvidenceSalesVolume:      true,
	EvidenceFieldAction:      true,
	EvidenceCAPARecord:       true,
	EvidenceLiteratureReview: true,
	EvidenceRegistryData:     true,
	EvidenceTrendAnalysis:    true,
	EvidenceDeviceMaster:     true,
}

// Valid reports whether t is a known evidence type.
func (t EvidenceType) Valid() bool { return evidenceTypes[t] }

// ParseEvidenceType converts a raw string into an EvidenceType.
func ParseEvidenceType(s string) (EvidenceType, error) {
	t := EvidenceType(s)
	if !t.Valid() {
		return "", eris.Errorf("model: unknown evidence type %q", s)
	}
	return t, nil
}

// EvidenceAtom is an immutable fact extracted from a source document.
// Atoms are never mutated after creation; a correction is a new atom and
// the old one gets a SupersededBy back-reference.
type EvidenceAtom struct {
	AtomID      string       `json:"atom_id"`
	CaseID      string       `json:"case_id"`
	Type        EvidenceType `json:"evidence_type"`
	ContentHash string       `json:"content_hash"`
	// PeriodStart/PeriodEnd bound the validity window. Nil means the atom
	// is static master data, valid for any reporting period.
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	// OccurredAt is the normalized event date relevant to the evidence
	// type (complaint date, incident date, sale period close). Nil for
	// evidence without a meaningful event date.
	OccurredAt   *time.Time     `json:"occurred_at,omitempty"`
	DeviceRef    string         `json:"device_ref,omitempty"`
	Data         map[string]any `json:"normalized_data"`
	SupersededBy string         `json:"superseded_by,omitempty"`
	IngestedAt   time.Time      `json:"ingested_at"`
}

// DeriveAtomID computes the deterministic atom identifier from the evidence
// type and the canonical form of the normalized payload. Re-ingesting
// identical content yields the same ID, which is how dedup works.
func DeriveAtomID(t EvidenceType, data map[string]any) (string, error) {
	payload, err := canonical.Marshal(data)
	if err != nil {
		return "", eris.Wrap(err, "model: canonicalize atom payload")
	}
	return "atm-" + canonical.SumHex([]byte(t), payload)[:24], nil
}

// DeriveContentHash computes the content hash of the normalized payload.
func DeriveContentHash(data map[string]any) (string, error) {
	h, err := canonical.HashHex(data)
	if err != nil {
		return "", eris.Wrap(err, "model: hash atom payload")
	}
	return h, nil
}

// OverlapsPeriod reports whether the atom's validity window intersects the
// reporting period. Bounds are inclusive; a nil start or end is open.
func (a EvidenceAtom) OverlapsPeriod(start, end time.Time) bool {
	if a.PeriodStart != nil && a.PeriodStart.After(end) {
		return false
	}
	if a.PeriodEnd != nil && a.PeriodEnd.Before(start) {
		return false
	}
	return true
}

// OccurredInPeriod reports whether the atom's normalized event date falls
// inside [start, end]. Atoms without an event date (master data) pass.
func (a EvidenceAtom) OccurredInPeriod(start, end time.Time) bool {
	if a.OccurredAt == nil {
		return true
	}
	d := *a.OccurredAt
	return !d.Before(start) && !d.After(end)
}
