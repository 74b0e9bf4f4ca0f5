package model

import "github.com/rotisserie/eris"

// RelationType is the kind of directed relationship between two obligations.
type RelationType string

const (
	RelationRequires        RelationType = "REQUIRES"
	RelationImplies         RelationType = "IMPLIES"
	RelationConflictsWith   RelationType = "CONFLICTS_WITH"
	RelationSupersedes      RelationType = "SUPERSEDES"
	RelationCrossReferences RelationType = "CROSS_REFERENCES"
	RelationSameSection     RelationType = "SAME_SECTION"
)

var relationTypes = map[RelationType]bool{
	RelationRequires:        true,
	RelationImplies:         true,
	RelationConflictsWith:   true,
	RelationSupersedes:      true,
	RelationCrossReferences: true,
	RelationSameSection:     true,
}

// Valid reports whether r is a known relation type.
func (r RelationType) Valid() bool { return relationTypes[r] }

// Ordering reports whether the relation imposes an evaluation order between
// its endpoints. CONFLICTS_WITH, CROSS_REFERENCES and SAME_SECTION are
// informational and never participate in cycle detection.
func (r RelationType) Ordering() bool {
	switch r {
	case RelationRequires, RelationImplies, RelationSupersedes:
		return true
	}
	return false
}

// ParseRelationType converts a raw string into a RelationType.
func ParseRelationType(s string) (RelationType, error) {
	r := RelationType(s)
	if !r.Valid() {
		return "", eris.Errorf("model: unknown relation type %q", s)
	}
	return r, nil
}

// RelationStrength grades how binding a relation is.
type RelationStrength string

const (
	StrengthStrong        RelationStrength = "STRONG"
	StrengthWeak          RelationStrength = "WEAK"
	StrengthInformational RelationStrength = "INFORMATIONAL"
)

// Valid reports whether s is a known relation strength.
func (s RelationStrength) Valid() bool {
	switch s {
	case StrengthStrong, StrengthWeak, StrengthInformational:
		return true
	}
	return false
}

// ObligationRelation is one directed edge in the obligation graph.
type ObligationRelation struct {
	To       string           `json:"to" yaml:"to"`
	Type     RelationType     `json:"relation_type" yaml:"type"`
	Strength RelationStrength `json:"strength" yaml:"strength"`
}

// Obligation is a single regulatory requirement a report must address.
// Obligations are loaded once per evaluation as an immutable snapshot.
type Obligation struct {
	ID           string `json:"obligation_id" yaml:"id"`
	Description  string `json:"description,omitempty" yaml:"description"`
	Jurisdiction string `json:"jurisdiction" yaml:"jurisdiction"`
	Mandatory    bool   `json:"mandatory" yaml:"mandatory"`
	// RequiredEvidenceTypes may be empty: such an obligation needs no
	// external evidence and is satisfied by template qualification alone.
	RequiredEvidenceTypes []EvidenceType       `json:"required_evidence_types" yaml:"required_evidence_types"`
	SourceCitation        string               `json:"source_citation,omitempty" yaml:"source_citation"`
	Relations             []ObligationRelation `json:"relations,omitempty" yaml:"relations"`
}

// ObligationStatus is the computed satisfaction state of an obligation.
type ObligationStatus string

const (
	ObligationSatisfied          ObligationStatus = "satisfied"
	ObligationPartiallySatisfied ObligationStatus = "partially_satisfied"
	ObligationUnsatisfied        ObligationStatus = "unsatisfied"
)
