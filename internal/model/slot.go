package model

import "time"

// SlotKind is the shape of a slot's content.
type SlotKind string

const (
	SlotKindNarrative SlotKind = "narrative"
	SlotKindTable     SlotKind = "table"
	SlotKindKeyValue  SlotKind = "kv"
	SlotKindArray     SlotKind = "array"
	SlotKindObject    SlotKind = "object"
)

// Valid reports whether k is a known slot kind.
func (k SlotKind) Valid() bool {
	switch k {
	case SlotKindNarrative, SlotKindTable, SlotKindKeyValue, SlotKindArray, SlotKindObject:
		return true
	}
	return false
}

// Requiredness states whether a slot must be filled for the template.
type Requiredness string

const (
	SlotRequired             Requiredness = "required"
	SlotConditional          Requiredness = "conditional"
	SlotRequiredIfApplicable Requiredness = "required_if_applicable"
)

// RequirementLevel grades a slot-to-obligation mapping.
type RequirementLevel string

const (
	LevelMust             RequirementLevel = "MUST"
	LevelShould           RequirementLevel = "SHOULD"
	LevelMustIfApplicable RequirementLevel = "MUST_IF_APPLICABLE"
)

// SlotMapping binds a slot to one obligation at a requirement level.
type SlotMapping struct {
	ObligationID string           `json:"obligation_id" yaml:"obligation"`
	Level        RequirementLevel `json:"level" yaml:"level"`
}

// GenerationContract constrains how slot content may be produced.
type GenerationContract struct {
	AllowedTransforms   []string `json:"allowed_transforms,omitempty" yaml:"allowed_transforms"`
	ForbiddenTransforms []string `json:"forbidden_transforms,omitempty" yaml:"forbidden_transforms"`
	MustInclude         []string `json:"must_include,omitempty" yaml:"must_include"`
}

// SlotDefinition is one content unit of a report template.
type SlotDefinition struct {
	SlotID       string        `json:"slot_id" yaml:"id"`
	TemplateID   string        `json:"template_id" yaml:"-"`
	Kind         SlotKind      `json:"slot_kind" yaml:"kind"`
	Requiredness Requiredness  `json:"requiredness" yaml:"requiredness"`
	Mappings     []SlotMapping `json:"mapped_obligations" yaml:"mappings"`
	// Ordinal is the slot's position in the template, used as the final
	// ranking tie-breaker.
	Ordinal int `json:"ordinal" yaml:"ordinal"`
	// MustFillBefore lists slot IDs that must be filled before this slot;
	// MustHaveEvidenceBefore lists slots whose evidence must be present
	// first. Both feed the queue's dependency ordering.
	MustFillBefore         []string           `json:"must_fill_before,omitempty" yaml:"must_fill_before"`
	MustHaveEvidenceBefore []string           `json:"must_have_evidence_before,omitempty" yaml:"must_have_evidence_before"`
	Contract               GenerationContract `json:"generation_contract,omitempty" yaml:"contract"`
}

// ProposalStatus is the lifecycle state of a slot proposal.
type ProposalStatus string

const (
	ProposalPending     ProposalStatus = "pending"
	ProposalAccepted    ProposalStatus = "accepted"
	ProposalRejected    ProposalStatus = "rejected"
	ProposalNeedsReview ProposalStatus = "needs_review"
)

// Provenance records how a proposal was produced. It is a flag for audit,
// not an exemption: every provenance goes through the same admissibility
// rules. The one behavioral difference is that a deterministic pass-through
// of pre-validated output may omit the method statement.
type Provenance string

const (
	ProvenanceAgent         Provenance = "agent"
	ProvenanceHuman         Provenance = "human"
	ProvenanceDeterministic Provenance = "deterministic_passthrough"
)

// SlotProposal is a candidate fulfillment of a slot. Proposals are never
// mutated in place after adjudication; resubmission creates a new proposal
// that points back via SupersedesID.
type SlotProposal struct {
	ProposalID           string         `json:"proposal_id"`
	CaseID               string         `json:"case_id"`
	SlotID               string         `json:"slot_id"`
	EvidenceAtomIDs      []string       `json:"evidence_atom_ids"`
	ClaimedObligationIDs []string       `json:"claimed_obligation_ids"`
	MethodStatement      string         `json:"method_statement,omitempty"`
	Content              map[string]any `json:"content,omitempty"`
	Provenance           Provenance     `json:"provenance"`
	Status               ProposalStatus `json:"status"`
	Result               *AdjudicationResult `json:"adjudication_result,omitempty"`
	SupersedesID         string         `json:"supersedes_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Decision is the closed adjudication outcome set.
type Decision string

const (
	DecisionAccepted    Decision = "accepted"
	DecisionRejected    Decision = "rejected"
	DecisionNeedsReview Decision = "needs_review"
)

// ReasonCode identifies one admissibility finding.
type ReasonCode string

const (
	ReasonEmptyEvidence        ReasonCode = "empty_evidence"
	ReasonUnknownAtom          ReasonCode = "unknown_atom"
	ReasonOutOfPeriod          ReasonCode = "out_of_period"
	ReasonUnknownObligation    ReasonCode = "unknown_obligation"
	ReasonMissingMethod        ReasonCode = "missing_method_statement"
	ReasonSupersededEvidence   ReasonCode = "superseded_evidence"
	ReasonNoObligationsClaimed ReasonCode = "no_obligations_claimed"
)

// Reason is one structured admissibility finding with the offending IDs.
type Reason struct {
	Code          ReasonCode `json:"code"`
	Message       string     `json:"message"`
	AtomIDs       []string   `json:"atom_ids,omitempty"`
	ObligationIDs []string   `json:"obligation_ids,omitempty"`
}

// AdjudicationResult is the terminal outcome of one adjudication attempt.
type AdjudicationResult struct {
	Decision    Decision  `json:"decision"`
	Reasons     []Reason  `json:"reasons,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}
