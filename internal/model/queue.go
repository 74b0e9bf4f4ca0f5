package model

// PeriodCheck is the outcome of the per-slot evidence period check.
type PeriodCheck string

const (
	PeriodCheckPass PeriodCheck = "pass"
	PeriodCheckFail PeriodCheck = "fail"
)

// ObligationCoverage is the computed state of one obligation mapped to a slot.
type ObligationCoverage struct {
	ObligationID   string           `json:"obligation_id"`
	Level          RequirementLevel `json:"level"`
	Mandatory      bool             `json:"mandatory"`
	Status         ObligationStatus `json:"status"`
	WhyUnsatisfied []string         `json:"why_unsatisfied,omitempty"`
}

// EvidenceRequirements summarizes required vs. available evidence for a slot.
type EvidenceRequirements struct {
	Required    []EvidenceType `json:"required"`
	Available   []EvidenceType `json:"available"`
	Missing     []EvidenceType `json:"missing"`
	InPeriod    []EvidenceType `json:"in_period"`
	PeriodCheck PeriodCheck    `json:"period_check"`
}

// SlotDependencies lists the slots this one waits on.
type SlotDependencies struct {
	MustFillBefore         []string `json:"must_fill_before,omitempty"`
	MustHaveEvidenceBefore []string `json:"must_have_evidence_before,omitempty"`
}

// QueueSlotItem is one unresolved slot in the coverage queue.
type QueueSlotItem struct {
	SlotID    string `json:"slot_id"`
	QueueRank int    `json:"queue_rank"`
	// Pinned marks a blocking gap: a mandatory obligation mapped to this
	// slot has zero evidence of a required type. Pinned items surface at
	// the head of the queue and are not reorderable.
	Pinned             bool                 `json:"pinned,omitempty"`
	Kind               SlotKind             `json:"slot_kind"`
	Requiredness       Requiredness         `json:"requiredness"`
	MappedObligations  []ObligationCoverage `json:"mapped_obligations"`
	Evidence           EvidenceRequirements `json:"evidence_requirements"`
	Dependencies       SlotDependencies     `json:"dependencies"`
	GenerationContract GenerationContract   `json:"generation_contract"`
}

// CoverageSummary is the headline arithmetic of a coverage evaluation.
// MandatorySatisfied + MandatoryRemaining always equals MandatoryTotal.
type CoverageSummary struct {
	MandatoryTotal     int `json:"mandatory_obligations_total"`
	MandatorySatisfied int `json:"mandatory_obligations_satisfied"`
	MandatoryRemaining int `json:"mandatory_obligations_remaining"`
	RequiredSlotsTotal int `json:"required_slots_total"`
	RequiredSlotsFilled int `json:"required_slots_filled"`
	RequiredSlotsRemaining int `json:"required_slots_remaining"`
}

// CoverageReport is the full output of one queue computation. It is a pure
// function of its inputs: identical inputs produce identical reports.
type CoverageReport struct {
	TemplateID string          `json:"template_id"`
	Summary    CoverageSummary `json:"coverage_summary"`
	Queue      []QueueSlotItem `json:"queue"`
}
