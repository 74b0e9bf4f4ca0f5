package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EventType is the closed set of decision-trace event kinds.
type EventType string

const (
	EventWorkflowInit       EventType = "workflow_init"
	EventTemplateQualified  EventType = "template_qualified"
	EventCaseCreated        EventType = "case_created"
	EventEvidenceIngested   EventType = "evidence_ingested"
	EventSlotProposed       EventType = "slot_proposed"
	EventSlotAdjudicated    EventType = "slot_adjudicated"
	EventCoverageComputed   EventType = "coverage_computed"
	EventObligationResolved EventType = "obligation_resolved"
	EventAgentAction        EventType = "agent_action"
	EventReportRendered     EventType = "report_rendered"
	EventReportExported     EventType = "report_exported"
)

var eventTypes = map[EventType]bool{
	EventWorkflowInit:       true,
	EventTemplateQualified:  true,
	EventCaseCreated:        true,
	EventEvidenceIngested:   true,
	EventSlotProposed:       true,
	EventSlotAdjudicated:    true,
	EventCoverageComputed:   true,
	EventObligationResolved: true,
	EventAgentAction:        true,
	EventReportRendered:     true,
	EventReportExported:     true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool { return eventTypes[t] }

// ParseEventType converts a raw string into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", eris.Errorf("model: unknown event type %q", s)
	}
	return t, nil
}

// GenesisHash is the fixed previous-hash value of a trace's first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TraceEntry is one immutable audit record in a case's hash chain.
// previous_hash of entry n equals content_hash of entry n-1; the first
// entry links to GenesisHash. Entries are append-only.
type TraceEntry struct {
	TraceID      string         `json:"trace_id"`
	SequenceNum  int64          `json:"sequence_num"`
	EventType    EventType      `json:"event_type"`
	EntityRef    string         `json:"entity_ref,omitempty"`
	Decision     string         `json:"decision,omitempty"`
	Summary      string         `json:"summary"`
	Payload      map[string]any `json:"payload,omitempty"`
	ContentHash  string         `json:"content_hash"`
	PreviousHash string         `json:"previous_hash"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// ChainReport is the result of verifying a trace's hash chain.
type ChainReport struct {
	Valid       bool   `json:"valid"`
	Entries     int    `json:"entries"`
	BrokenAtSeq *int64 `json:"broken_at_seq,omitempty"`
	Detail      string `json:"detail,omitempty"`
}
