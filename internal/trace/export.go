package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/model"
)

// WriteNDJSON streams a trace as newline-delimited JSON, one entry per
// line in chain order. The output round-trips: reading the lines back
// yields entries that verify against VerifyEntries.
func WriteNDJSON(w io.Writer, entries []model.TraceEntry) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return eris.Wrapf(err, "trace: encode entry %d", e.SequenceNum)
		}
	}
	return nil
}

// phase buckets for the narrative export, in workflow order. Events that
// belong to no bucket render under "Other activity" at the end.
var narrativePhases = []struct {
	title  string
	events []model.EventType
}{
	{"Initialization", []model.EventType{model.EventWorkflowInit, model.EventCaseCreated}},
	{"Template qualification", []model.EventType{model.EventTemplateQualified}},
	{"Evidence ingestion", []model.EventType{model.EventEvidenceIngested}},
	{"Drafting", []model.EventType{model.EventSlotProposed, model.EventAgentAction}},
	{"Adjudication", []model.EventType{model.EventSlotAdjudicated, model.EventObligationResolved}},
	{"Coverage", []model.EventType{model.EventCoverageComputed}},
	{"Rendering and export", []model.EventType{model.EventReportRendered, model.EventReportExported}},
}

// WriteNarrative renders a trace as a human-readable report, grouped by
// workflow phase rather than strict chain order. It is a review aid, not
// an integrity artifact; the NDJSON export is the verifiable form.
func WriteNarrative(w io.Writer, traceID string, entries []model.TraceEntry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision trace %s\n", traceID)
	fmt.Fprintf(&b, "%d entries\n\n", len(entries))

	phaseOf := make(map[model.EventType]int, len(narrativePhases))
	for i, p := range narrativePhases {
		for _, ev := range p.events {
			phaseOf[ev] = i
		}
	}

	grouped := make([][]model.TraceEntry, len(narrativePhases))
	var other []model.TraceEntry
	for _, e := range entries {
		if i, ok := phaseOf[e.EventType]; ok {
			grouped[i] = append(grouped[i], e)
		} else {
			other = append(other, e)
		}
	}

	for i, p := range narrativePhases {
		writePhase(&b, p.title, grouped[i])
	}
	writePhase(&b, "Other activity", other)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "trace: write narrative")
	}
	return nil
}

func writePhase(b *strings.Builder, title string, entries []model.TraceEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", title)
	for _, e := range entries {
		fmt.Fprintf(b, "  [%04d] %s %s", e.SequenceNum,
			e.RecordedAt.Format("2006-01-02 15:04:05"), e.Summary)
		if e.Decision != "" {
			fmt.Fprintf(b, " (decision: %s)", e.Decision)
		}
		if e.EntityRef != "" {
			fmt.Fprintf(b, " [%s]", e.EntityRef)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}
