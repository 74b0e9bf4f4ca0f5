package trace

import (
	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/canonical"
	"github.com/veridia-health/psur-cli/internal/model"
)

// ComputeEntryHash returns the content hash of a trace entry. The hash
// covers every recorded field except the content hash itself, including
// the previous-hash link, so altering any stored entry breaks the chain
// at that entry and everywhere after it.
func ComputeEntryHash(e model.TraceEntry) (string, error) {
	h, err := canonical.HashHex(map[string]any{
		"trace_id":      e.TraceID,
		"sequence_num":  e.SequenceNum,
		"event_type":    string(e.EventType),
		"entity_ref":    e.EntityRef,
		"decision":      e.Decision,
		"summary":       e.Summary,
		"payload":       e.Payload,
		"previous_hash": e.PreviousHash,
		"recorded_at":   e.RecordedAt,
	})
	if err != nil {
		return "", eris.Wrapf(err, "trace: hash entry %d", e.SequenceNum)
	}
	return h, nil
}
