package trace

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/model"
)

// Verify re-walks a trace's hash chain and reports the first break, if
// any. An empty trace is trivially valid. Verification recomputes every
// content hash from the stored fields, so both a tampered payload and a
// spliced link are caught.
func Verify(ctx context.Context, store EntryStore, traceID string) (*model.ChainReport, error) {
	entries, err := store.TraceEntries(ctx, traceID)
	if err != nil {
		return nil, eris.Wrapf(err, "trace: load entries for %s", traceID)
	}
	return VerifyEntries(entries), nil
}

// VerifyEntries checks an already-loaded chain, assumed sorted by
// sequence number ascending.
func VerifyEntries(entries []model.TraceEntry) *model.ChainReport {
	report := &model.ChainReport{Valid: true, Entries: len(entries)}

	prevHash := model.GenesisHash
	var prevSeq int64
	for _, e := range entries {
		if e.SequenceNum != prevSeq+1 {
			return broken(report, e.SequenceNum,
				fmt.Sprintf("sequence gap: entry %d follows %d", e.SequenceNum, prevSeq))
		}
		if e.PreviousHash != prevHash {
			return broken(report, e.SequenceNum,
				fmt.Sprintf("previous_hash mismatch at entry %d", e.SequenceNum))
		}
		computed, err := ComputeEntryHash(e)
		if err != nil {
			return broken(report, e.SequenceNum,
				fmt.Sprintf("entry %d not hashable: %v", e.SequenceNum, err))
		}
		if computed != e.ContentHash {
			return broken(report, e.SequenceNum,
				fmt.Sprintf("content_hash mismatch at entry %d: stored fields were altered", e.SequenceNum))
		}
		prevHash = e.ContentHash
		prevSeq = e.SequenceNum
	}
	return report
}

func broken(report *model.ChainReport, seq int64, detail string) *model.ChainReport {
	report.Valid = false
	report.BrokenAtSeq = &seq
	report.Detail = detail
	return report
}
