// Package trace maintains the append-only decision trace: a per-case hash
// chain of workflow events. Each entry's previous_hash equals the content
// hash of the entry before it, so the chain can be verified end to end and
// any post-hoc edit is detectable. Entries are never updated or deleted.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/model"
)

// EntryStore is the persistence surface the recorder needs. Implementations
// must reject duplicate (trace_id, sequence_num) pairs.
type EntryStore interface {
	AppendTraceEntry(ctx context.Context, e model.TraceEntry) error
	LastTraceEntry(ctx context.Context, traceID string) (*model.TraceEntry, error)
	TraceEntries(ctx context.Context, traceID string) ([]model.TraceEntry, error)
}

// Event is the caller-supplied portion of a trace entry. Sequence number,
// hashes and timestamp are assigned by the recorder.
type Event struct {
	Type      model.EventType
	EntityRef string
	Decision  string
	Summary   string
	Payload   map[string]any
}

// Recorder serializes appends per trace so sequence numbers are dense and
// unique even under concurrent writers. A fresh recorder resumes from
// whatever the store already holds; it keeps no chain state of its own
// beyond the per-trace locks, and a trace's lock is dropped from the map
// once its last holder releases it, so a long-lived process does not
// accumulate an entry per case ever touched.
type Recorder struct {
	store EntryStore

	mu    sync.Mutex
	locks map[string]*traceLock
}

type traceLock struct {
	mu   sync.Mutex
	refs int
}

// NewRecorder returns a recorder backed by the given store.
func NewRecorder(store EntryStore) *Recorder {
	return &Recorder{
		store: store,
		locks: make(map[string]*traceLock),
	}
}

func (r *Recorder) acquire(traceID string) *traceLock {
	r.mu.Lock()
	l, ok := r.locks[traceID]
	if !ok {
		l = &traceLock{}
		r.locks[traceID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Recorder) release(traceID string, l *traceLock) {
	l.mu.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, traceID)
	}
	r.mu.Unlock()
}

// Append writes one event to the trace and returns the stored entry. The
// entry links to the last persisted entry (or to the genesis value for a
// new trace); if the store rejects the write nothing is retried here — the
// chain stays exactly as long as what the store accepted.
func (r *Recorder) Append(ctx context.Context, traceID string, ev Event) (*model.TraceEntry, error) {
	if traceID == "" {
		return nil, eris.New("trace: trace id is required")
	}
	if !ev.Type.Valid() {
		return nil, eris.Errorf("trace: unknown event type %q", ev.Type)
	}

	l := r.acquire(traceID)
	defer r.release(traceID, l)

	last, err := r.store.LastTraceEntry(ctx, traceID)
	if err != nil {
		return nil, eris.Wrapf(err, "trace: load chain head for %s", traceID)
	}

	entry := model.TraceEntry{
		TraceID:      traceID,
		SequenceNum:  1,
		EventType:    ev.Type,
		EntityRef:    ev.EntityRef,
		Decision:     ev.Decision,
		Summary:      ev.Summary,
		Payload:      ev.Payload,
		PreviousHash: model.GenesisHash,
		RecordedAt:   time.Now().UTC(),
	}
	if last != nil {
		entry.SequenceNum = last.SequenceNum + 1
		entry.PreviousHash = last.ContentHash
	}

	entry.ContentHash, err = ComputeEntryHash(entry)
	if err != nil {
		return nil, err
	}

	if err := r.store.AppendTraceEntry(ctx, entry); err != nil {
		return nil, eris.Wrapf(err, "trace: append entry %d to %s", entry.SequenceNum, traceID)
	}

	zap.L().Debug("trace entry appended",
		zap.String("trace", traceID),
		zap.Int64("seq", entry.SequenceNum),
		zap.String("event", string(entry.EventType)),
	)
	return &entry, nil
}
