// Package store persists the engine's three durable record kinds: decision
// trace entries, slot proposals and evidence atoms. Trace entries are
// append-only with a uniqueness backstop on (trace_id, sequence_num);
// proposals and atoms are content-addressed and written idempotently.
package store

import (
	"context"

	"github.com/veridia-health/psur-cli/internal/model"
)

// ProposalFilter narrows a proposal listing.
type ProposalFilter struct {
	CaseID string               `json:"case_id,omitempty"`
	SlotID string               `json:"slot_id,omitempty"`
	Status model.ProposalStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

// TraceFilter narrows a trace search across cases.
type TraceFilter struct {
	TraceID   string          `json:"trace_id,omitempty"`
	EventType model.EventType `json:"event_type,omitempty"`
	EntityRef string          `json:"entity_ref,omitempty"`
	// Contains matches a summary substring, case-insensitive.
	Contains string `json:"contains,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Store is the persistence interface for the coverage and adjudication
// engine. It satisfies trace.EntryStore.
type Store interface {
	// Decision trace
	AppendTraceEntry(ctx context.Context, e model.TraceEntry) error
	LastTraceEntry(ctx context.Context, traceID string) (*model.TraceEntry, error)
	TraceEntries(ctx context.Context, traceID string) ([]model.TraceEntry, error)
	SearchTraceEntries(ctx context.Context, f TraceFilter) ([]model.TraceEntry, error)
	ListTraceIDs(ctx context.Context) ([]string, error)

	// Proposals
	SaveProposal(ctx context.Context, p model.SlotProposal) error
	GetProposal(ctx context.Context, proposalID string) (*model.SlotProposal, error)
	ListProposals(ctx context.Context, f ProposalFilter) ([]model.SlotProposal, error)

	// Evidence atoms. PutAtoms is idempotent on atom_id: re-ingesting the
	// same normalized content is a no-op, not a duplicate.
	PutAtoms(ctx context.Context, atoms []model.EvidenceAtom) (int, error)
	GetAtom(ctx context.Context, atomID string) (*model.EvidenceAtom, error)
	ListAtoms(ctx context.Context, caseID string) ([]model.EvidenceAtom, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
