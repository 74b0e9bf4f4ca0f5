package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/veridia-health/psur-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// default backend for single-user CLI work; timestamps are stored as
// RFC 3339 text so hash verification round-trips exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS trace_entries (
	trace_id      TEXT NOT NULL,
	sequence_num  INTEGER NOT NULL,
	event_type    TEXT NOT NULL,
	entity_ref    TEXT,
	decision      TEXT,
	summary       TEXT NOT NULL,
	payload       TEXT,
	content_hash  TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	recorded_at   TEXT NOT NULL,
	PRIMARY KEY (trace_id, sequence_num)
);

CREATE TABLE IF NOT EXISTS proposals (
	proposal_id TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	slot_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	body        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_atoms (
	atom_id       TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	body          TEXT NOT NULL,
	ingested_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trace_entries_event ON trace_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_proposals_case ON proposals(case_id);
CREATE INDEX IF NOT EXISTS idx_proposals_case_status ON proposals(case_id, status);
CREATE INDEX IF NOT EXISTS idx_atoms_case ON evidence_atoms(case_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Decision trace

const traceColumns = `trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at`

func (s *SQLiteStore) AppendTraceEntry(ctx context.Context, e model.TraceEntry) error {
	payloadJSON, err := marshalNullable(e.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal trace payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trace_entries (`+traceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.SequenceNum, string(e.EventType), e.EntityRef, e.Decision,
		e.Summary, payloadJSON, e.ContentHash, e.PreviousHash,
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return eris.Wrapf(err, "sqlite: trace entry %s/%d already exists", e.TraceID, e.SequenceNum)
		}
		return eris.Wrapf(err, "sqlite: append trace entry %s/%d", e.TraceID, e.SequenceNum)
	}
	return nil
}

func (s *SQLiteStore) LastTraceEntry(ctx context.Context, traceID string) (*model.TraceEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+traceColumns+` FROM trace_entries WHERE trace_id = ? ORDER BY sequence_num DESC LIMIT 1`,
		traceID,
	)
	e, err := scanTraceEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last trace entry %s", traceID)
	}
	return e, nil
}

func (s *SQLiteStore) TraceEntries(ctx context.Context, traceID string) ([]model.TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM trace_entries WHERE trace_id = ? ORDER BY sequence_num ASC`,
		traceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: trace entries %s", traceID)
	}
	defer rows.Close()
	return collectTraceEntries(rows)
}

func (s *SQLiteStore) SearchTraceEntries(ctx context.Context, f TraceFilter) ([]model.TraceEntry, error) {
	query := `SELECT ` + traceColumns + ` FROM trace_entries WHERE 1=1`
	var args []any

	if f.TraceID != "" {
		query += ` AND trace_id = ?`
		args = append(args, f.TraceID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(f.EventType))
	}
	if f.EntityRef != "" {
		query += ` AND entity_ref = ?`
		args = append(args, f.EntityRef)
	}
	if f.Contains != "" {
		query += ` AND summary LIKE ? COLLATE NOCASE`
		args = append(args, "%"+f.Contains+"%")
	}
	query += ` ORDER BY trace_id, sequence_num`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search trace entries")
	}
	defer rows.Close()
	return collectTraceEntries(rows)
}

func (s *SQLiteStore) ListTraceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT trace_id FROM trace_entries ORDER BY trace_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trace ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trace id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list trace ids iterate")
}

// Proposals

func (s *SQLiteStore) SaveProposal(ctx context.Context, p model.SlotProposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal proposal")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (proposal_id, case_id, slot_id, status, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (proposal_id) DO UPDATE SET status = excluded.status, body = excluded.body`,
		p.ProposalID, p.CaseID, p.SlotID, string(p.Status), string(body),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrapf(err, "sqlite: save proposal %s", p.ProposalID)
}

func (s *SQLiteStore) GetProposal(ctx context.Context, proposalID string) (*model.SlotProposal, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM proposals WHERE proposal_id = ?`, proposalID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("proposal not found: %s", proposalID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get proposal %s", proposalID)
	}

	var p model.SlotProposal
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal proposal")
	}
	return &p, nil
}

func (s *SQLiteStore) ListProposals(ctx context.Context, f ProposalFilter) ([]model.SlotProposal, error) {
	query := `SELECT body FROM proposals WHERE 1=1`
	var args []any

	if f.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, f.CaseID)
	}
	if f.SlotID != "" {
		query += ` AND slot_id = ?`
		args = append(args, f.SlotID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var proposals []model.SlotProposal
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan proposal")
		}
		var p model.SlotProposal
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal proposal")
		}
		proposals = append(proposals, p)
	}
	return proposals, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

// Evidence atoms

func (s *SQLiteStore) PutAtoms(ctx context.Context, atoms []model.EvidenceAtom) (int, error) {
	if len(atoms) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin put atoms")
	}
	defer tx.Rollback()

	inserted := 0
	for _, a := range atoms {
		body, err := json.Marshal(a)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal atom %s", a.AtomID)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_atoms (atom_id, case_id, evidence_type, body, ingested_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (atom_id) DO NOTHING`,
			a.AtomID, a.CaseID, string(a.Type), string(body),
			a.IngestedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: put atom %s", a.AtomID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit put atoms")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetAtom(ctx context.Context, atomID string) (*model.EvidenceAtom, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM evidence_atoms WHERE atom_id = ?`, atomID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("atom not found: %s", atomID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get atom %s", atomID)
	}

	var a model.EvidenceAtom
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal atom")
	}
	return &a, nil
}

func (s *SQLiteStore) ListAtoms(ctx context.Context, caseID string) ([]model.EvidenceAtom, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM evidence_atoms WHERE case_id = ? ORDER BY atom_id`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list atoms %s", caseID)
	}
	defer rows.Close()

	var atoms []model.EvidenceAtom
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan atom")
		}
		var a model.EvidenceAtom
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal atom")
		}
		atoms = append(atoms, a)
	}
	return atoms, eris.Wrap(rows.Err(), "sqlite: list atoms iterate")
}

// helpers

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTraceEntry(row scannable) (*model.TraceEntry, error) {
	var e model.TraceEntry
	var eventType, recordedAt string
	var entityRef, decision, payload sql.NullString

	err := row.Scan(&e.TraceID, &e.SequenceNum, &eventType, &entityRef, &decision,
		&e.Summary, &payload, &e.ContentHash, &e.PreviousHash, &recordedAt)
	if err != nil {
		return nil, err
	}

	e.EventType = model.EventType(eventType)
	e.EntityRef = entityRef.String
	e.Decision = decision.String
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return nil, eris.Wrap(err, "unmarshal trace payload")
		}
	}
	e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return nil, eris.Wrap(err, "parse recorded_at")
	}
	return &e, nil
}

func collectTraceEntries(rows *sql.Rows) ([]model.TraceEntry, error) {
	var entries []model.TraceEntry
	for rows.Next() {
		e, err := scanTraceEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trace entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: trace entries iterate")
}
