package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/db"
	"github.com/veridia-health/psur-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the multi-user
// backend; the unique constraint on (trace_id, sequence_num) is the
// database-level backstop for the recorder's per-trace serialization.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"append_trace_entry": `INSERT INTO trace_entries (trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"last_trace_entry":   `SELECT trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at FROM trace_entries WHERE trace_id = $1 ORDER BY sequence_num DESC LIMIT 1`,
	"trace_entries":      `SELECT trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at FROM trace_entries WHERE trace_id = $1 ORDER BY sequence_num ASC`,
	"save_proposal":      `INSERT INTO proposals (proposal_id, case_id, slot_id, status, body, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (proposal_id) DO UPDATE SET status = EXCLUDED.status, body = EXCLUDED.body`,
	"get_proposal":       `SELECT body FROM proposals WHERE proposal_id = $1`,
	"get_atom":           `SELECT body FROM evidence_atoms WHERE atom_id = $1`,
	"list_atoms":         `SELECT body FROM evidence_atoms WHERE case_id = $1 ORDER BY atom_id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (bulk ingestion).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS trace_entries (
	trace_id      TEXT NOT NULL,
	sequence_num  BIGINT NOT NULL,
	event_type    TEXT NOT NULL,
	entity_ref    TEXT,
	decision      TEXT,
	summary       TEXT NOT NULL,
	payload       JSONB,
	content_hash  TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (trace_id, sequence_num)
);

CREATE TABLE IF NOT EXISTS proposals (
	proposal_id TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	slot_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	body        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_atoms (
	atom_id       TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	body          JSONB NOT NULL,
	ingested_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trace_entries_event ON trace_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_proposals_case ON proposals(case_id);
CREATE INDEX IF NOT EXISTS idx_proposals_case_status ON proposals(case_id, status);
CREATE INDEX IF NOT EXISTS idx_atoms_case ON evidence_atoms(case_id);
CREATE INDEX IF NOT EXISTS idx_atoms_case_type ON evidence_atoms(case_id, evidence_type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Decision trace

func (s *PostgresStore) AppendTraceEntry(ctx context.Context, e model.TraceEntry) error {
	payloadJSON, err := marshalJSONB(e.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal trace payload")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trace_entries (trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.TraceID, e.SequenceNum, string(e.EventType), e.EntityRef, e.Decision,
		e.Summary, payloadJSON, e.ContentHash, e.PreviousHash, e.RecordedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return eris.Wrapf(err, "postgres: trace entry %s/%d already exists", e.TraceID, e.SequenceNum)
		}
		return eris.Wrapf(err, "postgres: append trace entry %s/%d", e.TraceID, e.SequenceNum)
	}
	return nil
}

func (s *PostgresStore) LastTraceEntry(ctx context.Context, traceID string) (*model.TraceEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at
		 FROM trace_entries WHERE trace_id = $1 ORDER BY sequence_num DESC LIMIT 1`,
		traceID,
	)
	e, err := scanPgTraceEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last trace entry %s", traceID)
	}
	return e, nil
}

func (s *PostgresStore) TraceEntries(ctx context.Context, traceID string) ([]model.TraceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at
		 FROM trace_entries WHERE trace_id = $1 ORDER BY sequence_num ASC`,
		traceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: trace entries %s", traceID)
	}
	defer rows.Close()
	return collectPgTraceEntries(rows)
}

func (s *PostgresStore) SearchTraceEntries(ctx context.Context, f TraceFilter) ([]model.TraceEntry, error) {
	query := `SELECT trace_id, sequence_num, event_type, entity_ref, decision, summary, payload, content_hash, previous_hash, recorded_at
	          FROM trace_entries WHERE true`
	args := []any{}
	argIdx := 1

	if f.TraceID != "" {
		query += fmt.Sprintf(` AND trace_id = $%d`, argIdx)
		args = append(args, f.TraceID)
		argIdx++
	}
	if f.EventType != "" {
		query += fmt.Sprintf(` AND event_type = $%d`, argIdx)
		args = append(args, string(f.EventType))
		argIdx++
	}
	if f.EntityRef != "" {
		query += fmt.Sprintf(` AND entity_ref = $%d`, argIdx)
		args = append(args, f.EntityRef)
		argIdx++
	}
	if f.Contains != "" {
		query += fmt.Sprintf(` AND summary ILIKE $%d`, argIdx)
		args = append(args, "%"+f.Contains+"%")
		argIdx++
	}
	query += ` ORDER BY trace_id, sequence_num`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search trace entries")
	}
	defer rows.Close()
	return collectPgTraceEntries(rows)
}

func (s *PostgresStore) ListTraceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT trace_id FROM trace_entries ORDER BY trace_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trace ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trace id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list trace ids iterate")
}

// Proposals

func (s *PostgresStore) SaveProposal(ctx context.Context, p model.SlotProposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal proposal")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO proposals (proposal_id, case_id, slot_id, status, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (proposal_id) DO UPDATE SET status = EXCLUDED.status, body = EXCLUDED.body`,
		p.ProposalID, p.CaseID, p.SlotID, string(p.Status), body, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save proposal %s", p.ProposalID)
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (*model.SlotProposal, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM proposals WHERE proposal_id = $1`, proposalID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("proposal not found: %s", proposalID)
		}
		return nil, eris.Wrapf(err, "postgres: get proposal %s", proposalID)
	}

	var p model.SlotProposal
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal proposal")
	}
	return &p, nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, f ProposalFilter) ([]model.SlotProposal, error) {
	query := `SELECT body FROM proposals WHERE true`
	args := []any{}
	argIdx := 1

	if f.CaseID != "" {
		query += fmt.Sprintf(` AND case_id = $%d`, argIdx)
		args = append(args, f.CaseID)
		argIdx++
	}
	if f.SlotID != "" {
		query += fmt.Sprintf(` AND slot_id = $%d`, argIdx)
		args = append(args, f.SlotID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	query += ` ORDER BY created_at ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var proposals []model.SlotProposal
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan proposal")
		}
		var p model.SlotProposal
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal proposal")
		}
		proposals = append(proposals, p)
	}
	return proposals, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

// Evidence atoms

// PutAtoms bulk-upserts atoms keyed by their content-derived ID. The
// ON CONFLICT DO UPDATE refreshes the stored body (superseded_by links
// are carried on the atom), while re-ingesting identical content is a
// pure no-op at the row level.
func (s *PostgresStore) PutAtoms(ctx context.Context, atoms []model.EvidenceAtom) (int, error) {
	if len(atoms) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(atoms))
	for _, a := range atoms {
		body, err := json.Marshal(a)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal atom %s", a.AtomID)
		}
		rows = append(rows, []any{a.AtomID, a.CaseID, string(a.Type), body, a.IngestedAt.UTC()})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "evidence_atoms",
		Columns:      []string{"atom_id", "case_id", "evidence_type", "body", "ingested_at"},
		ConflictKeys: []string{"atom_id"},
		UpdateCols:   []string{"body"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: put atoms")
	}
	return int(n), nil
}

func (s *PostgresStore) GetAtom(ctx context.Context, atomID string) (*model.EvidenceAtom, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM evidence_atoms WHERE atom_id = $1`, atomID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("atom not found: %s", atomID)
		}
		return nil, eris.Wrapf(err, "postgres: get atom %s", atomID)
	}

	var a model.EvidenceAtom
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal atom")
	}
	return &a, nil
}

func (s *PostgresStore) ListAtoms(ctx context.Context, caseID string) ([]model.EvidenceAtom, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM evidence_atoms WHERE case_id = $1 ORDER BY atom_id`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list atoms %s", caseID)
	}
	defer rows.Close()

	var atoms []model.EvidenceAtom
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan atom")
		}
		var a model.EvidenceAtom
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal atom")
		}
		atoms = append(atoms, a)
	}
	return atoms, eris.Wrap(rows.Err(), "postgres: list atoms iterate")
}

// helpers

func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanPgTraceEntry(row pgx.Row) (*model.TraceEntry, error) {
	var e model.TraceEntry
	var eventType string
	var entityRef, decision *string
	var payload []byte

	err := row.Scan(&e.TraceID, &e.SequenceNum, &eventType, &entityRef, &decision,
		&e.Summary, &payload, &e.ContentHash, &e.PreviousHash, &e.RecordedAt)
	if err != nil {
		return nil, err
	}

	e.EventType = model.EventType(eventType)
	if entityRef != nil {
		e.EntityRef = *entityRef
	}
	if decision != nil {
		e.Decision = *decision
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, eris.Wrap(err, "unmarshal trace payload")
		}
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return &e, nil
}

func collectPgTraceEntries(rows pgx.Rows) ([]model.TraceEntry, error) {
	var entries []model.TraceEntry
	for rows.Next() {
		e, err := scanPgTraceEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan trace entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: trace entries iterate")
}
