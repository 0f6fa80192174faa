package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	oasis "github.com/nevindra/runcore"
)

// MemoryStore implements runcore.FactStore backed by PostgreSQL, keyed by
// (key, scope, session_id, project_id). See sqlite.MemoryStore for the
// scoping rationale shared by both backends.
type MemoryStore struct {
	pool *pgxpool.Pool
}

var _ oasis.FactStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func NewMemoryStore(pool *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{pool: pool}
}

// Init creates the facts table.
func (s *MemoryStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		value JSONB NOT NULL,
		status TEXT NOT NULL,
		scope TEXT NOT NULL,
		session_id TEXT,
		project_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("postgres: memory init: %w", err)
	}
	_, _ = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_facts_scope ON facts(scope, status)`)
	return nil
}

// PutFact inserts or replaces a fact by id.
func (s *MemoryStore) PutFact(ctx context.Context, f oasis.Fact) error {
	valJSON, err := json.Marshal(f.Value)
	if err != nil {
		return fmt.Errorf("postgres: put fact: marshal value: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO facts (id, key, value, status, scope, session_id, project_id)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		 ON CONFLICT (id) DO UPDATE SET key=excluded.key, value=excluded.value, status=excluded.status,
			scope=excluded.scope, session_id=excluded.session_id, project_id=excluded.project_id, updated_at=now()`,
		f.ID, f.Key, valJSON, string(f.Status), string(f.Scope), f.SessionID, f.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("postgres: put fact: %w", err)
	}
	return nil
}

// ListFacts returns facts matching scope/status, additionally scoped to
// sessionID/projectID when scope is session/project respectively.
func (s *MemoryStore) ListFacts(ctx context.Context, scope oasis.FactScope, status oasis.FactStatus, sessionID, projectID string) ([]oasis.Fact, error) {
	query := `SELECT id, key, value, status, scope, session_id, project_id FROM facts WHERE scope = $1 AND status = $2`
	args := []any{string(scope), string(status)}
	switch scope {
	case oasis.FactScopeSession:
		query += ` AND session_id = $3`
		args = append(args, sessionID)
	case oasis.FactScopeProject:
		query += ` AND project_id = $3`
		args = append(args, projectID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list facts: %w", err)
	}
	defer rows.Close()

	var facts []oasis.Fact
	for rows.Next() {
		var f oasis.Fact
		var statusStr, scopeStr string
		var valJSON []byte
		var sessID, projID *string
		if err := rows.Scan(&f.ID, &f.Key, &valJSON, &statusStr, &scopeStr, &sessID, &projID); err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		f.Status = oasis.FactStatus(statusStr)
		f.Scope = oasis.FactScope(scopeStr)
		if sessID != nil {
			f.SessionID = *sessID
		}
		if projID != nil {
			f.ProjectID = *projID
		}
		_ = json.Unmarshal(valJSON, &f.Value)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// DeleteFact removes a single fact by its ID.
func (s *MemoryStore) DeleteFact(ctx context.Context, factID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM facts WHERE id = $1`, factID)
	if err != nil {
		return fmt.Errorf("postgres: delete fact: %w", err)
	}
	return nil
}
