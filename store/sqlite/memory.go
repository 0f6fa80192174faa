package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
)

// MemoryStoreOption configures a SQLite MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryLogger sets a structured logger for the memory store.
func WithMemoryLogger(l *zap.Logger) MemoryStoreOption {
	return func(s *MemoryStore) { s.logger = l }
}

// MemoryStore implements runcore.FactStore backed by SQLite, keyed by
// (key, scope, session_id, project_id) rather than the free-text fact
// records a semantic memory layer would use: Active Facts
// precedence is structural (session > project > global), not similarity.
//
// Use NewMemoryStore with a shared *sql.DB from Store.DB() so both
// Store and MemoryStore share the same serialized connection.
type MemoryStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ oasis.FactStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore using an existing *sql.DB.
// Pass store.DB() to share the same connection as Store.
func NewMemoryStore(db *sql.DB, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the facts table.
func (s *MemoryStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: memory init started")
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		status TEXT NOT NULL,
		scope TEXT NOT NULL,
		session_id TEXT,
		project_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		s.logger.Error("sqlite: memory init failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_facts_scope ON facts(scope, status)`)
	s.logger.Info("sqlite: memory init completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// PutFact inserts or replaces a fact by id.
func (s *MemoryStore) PutFact(ctx context.Context, f oasis.Fact) error {
	valJSON, err := json.Marshal(f.Value)
	if err != nil {
		return fmt.Errorf("sqlite: put fact: marshal value: %w", err)
	}
	now := oasis.NowUnix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO facts (id, key, value, status, scope, session_id, project_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET key=excluded.key, value=excluded.value, status=excluded.status,
			scope=excluded.scope, session_id=excluded.session_id, project_id=excluded.project_id, updated_at=excluded.updated_at`,
		f.ID, f.Key, string(valJSON), string(f.Status), string(f.Scope), nullStr(f.SessionID), nullStr(f.ProjectID), now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put fact: %w", err)
	}
	return nil
}

// ListFacts returns facts matching scope/status, additionally scoped to
// sessionID/projectID when scope is session/project respectively.
func (s *MemoryStore) ListFacts(ctx context.Context, scope oasis.FactScope, status oasis.FactStatus, sessionID, projectID string) ([]oasis.Fact, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list facts", zap.Any("scope", scope), zap.Any("status", status))

	query := `SELECT id, key, value, status, scope, session_id, project_id FROM facts WHERE scope = ? AND status = ?`
	args := []any{string(scope), string(status)}
	switch scope {
	case oasis.FactScopeSession:
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	case oasis.FactScopeProject:
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list facts failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("sqlite: list facts: %w", err)
	}
	defer rows.Close()

	var facts []oasis.Fact
	for rows.Next() {
		var f oasis.Fact
		var statusStr, scopeStr, valJSON string
		var sessID, projID sql.NullString
		if err := rows.Scan(&f.ID, &f.Key, &valJSON, &statusStr, &scopeStr, &sessID, &projID); err != nil {
			return nil, fmt.Errorf("sqlite: scan fact: %w", err)
		}
		f.Status = oasis.FactStatus(statusStr)
		f.Scope = oasis.FactScope(scopeStr)
		f.SessionID = sessID.String
		f.ProjectID = projID.String
		_ = json.Unmarshal([]byte(valJSON), &f.Value)
		facts = append(facts, f)
	}
	s.logger.Debug("sqlite: list facts ok", zap.Any("count", len(facts)), zap.Duration("duration", time.Since(start)))
	return facts, rows.Err()
}

// DeleteFact removes a single fact by its ID.
func (s *MemoryStore) DeleteFact(ctx context.Context, factID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, factID)
	if err != nil {
		return fmt.Errorf("sqlite: delete fact: %w", err)
	}
	return nil
}
