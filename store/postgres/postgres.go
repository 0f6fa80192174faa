// Package postgres implements runcore.Store (the Run Store) and
// runcore.SkillStore using PostgreSQL, with pgvector for the skill-catalog
// similarity search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection;
// the caller creates and closes the pool. ClaimNext/CancelRun/Heartbeat/
// Complete* are single conditional UPDATE statements (ClaimNext picks its
// candidate with a SELECT ... FOR UPDATE SKIP LOCKED subselect; there is no
// read-then-write transaction) so at most one worker ever holds a run's lease.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	oasis "github.com/nevindra/runcore"
)

// Store implements runcore.Store and runcore.SkillStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the skill-embedding vector column dimension
// (e.g. 1536, 768). Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var _ oasis.Store = (*Store)(nil)
var _ oasis.SkillStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension and all required tables/indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			input JSONB NOT NULL,
			output JSONB,
			error TEXT NOT NULL DEFAULT '',
			attempt INT NOT NULL DEFAULT 0,
			worker_id TEXT,
			lease_expires_at TIMESTAMPTZ,
			parent_run_id TEXT,
			conversation_id TEXT,
			canceled_at TIMESTAMPTZ,
			canceled_by TEXT,
			cancel_reason TEXT,
			progress INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_updated ON runs(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			instructions TEXT NOT NULL,
			tools TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS skills_embedding_idx ON skills USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// --- Run Store ---

func (s *Store) CreateRun(ctx context.Context, req oasis.CreateRunRequest) (oasis.Run, error) {
	r := oasis.Run{
		ID:             oasis.NewID(),
		Type:           req.Type,
		Title:          req.Title,
		Status:         oasis.RunQueued,
		Input:          req.Input,
		ParentRunID:    req.ParentRunID,
		ConversationID: req.ConversationID,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO runs (id, type, title, status, input, parent_run_id, conversation_id)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		 RETURNING created_at, updated_at`,
		r.ID, r.Type, r.Title, string(r.Status), []byte(r.Input), r.ParentRunID, r.ConversationID,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return oasis.Run{}, fmt.Errorf("postgres: create run: %w", err)
	}
	return r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (oasis.Run, error) {
	row := s.pool.QueryRow(ctx, runSelectFromCols+` WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return oasis.Run{}, fmt.Errorf("postgres: get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, filter oasis.RunFilter) ([]oasis.Run, error) {
	query := runSelectFromCols
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY updated_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) ListRunsByConversation(ctx context.Context, conversationID string, filter oasis.RunFilter) ([]oasis.Run, error) {
	args := []any{conversationID}
	query := runSelectFromCols + ` WHERE conversation_id = $1`
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY updated_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]oasis.Run, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []oasis.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete run: %w", err)
	}
	return nil
}

func (s *Store) CancelRun(ctx context.Context, id, reason string) (oasis.Run, bool, error) {
	row := s.pool.QueryRow(ctx,
		runSelectCols+`
		 FROM (
			UPDATE runs SET status=$1, canceled_at=now(), canceled_by='user', cancel_reason=$2, worker_id=NULL, lease_expires_at=NULL, updated_at=now()
			WHERE id=$3 AND status IN ($4, $5)
			RETURNING *
		 ) AS runs`,
		string(oasis.RunCanceled), reason, id, string(oasis.RunQueued), string(oasis.RunRunning),
	)
	r, err := scanRun(row)
	if err == pgx.ErrNoRows {
		return oasis.Run{}, false, nil
	}
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("postgres: cancel run: %w", err)
	}
	return r, true, nil
}

// ClaimNext selects the oldest eligible run FIFO by updated_at and
// atomically transitions it to running in a single UPDATE ... RETURNING
// statement (the subselect is re-evaluated under the row lock Postgres
// takes for the UPDATE, so two concurrent claims cannot pick the same row).
func (s *Store) ClaimNext(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (oasis.Run, bool, error) {
	row := s.pool.QueryRow(ctx,
		runSelectCols+`
		 FROM (
			UPDATE runs SET status=$1, worker_id=$2, lease_expires_at=now()+$3::interval, attempt=attempt+1, updated_at=now()
			WHERE id = (
				SELECT id FROM runs
				WHERE (status = $4 OR (status = $1 AND lease_expires_at IS NOT NULL AND lease_expires_at < now()))
				  AND attempt <= $5
				ORDER BY updated_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		 ) AS runs`,
		string(oasis.RunRunning), workerID, lease.String(), string(oasis.RunQueued), maxAttempts,
	)
	r, err := scanRun(row)
	if err == pgx.ErrNoRows {
		return oasis.Run{}, false, nil
	}
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("postgres: claim next: %w", err)
	}
	return r, true, nil
}

func (s *Store) Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET lease_expires_at=now()+$1::interval, updated_at=now() WHERE id=$2 AND worker_id=$3 AND status=$4`,
		lease.String(), id, workerID, string(oasis.RunRunning),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: heartbeat: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteSuccess(ctx context.Context, id, workerID string, output oasis.TaskResult) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("postgres: complete success: marshal output: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET status=$1, output=$2, worker_id=NULL, lease_expires_at=NULL, updated_at=now() WHERE id=$3 AND worker_id=$4`,
		string(oasis.RunSucceeded), data, id, workerID,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete success: %w", err)
	}
	return nil
}

func (s *Store) CompleteFailed(ctx context.Context, id, workerID string, errMsg string, output *oasis.TaskResult) error {
	var data []byte
	if output != nil {
		var err error
		data, err = json.Marshal(output)
		if err != nil {
			return fmt.Errorf("postgres: complete failed: marshal output: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status=$1, output=$2, error=$3, worker_id=NULL, lease_expires_at=NULL, updated_at=now() WHERE id=$4 AND worker_id=$5`,
		string(oasis.RunFailed), data, errMsg, id, workerID,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete failed: %w", err)
	}
	return nil
}

func (s *Store) CompleteCanceled(ctx context.Context, id, workerID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status=$1, worker_id=NULL, lease_expires_at=NULL, updated_at=now() WHERE id=$2 AND worker_id=$3`,
		string(oasis.RunCanceled), id, workerID,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete canceled: %w", err)
	}
	return nil
}

const runSelectCols = `SELECT id, type, title, status, input, output, error, attempt, worker_id, lease_expires_at,
	parent_run_id, conversation_id, canceled_at, canceled_by, cancel_reason, progress, created_at, updated_at`

const runSelectFromCols = runSelectCols + ` FROM runs`

// pgRow abstracts pgx.Row / pgx.Rows for scanRun.
type pgRow interface {
	Scan(dest ...any) error
}

func scanRun(row pgRow) (oasis.Run, error) {
	var r oasis.Run
	var status string
	var input, output []byte
	var errMsg, workerID, parentRunID, conversationID, canceledBy, cancelReason *string
	var leaseExpires, canceledAt *time.Time
	var progress *int

	if err := row.Scan(&r.ID, &r.Type, &r.Title, &status, &input, &output, &errMsg, &r.Attempt,
		&workerID, &leaseExpires, &parentRunID, &conversationID, &canceledAt, &canceledBy, &cancelReason,
		&progress, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return oasis.Run{}, err
	}

	r.Status = oasis.RunStatus(status)
	r.Input = input
	if len(output) > 0 {
		var out oasis.TaskResult
		if err := json.Unmarshal(output, &out); err == nil {
			r.Output = &out
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	if workerID != nil {
		r.WorkerID = *workerID
	}
	if parentRunID != nil {
		r.ParentRunID = *parentRunID
	}
	if conversationID != nil {
		r.ConversationID = *conversationID
	}
	if canceledBy != nil {
		r.CanceledBy = *canceledBy
	}
	if cancelReason != nil {
		r.CancelReason = *cancelReason
	}
	r.LeaseExpiresAt = leaseExpires
	r.CanceledAt = canceledAt
	r.Progress = progress
	return r, nil
}

// --- Skill Store ---
//
// Vector similarity search over stored skills uses pgvector's cosine
// distance operator with an HNSW index.

func (s *Store) CreateSkill(ctx context.Context, skill oasis.Skill) error {
	var toolsJSON string
	if len(skill.Tools) > 0 {
		data, _ := json.Marshal(skill.Tools)
		toolsJSON = string(data)
	}

	if len(skill.Embedding) > 0 {
		embStr := serializeEmbedding(skill.Embedding)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO skills (id, name, description, instructions, tools, model, embedding, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9)`,
			skill.ID, skill.Name, skill.Description, skill.Instructions,
			toolsJSON, skill.Model, embStr, skill.CreatedAt, skill.UpdatedAt)
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO skills (id, name, description, instructions, tools, model, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8)`,
		skill.ID, skill.Name, skill.Description, skill.Instructions,
		toolsJSON, skill.Model, skill.CreatedAt, skill.UpdatedAt)
	return err
}

func (s *Store) GetSkill(ctx context.Context, id string) (oasis.Skill, error) {
	var sk oasis.Skill
	var tools, model string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, instructions, tools, model, created_at, updated_at
		 FROM skills WHERE id = $1`, id,
	).Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Instructions, &tools, &model, &sk.CreatedAt, &sk.UpdatedAt)
	if err != nil {
		return oasis.Skill{}, fmt.Errorf("postgres: get skill: %w", err)
	}
	if tools != "" {
		_ = json.Unmarshal([]byte(tools), &sk.Tools)
	}
	sk.Model = model
	return sk, nil
}

func (s *Store) ListSkills(ctx context.Context) ([]oasis.Skill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, instructions, tools, model, created_at, updated_at
		 FROM skills ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list skills: %w", err)
	}
	defer rows.Close()

	var skills []oasis.Skill
	for rows.Next() {
		var sk oasis.Skill
		var tools, model string
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Instructions, &tools, &model, &sk.CreatedAt, &sk.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan skill: %w", err)
		}
		if tools != "" {
			_ = json.Unmarshal([]byte(tools), &sk.Tools)
		}
		sk.Model = model
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

func (s *Store) UpdateSkill(ctx context.Context, skill oasis.Skill) error {
	var toolsJSON string
	if len(skill.Tools) > 0 {
		data, _ := json.Marshal(skill.Tools)
		toolsJSON = string(data)
	}

	if len(skill.Embedding) > 0 {
		embStr := serializeEmbedding(skill.Embedding)
		_, err := s.pool.Exec(ctx,
			`UPDATE skills SET name=$1, description=$2, instructions=$3, tools=$4, model=$5, embedding=$6::vector, updated_at=$7 WHERE id=$8`,
			skill.Name, skill.Description, skill.Instructions, toolsJSON, skill.Model, embStr, skill.UpdatedAt, skill.ID)
		return err
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE skills SET name=$1, description=$2, instructions=$3, tools=$4, model=$5, embedding=NULL, updated_at=$6 WHERE id=$7`,
		skill.Name, skill.Description, skill.Instructions, toolsJSON, skill.Model, skill.UpdatedAt, skill.ID)
	return err
}

func (s *Store) DeleteSkill(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM skills WHERE id=$1`, id)
	return err
}

// SearchSkills performs vector similarity search over stored skills
// using pgvector's cosine distance operator with HNSW index.
func (s *Store) SearchSkills(ctx context.Context, embedding []float32, topK int) ([]oasis.ScoredSkill, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, instructions, tools, model, created_at, updated_at,
		        1 - (embedding <=> $1::vector) AS score
		 FROM skills
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		embStr, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search skills: %w", err)
	}
	defer rows.Close()

	var results []oasis.ScoredSkill
	for rows.Next() {
		var sk oasis.Skill
		var tools, model string
		var score float32
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Instructions, &tools, &model, &sk.CreatedAt, &sk.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan skill: %w", err)
		}
		if tools != "" {
			_ = json.Unmarshal([]byte(tools), &sk.Tools)
		}
		sk.Model = model
		results = append(results, oasis.ScoredSkill{Skill: sk, Score: score})
	}
	return results, rows.Err()
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
