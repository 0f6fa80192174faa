// Package sqlite implements runcore.Store (the Run Store) and
// runcore.SkillStore using pure-Go SQLite. Zero CGO required. Concurrent
// writers serialize through a single connection (SetMaxOpenConns(1)) so that
// ClaimNext/Heartbeat/Complete* can use a plain select-then-update inside a
// transaction without a separate advisory lock.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store logs Init/Close and emits debug logs for every skill
// operation including timing, row counts, and key parameters; the run-store
// methods do not log. If not set, no logs are emitted.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements runcore.Store and runcore.SkillStore backed by a local
// SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ oasis.Store = (*Store)(nil)
var _ oasis.SkillStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = zap.NewNop()

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", zap.Any("path", dbPath))
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			error TEXT,
			attempt INTEGER NOT NULL DEFAULT 0,
			worker_id TEXT,
			lease_expires_at INTEGER,
			parent_run_id TEXT,
			conversation_id TEXT,
			canceled_at INTEGER,
			canceled_by TEXT,
			cancel_reason TEXT,
			progress INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			instructions TEXT NOT NULL,
			tools TEXT,
			model TEXT,
			tags TEXT,
			created_by TEXT,
			refs TEXT,
			embedding TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_status_updated ON runs(status, updated_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id)`)

	s.logger.Info("sqlite: init completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// DB returns the underlying shared connection, letting MessageStore,
// MemoryStore, and SettingsStore attach to the same SQLite file without
// opening a second pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", zap.Error(err))
	}
	return err
}

// --- Run Store ---

func (s *Store) CreateRun(ctx context.Context, req oasis.CreateRunRequest) (oasis.Run, error) {
	now := time.Now().UTC()
	r := oasis.Run{
		ID:             oasis.NewID(),
		Type:           req.Type,
		Title:          req.Title,
		Status:         oasis.RunQueued,
		Input:          req.Input,
		ParentRunID:    req.ParentRunID,
		ConversationID: req.ConversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, type, title, status, input, attempt, parent_run_id, conversation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		r.ID, r.Type, r.Title, string(r.Status), string(r.Input), nullStr(r.ParentRunID), nullStr(r.ConversationID),
		r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	if err != nil {
		return oasis.Run{}, fmt.Errorf("sqlite: create run: %w", err)
	}
	return r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (oasis.Run, error) {
	row := s.db.QueryRowContext(ctx, runSelectCols+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return oasis.Run{}, fmt.Errorf("sqlite: get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, filter oasis.RunFilter) ([]oasis.Run, error) {
	query := runSelectCols
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`
	query, args = applyLimitOffset(query, args, filter)
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) ListRunsByConversation(ctx context.Context, conversationID string, filter oasis.RunFilter) ([]oasis.Run, error) {
	query := runSelectCols + ` WHERE conversation_id = ?`
	args := []any{conversationID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`
	query, args = applyLimitOffset(query, args, filter)
	return s.queryRuns(ctx, query, args...)
}

func applyLimitOffset(query string, args []any, filter oasis.RunFilter) (string, []any) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	return query, append(args, limit, filter.Offset)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]oasis.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []oasis.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete run: %w", err)
	}
	return nil
}

func (s *Store) CancelRun(ctx context.Context, id, reason string) (oasis.Run, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: cancel run: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status=?, canceled_at=?, canceled_by=?, cancel_reason=?, worker_id=NULL, lease_expires_at=NULL, updated_at=?
		 WHERE id=? AND status IN (?, ?)`,
		string(oasis.RunCanceled), now.Unix(), "user", reason, now.Unix(),
		id, string(oasis.RunQueued), string(oasis.RunRunning),
	)
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: cancel run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return oasis.Run{}, false, tx.Commit()
	}
	row := tx.QueryRowContext(ctx, runSelectCols+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: cancel run: reload: %w", err)
	}
	return r, true, tx.Commit()
}

// ClaimNext selects the oldest eligible run FIFO by updated_at and
// atomically transitions it to running. The select and update run inside a
// transaction; combined with SetMaxOpenConns(1) this serializes claims
// across every goroutine holding a handle to this Store.
func (s *Store) ClaimNext(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (oasis.Run, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: claim next: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM runs
		 WHERE (status = ? OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))
		   AND attempt <= ?
		 ORDER BY updated_at ASC LIMIT 1`,
		string(oasis.RunQueued), string(oasis.RunRunning), now.UnixMilli(), maxAttempts,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return oasis.Run{}, false, nil
	}
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: claim next: select: %w", err)
	}

	leaseExpires := now.Add(lease)
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status=?, worker_id=?, lease_expires_at=?, attempt=attempt+1, updated_at=? WHERE id=?`,
		string(oasis.RunRunning), workerID, leaseExpires.UnixMilli(), now.Unix(), id,
	)
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: claim next: update: %w", err)
	}
	row := tx.QueryRowContext(ctx, runSelectCols+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return oasis.Run{}, false, fmt.Errorf("sqlite: claim next: reload: %w", err)
	}
	return r, true, tx.Commit()
}

func (s *Store) Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET lease_expires_at=?, updated_at=? WHERE id=? AND worker_id=? AND status=?`,
		now.Add(lease).UnixMilli(), now.Unix(), id, workerID, string(oasis.RunRunning),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CompleteSuccess(ctx context.Context, id, workerID string, output oasis.TaskResult) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("sqlite: complete success: marshal output: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, output=?, worker_id=NULL, lease_expires_at=NULL, updated_at=? WHERE id=? AND worker_id=?`,
		string(oasis.RunSucceeded), string(data), time.Now().UTC().Unix(), id, workerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: complete success: %w", err)
	}
	return nil
}

func (s *Store) CompleteFailed(ctx context.Context, id, workerID string, errMsg string, output *oasis.TaskResult) error {
	var data sql.NullString
	if output != nil {
		b, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("sqlite: complete failed: marshal output: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, output=?, error=?, worker_id=NULL, lease_expires_at=NULL, updated_at=? WHERE id=? AND worker_id=?`,
		string(oasis.RunFailed), data, errMsg, time.Now().UTC().Unix(), id, workerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: complete failed: %w", err)
	}
	return nil
}

func (s *Store) CompleteCanceled(ctx context.Context, id, workerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, worker_id=NULL, lease_expires_at=NULL, updated_at=? WHERE id=? AND worker_id=?`,
		string(oasis.RunCanceled), time.Now().UTC().Unix(), id, workerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: complete canceled: %w", err)
	}
	return nil
}

const runSelectCols = `SELECT id, type, title, status, input, output, error, attempt, worker_id, lease_expires_at,
	parent_run_id, conversation_id, canceled_at, canceled_by, cancel_reason, progress, created_at, updated_at FROM runs`

// rowScanner abstracts *sql.Row / *sql.Rows for scanRun.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (oasis.Run, error) {
	var r oasis.Run
	var status, input string
	var output, errMsg, workerID, parentRunID, conversationID, canceledBy, cancelReason sql.NullString
	var leaseExpires, canceledAt, progress sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&r.ID, &r.Type, &r.Title, &status, &input, &output, &errMsg, &r.Attempt,
		&workerID, &leaseExpires, &parentRunID, &conversationID, &canceledAt, &canceledBy, &cancelReason,
		&progress, &createdAt, &updatedAt); err != nil {
		return oasis.Run{}, err
	}

	r.Status = oasis.RunStatus(status)
	r.Input = json.RawMessage(input)
	if output.Valid {
		var out oasis.TaskResult
		if err := json.Unmarshal([]byte(output.String), &out); err == nil {
			r.Output = &out
		}
	}
	r.Error = errMsg.String
	r.WorkerID = workerID.String
	r.ParentRunID = parentRunID.String
	r.ConversationID = conversationID.String
	r.CanceledBy = canceledBy.String
	r.CancelReason = cancelReason.String
	if leaseExpires.Valid {
		// Stored as Unix milliseconds so sub-second lease expiries are
		// claimable the moment they lapse.
		t := time.UnixMilli(leaseExpires.Int64).UTC()
		r.LeaseExpiresAt = &t
	}
	if canceledAt.Valid {
		t := time.Unix(canceledAt.Int64, 0).UTC()
		r.CanceledAt = &t
	}
	if progress.Valid {
		p := int(progress.Int64)
		r.Progress = &p
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return r, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- Skill Store ---

func (s *Store) CreateSkill(ctx context.Context, skill oasis.Skill) error {
	start := time.Now()
	s.logger.Debug("sqlite: create skill", zap.String("id", skill.ID), zap.String("name", skill.Name), zap.Bool("has_embedding", len(skill.Embedding) > 0))

	var toolsJSON *string
	if len(skill.Tools) > 0 {
		data, _ := json.Marshal(skill.Tools)
		v := string(data)
		toolsJSON = &v
	}
	var tagsJSON *string
	if len(skill.Tags) > 0 {
		data, _ := json.Marshal(skill.Tags)
		v := string(data)
		tagsJSON = &v
	}
	var refsJSON *string
	if len(skill.References) > 0 {
		data, _ := json.Marshal(skill.References)
		v := string(data)
		refsJSON = &v
	}
	var embJSON *string
	if len(skill.Embedding) > 0 {
		v := serializeEmbedding(skill.Embedding)
		embJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (id, name, description, instructions, tools, model, tags, created_by, refs, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		skill.ID, skill.Name, skill.Description, skill.Instructions,
		toolsJSON, skill.Model, tagsJSON, skill.CreatedBy, refsJSON, embJSON, skill.CreatedAt, skill.UpdatedAt)
	if err != nil {
		s.logger.Error("sqlite: create skill failed", zap.Any("id", skill.ID), zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	s.logger.Debug("sqlite: create skill ok", zap.Any("id", skill.ID), zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Store) GetSkill(ctx context.Context, id string) (oasis.Skill, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get skill", zap.Any("id", id))

	var sk oasis.Skill
	var tools, model, tags, createdBy, refs sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, instructions, tools, model, tags, created_by, refs, created_at, updated_at
		 FROM skills WHERE id = ?`, id,
	).Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Instructions, &tools, &model, &tags, &createdBy, &refs, &sk.CreatedAt, &sk.UpdatedAt)
	if err != nil {
		s.logger.Error("sqlite: get skill failed", zap.Any("id", id), zap.Error(err), zap.Duration("duration", time.Since(start)))
		return oasis.Skill{}, fmt.Errorf("get skill: %w", err)
	}
	if tools.Valid {
		_ = json.Unmarshal([]byte(tools.String), &sk.Tools)
	}
	if model.Valid {
		sk.Model = model.String
	}
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &sk.Tags)
	}
	if createdBy.Valid {
		sk.CreatedBy = createdBy.String
	}
	if refs.Valid {
		_ = json.Unmarshal([]byte(refs.String), &sk.References)
	}
	s.logger.Debug("sqlite: get skill ok", zap.Any("id", id), zap.Any("name", sk.Name), zap.Duration("duration", time.Since(start)))
	return sk, nil
}

func (s *Store) ListSkills(ctx context.Context) ([]oasis.Skill, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list skills")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, instructions, tools, model, tags, created_by, refs, created_at, updated_at
		 FROM skills ORDER BY created_at`)
	if err != nil {
		s.logger.Error("sqlite: list skills failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []oasis.Skill
	for rows.Next() {
		var sk oasis.Skill
		var tools, model, tags, createdBy, refs sql.NullString
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Instructions, &tools, &model, &tags, &createdBy, &refs, &sk.CreatedAt, &sk.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		if tools.Valid {
			_ = json.Unmarshal([]byte(tools.String), &sk.Tools)
		}
		if model.Valid {
			sk.Model = model.String
		}
		if tags.Valid {
			_ = json.Unmarshal([]byte(tags.String), &sk.Tags)
		}
		if createdBy.Valid {
			sk.CreatedBy = createdBy.String
		}
		if refs.Valid {
			_ = json.Unmarshal([]byte(refs.String), &sk.References)
		}
		skills = append(skills, sk)
	}
	s.logger.Debug("sqlite: list skills ok", zap.Any("count", len(skills)), zap.Duration("duration", time.Since(start)))
	return skills, rows.Err()
}

func (s *Store) UpdateSkill(ctx context.Context, skill oasis.Skill) error {
	start := time.Now()
	s.logger.Debug("sqlite: update skill", zap.String("id", skill.ID), zap.String("name", skill.Name), zap.Bool("has_embedding", len(skill.Embedding) > 0))

	var toolsJSON *string
	if len(skill.Tools) > 0 {
		data, _ := json.Marshal(skill.Tools)
		v := string(data)
		toolsJSON = &v
	}
	var tagsJSON *string
	if len(skill.Tags) > 0 {
		data, _ := json.Marshal(skill.Tags)
		v := string(data)
		tagsJSON = &v
	}
	var refsJSON *string
	if len(skill.References) > 0 {
		data, _ := json.Marshal(skill.References)
		v := string(data)
		refsJSON = &v
	}
	var embJSON *string
	if len(skill.Embedding) > 0 {
		v := serializeEmbedding(skill.Embedding)
		embJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE skills SET name=?, description=?, instructions=?, tools=?, model=?, tags=?, created_by=?, refs=?, embedding=?, updated_at=? WHERE id=?`,
		skill.Name, skill.Description, skill.Instructions, toolsJSON, skill.Model, tagsJSON, skill.CreatedBy, refsJSON, embJSON, skill.UpdatedAt, skill.ID)
	if err != nil {
		s.logger.Error("sqlite: update skill failed", zap.Any("id", skill.ID), zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	s.logger.Debug("sqlite: update skill ok", zap.Any("id", skill.ID), zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Store) DeleteSkill(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete skill", zap.Any("id", id))

	_, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE id=?`, id)
	if err != nil {
		s.logger.Error("sqlite: delete skill failed", zap.Any("id", id), zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	s.logger.Debug("sqlite: delete skill ok", zap.Any("id", id), zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Store) SearchSkills(ctx context.Context, embedding []float32, topK int) ([]oasis.ScoredSkill, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search skills", zap.Any("top_k", topK), zap.Any("embedding_dim", len(embedding)))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, instructions, tools, model, tags, created_by, refs, embedding, created_at, updated_at
		 FROM skills WHERE embedding IS NOT NULL`)
	if err != nil {
		s.logger.Error("sqlite: search skills failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("search skills: %w", err)
	}
	defer rows.Close()

	var results []oasis.ScoredSkill
	scanned := 0

	for rows.Next() {
		var sk oasis.Skill
		var tools, model, tags, createdBy, refs sql.NullString
		var embJSON string
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Instructions, &tools, &model, &tags, &createdBy, &refs, &embJSON, &sk.CreatedAt, &sk.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		scanned++
		if tools.Valid {
			_ = json.Unmarshal([]byte(tools.String), &sk.Tools)
		}
		if model.Valid {
			sk.Model = model.String
		}
		if tags.Valid {
			_ = json.Unmarshal([]byte(tags.String), &sk.Tags)
		}
		if createdBy.Valid {
			sk.CreatedBy = createdBy.String
		}
		if refs.Valid {
			_ = json.Unmarshal([]byte(refs.String), &sk.References)
		}
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, oasis.ScoredSkill{Skill: sk, Score: cosineSimilarity(embedding, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search skills ok", zap.Any("scanned", scanned), zap.Any("returned", len(results)), zap.Duration("duration", time.Since(start)))
	return results, nil
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
