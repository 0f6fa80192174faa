package runcore

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the durable Run Store. Implementations (store/postgres,
// store/sqlite) must express Claim/Heartbeat/Complete* as single-statement
// conditional updates — never read-then-write outside a transaction — so that
// at most one worker ever holds the lease for a given run.
type Store interface {
	CreateRun(ctx context.Context, req CreateRunRequest) (Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListRunsByConversation(ctx context.Context, conversationID string, filter RunFilter) ([]Run, error)
	DeleteRun(ctx context.Context, id string) error

	// CancelRun atomically transitions {queued,running} → canceled, clearing
	// the lease. ok=false means the run was not in a cancelable state — the
	// caller (api package) maps that to 404 (missing) or 400 (wrong status).
	CancelRun(ctx context.Context, id, reason string) (run Run, ok bool, err error)

	// ClaimNext selects the oldest eligible run (status=queued, or
	// status=running with an expired lease) FIFO by updated_at, and atomically
	// transitions it to running under worker id w. found=false means no
	// candidate was available.
	ClaimNext(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (run Run, found bool, err error)

	// Heartbeat extends the lease iff (id, workerID, status=running) still
	// matches. ok=false means the worker has been pre-empted (lease expired
	// and reclaimed) or the run was canceled out from under it.
	Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) (ok bool, err error)

	CompleteSuccess(ctx context.Context, id, workerID string, output TaskResult) error
	CompleteFailed(ctx context.Context, id, workerID string, errMsg string, output *TaskResult) error
	CompleteCanceled(ctx context.Context, id, workerID string) error

	Init(ctx context.Context) error
	Close() error
}

// SkillStore persists self-authored skills (the builtin.skill_* tools),
// independent from the filesystem-backed skill catalog providers/skills
// lists for sandboxed invocation.
type SkillStore interface {
	CreateSkill(ctx context.Context, skill Skill) error
	GetSkill(ctx context.Context, id string) (Skill, error)
	ListSkills(ctx context.Context) ([]Skill, error)
	UpdateSkill(ctx context.Context, skill Skill) error
	DeleteSkill(ctx context.Context, id string) error
	SearchSkills(ctx context.Context, embedding []float32, topK int) ([]ScoredSkill, error)
}

// FactStore is the in-process facts collaborator. Implementations merge global+session ACTIVE facts; see
// package facts for the fetch/snapshot algorithms that consume it.
type FactStore interface {
	ListFacts(ctx context.Context, scope FactScope, status FactStatus, sessionID, projectID string) ([]Fact, error)
}

// SettingsStore persists the DB override layer of the settings deep-merge
// (defaults < env < DB); see package settings for the merge algorithm that
// consumes it. Keys are dotted paths (e.g. "llm.model"); values are raw
// JSON scalars or objects.
type SettingsStore interface {
	GetSettingsOverrides(ctx context.Context) (map[string]json.RawMessage, error)
	SetSettingOverride(ctx context.Context, key string, value json.RawMessage) error
	DeleteSettingOverride(ctx context.Context, key string) error
}
