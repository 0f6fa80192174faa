package runcore

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether s is a terminal status; output/error are immutable thereafter.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is the durable record for one unit of background work.
//
// Invariants enforced by the Store implementation, never by callers mutating
// a Go value in place:
//   - status=running ⇔ worker_id≠"" ∧ !lease_expires_at.IsZero()
//   - status ∈ {succeeded,failed,canceled} is terminal; Output/Error frozen
//   - Cancel is valid only from {queued,running}; terminal cancel is idempotent
//   - Attempt never decreases and increments exactly once per successful claim
type Run struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Title          string          `json:"title,omitempty"`
	Status         RunStatus       `json:"status"`
	Input          json.RawMessage `json:"input"`
	Output         *TaskResult     `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	Attempt        int             `json:"attempt"`
	WorkerID       string          `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	ParentRunID    string          `json:"parent_run_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	CanceledAt     *time.Time      `json:"canceled_at,omitempty"`
	CanceledBy     string          `json:"canceled_by,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	Progress       *int            `json:"progress,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RunInput is the typed envelope every handler's input carries in addition
// to its handler-specific fields.
type RunInput struct {
	TraceID          string          `json:"trace_id,omitempty"`
	ConversationID   string          `json:"conversation_id,omitempty"`
	ParentRunID      string          `json:"parent_run_id,omitempty"`
	SettingsSnapshot json.RawMessage `json:"settings_snapshot,omitempty"`
}

// RunFilter restricts ListRuns results.
type RunFilter struct {
	Status RunStatus // zero value = no filter
	Limit  int
	Offset int
}

// CreateRunRequest is the input to Store.CreateRun.
type CreateRunRequest struct {
	Type           string
	Title          string
	ConversationID string
	ParentRunID    string
	Input          json.RawMessage
}
