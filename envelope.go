package runcore

import "encoding/json"

// TaskResultVersion is the fixed discriminant every handler's output carries.
const TaskResultVersion = "task_result_v0"

// Step is one scoped region within a handler.
type Step struct {
	Name       string         `json:"name"`
	OK         bool           `json:"ok"`
	DurationMs int64          `json:"duration_ms"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ErrorInfo is the top-level error shape of a task_result_v0 envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Step      string `json:"step,omitempty"`
}

// TaskResult is the task_result_v0 envelope produced by every handler.
type TaskResult struct {
	Version    string          `json:"version"`
	OK         bool            `json:"ok"`
	TaskType   string          `json:"task_type"`
	TraceID    string          `json:"trace_id"`
	Result     json.RawMessage `json:"result,omitempty"`
	Artifacts  json.RawMessage `json:"artifacts,omitempty"`
	Steps      []Step          `json:"steps"`
	TraceLines []string        `json:"trace_lines,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`

	FactsSnapshotID     string `json:"facts_snapshot_id,omitempty"`
	FactsSnapshotSource string `json:"facts_snapshot_source,omitempty"`
	Yielded             bool   `json:"yielded,omitempty"`
}

// AllStepsOK reports the default ok value: the conjunction of step outcomes,
// unless the handler explicitly overrode it via SetOK(true).
func (r *TaskResult) AllStepsOK() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}
