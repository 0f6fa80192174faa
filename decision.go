package runcore

import "encoding/json"

// DecisionKind discriminates the agent orchestrator's decision union.
type DecisionKind string

const (
	DecisionReply       DecisionKind = "reply"
	DecisionRun         DecisionKind = "run"
	DecisionReplyAndRun DecisionKind = "reply_and_run"
)

// Decision is the tagged union the orchestrator's LLM-facing decision step
// returns: Reply{content}, Run{type, title, input, max_steps?}, or
// ReplyAndRun{reply, run}.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// Reply / ReplyAndRun
	Content string `json:"content,omitempty"`

	// Run / ReplyAndRun
	RunType  string          `json:"run_type,omitempty"`
	Title    string          `json:"title,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	MaxSteps int             `json:"max_steps,omitempty"`
}
