package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/taskctx"
)

// WaitPoll/WaitCeiling are the default child-run wait parameters; RunLoop
// accepts overrides via Deps for tests.
const (
	DefaultWaitPoll    = 1 * time.Second
	DefaultWaitCeiling = 60 * time.Second
)

// stillRunningMessage is the user-facing suffix a wait-ceiling timeout
// surfaces; the caller (chat HTTP surface, out of scope here) is expected
// to show this rather than the bare error.
const stillRunningMessage = " 任务可能仍在后台执行，请在任务列表中查看。"

// maxStepsFallbackMessage is returned when a turn exhausts max_steps
// without the decision loop reaching a Reply.
const maxStepsFallbackMessage = "已达最大步数，未得到最终回复。请在任务详情中查看各步输出。"

// DecisionRequest is everything a DecisionFunc needs to produce the next
// Decision.
type DecisionRequest struct {
	UserMessage         string
	ConversationID      string
	HistoryMessages     []oasis.ChatMessageRecord
	RecentRuns          []oasis.Run
	PreviousObservation string
	StepIndex           int
}

// DecisionFunc asks an LLM (or any other decision source) for the next
// Decision given the accumulated turn state.
type DecisionFunc func(ctx context.Context, req DecisionRequest) (oasis.Decision, error)

// Deps are RunLoop's collaborators.
type Deps struct {
	Store       oasis.Store
	Decide      DecisionFunc
	WaitPoll    time.Duration
	WaitCeiling time.Duration
}

func (d Deps) waitPoll() time.Duration {
	if d.WaitPoll > 0 {
		return d.WaitPoll
	}
	return DefaultWaitPoll
}

func (d Deps) waitCeiling() time.Duration {
	if d.WaitCeiling > 0 {
		return d.WaitCeiling
	}
	return DefaultWaitCeiling
}

// Request is one user turn's starting context.
type Request struct {
	UserMessage     string
	ConversationID  string
	HistoryMessages []oasis.ChatMessageRecord
	RecentRuns      []oasis.Run
	ParentRunID     string
	TraceID         string
}

// Result is RunLoop's final outcome for the turn.
type Result struct {
	Reply      string
	StepsTaken int
	LastRunID  string
}

// RunLoop drives the async agent loop for one user turn: decide -> spawn
// child run -> wait -> observe -> decide again, until a Reply decision or
// max_steps is exhausted. It is the I/O-performing counterpart to the pure
// Step function; a worker wanting to avoid a self-HTTP round trip can
// instead call Step directly against runs it drives itself.
func RunLoop(ctx context.Context, deps Deps, req Request) (Result, error) {
	traceID := req.TraceID
	if !taskctx.ValidTraceID(traceID) {
		traceID = taskctx.NewTraceID()
	}

	decision, err := deps.Decide(ctx, DecisionRequest{
		UserMessage:     req.UserMessage,
		ConversationID:  req.ConversationID,
		HistoryMessages: req.HistoryMessages,
		RecentRuns:      req.RecentRuns,
		StepIndex:       0,
	})
	if err != nil {
		return Result{}, err
	}

	maxSteps := ClampMaxSteps(decision.MaxSteps)
	var lastChildReply string
	var lastRunID string

	for i := 0; i < maxSteps; i++ {
		outcome := Step(decision, lastChildReply)
		if outcome.Kind == OutcomeReply {
			return Result{Reply: outcome.Reply, StepsTaken: i + 1, LastRunID: lastRunID}, nil
		}

		child, err := spawnChild(ctx, deps.Store, req, traceID, outcome)
		if err != nil {
			return Result{}, err
		}
		lastRunID = child.ID

		final, err := waitTerminal(ctx, deps, child.ID)
		if err != nil {
			return Result{}, err
		}

		lastChildReply = childReply(final.Output)
		if i+1 >= maxSteps {
			break
		}

		decision, err = deps.Decide(ctx, DecisionRequest{
			UserMessage:         req.UserMessage,
			ConversationID:      req.ConversationID,
			HistoryMessages:     req.HistoryMessages,
			RecentRuns:          req.RecentRuns,
			PreviousObservation: childObservation(final.Output),
			StepIndex:           i + 1,
		})
		if err != nil {
			return Result{}, err
		}
	}

	return Result{Reply: maxStepsFallbackMessage, StepsTaken: maxSteps, LastRunID: lastRunID}, nil
}

// spawnChild creates the child run for a Run/ReplyAndRun decision,
// propagating conversation_id, trace_id, and parent_run_id into its input
// envelope alongside whatever handler-specific fields the decision
// supplied.
func spawnChild(ctx context.Context, store oasis.Store, req Request, traceID string, outcome Outcome) (oasis.Run, error) {
	merged := map[string]any{}
	if len(outcome.ChildInput) > 0 {
		_ = json.Unmarshal(outcome.ChildInput, &merged)
	}
	merged["trace_id"] = traceID
	merged["conversation_id"] = req.ConversationID
	if req.ParentRunID != "" {
		merged["parent_run_id"] = req.ParentRunID
	}
	input, err := json.Marshal(merged)
	if err != nil {
		return oasis.Run{}, &oasis.RuntimeError{Cause: err}
	}

	return store.CreateRun(ctx, oasis.CreateRunRequest{
		Type:           outcome.ChildType,
		Title:          outcome.ChildTitle,
		ConversationID: req.ConversationID,
		ParentRunID:    req.ParentRunID,
		Input:          input,
	})
}

// waitTerminal polls the store until child reaches a terminal status or
// the wait ceiling elapses, in which case it returns a Timeout error whose
// caller is expected to render stillRunningMessage to the user.
func waitTerminal(ctx context.Context, deps Deps, runID string) (oasis.Run, error) {
	deadline := time.Now().Add(deps.waitCeiling())
	ticker := time.NewTicker(deps.waitPoll())
	defer ticker.Stop()

	for {
		run, err := deps.Store.GetRun(ctx, runID)
		if err != nil {
			return oasis.Run{}, &oasis.RuntimeError{Cause: err}
		}
		if run.Status.Terminal() {
			return run, nil
		}
		if time.Now().After(deadline) {
			return oasis.Run{}, &oasis.TimeoutError{Op: "orchestrator.wait_child:" + stillRunningMessage}
		}
		select {
		case <-ctx.Done():
			return oasis.Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// childReply extracts the UI-facing text a finished child run produced,
// preferring output.result.reply, falling back to final_response.
func childReply(output *oasis.TaskResult) string {
	if output == nil || len(output.Result) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(output.Result, &m); err != nil {
		return ""
	}
	if s, ok := m["reply"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["final_response"].(string); ok {
		return s
	}
	return ""
}

// childObservation extracts output.result.observation from a finished
// child's envelope, the text fed back as the next decision's
// previous_observation. A top-level output.observation is not read: the
// TaskResult envelope has no such field.
func childObservation(output *oasis.TaskResult) string {
	if output == nil || len(output.Result) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(output.Result, &m); err != nil {
		return ""
	}
	if s, ok := m["observation"].(string); ok {
		return s
	}
	return ""
}
