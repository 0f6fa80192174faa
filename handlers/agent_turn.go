package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/orchestrator"
	"github.com/nevindra/runcore/taskctx"
	"github.com/nevindra/runcore/worker"
)

// AgentTurnInput is the input shape for the agent_turn handler: one user
// message driven through the orchestrator's decide/spawn/observe loop.
type AgentTurnInput struct {
	oasis.RunInput
	UserMessage string `json:"user_message"`
}

// AgentTurnDeps are the agent_turn handler's collaborators.
type AgentTurnDeps struct {
	Store    oasis.Store
	Messages oasis.MessageStore
	LLM      oasis.LLM

	// AllowedRunTypes restricts what the decision step may spawn. Empty
	// means the default single allowed type, run_code_snippet.
	AllowedRunTypes []string

	// DecisionTimeout bounds each LLM decision call. Zero disables it.
	DecisionTimeout time.Duration

	// MaxPromptChars caps the rendered decision prompt (MAX_PROMPT_CHARS).
	// Zero disables the cap.
	MaxPromptChars int

	// WaitPoll/WaitCeiling override the orchestrator's child-wait knobs in
	// tests. Zero values use the orchestrator defaults.
	WaitPoll    time.Duration
	WaitCeiling time.Duration
}

func (d AgentTurnDeps) allowed(runType string) bool {
	if len(d.AllowedRunTypes) == 0 {
		return runType == "run_code_snippet"
	}
	for _, t := range d.AllowedRunTypes {
		if t == runType {
			return true
		}
	}
	return false
}

// AgentTurn drives one user turn through orchestrator.RunLoop in-process —
// no self-HTTP. The worker running it blocks on each child run, so
// deployments registering agent_turn need at least two worker loops: one to
// hold the turn, one to execute the children it spawns.
func AgentTurn(deps AgentTurnDeps) worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input AgentTurnInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidInputError{Reason: err.Error()}
		}
		if strings.TrimSpace(input.UserMessage) == "" {
			return oasis.TaskResult{}, &oasis.InvalidInputError{Reason: "user_message is required"}
		}

		tc := taskctx.New(run.Type, input.RunInput)

		var result orchestrator.Result
		err := tc.Step(ctx, "agent_loop", func(meta map[string]any) error {
			var history []oasis.ChatMessageRecord
			if deps.Messages != nil && input.ConversationID != "" {
				history, _ = deps.Messages.ListMessages(ctx, input.ConversationID, 20)
			}
			var recent []oasis.Run
			if input.ConversationID != "" {
				recent, _ = deps.Store.ListRunsByConversation(ctx, input.ConversationID, oasis.RunFilter{Limit: 5})
			}

			var loopErr error
			result, loopErr = orchestrator.RunLoop(ctx, orchestrator.Deps{
				Store:       deps.Store,
				Decide:      deps.decide(hb),
				WaitPoll:    deps.WaitPoll,
				WaitCeiling: deps.WaitCeiling,
			}, orchestrator.Request{
				UserMessage:     input.UserMessage,
				ConversationID:  input.ConversationID,
				HistoryMessages: history,
				RecentRuns:      recent,
				ParentRunID:     run.ID,
				TraceID:         tc.TraceID(),
			})
			if loopErr != nil {
				return loopErr
			}
			meta["steps_taken"] = result.StepsTaken
			if result.LastRunID != "" {
				meta["last_run_id"] = result.LastRunID
			}
			return nil
		})
		if err != nil {
			return tc.Build(), err
		}

		tc.SetResult(map[string]any{
			"reply":       result.Reply,
			"steps_taken": result.StepsTaken,
		})
		tc.SetArtifacts(map[string]any{
			"last_run_id": result.LastRunID,
		})
		return tc.Build(), nil
	})
}

// decide builds the DecisionFunc the orchestrator consults: one strict-JSON
// LLM call per step, heartbeating before each so a canceled turn stops
// deciding. A response that fails to parse as a Decision degrades to a
// Reply carrying the raw text.
func (d AgentTurnDeps) decide(hb worker.HeartbeatFunc) orchestrator.DecisionFunc {
	return func(ctx context.Context, req orchestrator.DecisionRequest) (oasis.Decision, error) {
		if hb != nil {
			if err := hb(ctx); err != nil {
				return oasis.Decision{}, err
			}
		}
		callCtx := ctx
		if d.DecisionTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.DecisionTimeout)
			defer cancel()
		}

		prompt := decisionPrompt(req)
		if d.MaxPromptChars > 0 && len(prompt) > d.MaxPromptChars {
			prompt = truncateRuneBoundary(prompt, d.MaxPromptChars)
		}
		raw, err := d.LLM.Generate(callCtx, prompt)
		if err != nil {
			return oasis.Decision{}, err
		}

		decision, ok := parseDecision(raw)
		if !ok {
			return oasis.Decision{Kind: oasis.DecisionReply, Content: strings.TrimSpace(raw)}, nil
		}
		if (decision.Kind == oasis.DecisionRun || decision.Kind == oasis.DecisionReplyAndRun) && !d.allowed(decision.RunType) {
			return oasis.Decision{}, &oasis.InvalidInputError{
				Reason: fmt.Sprintf("decision requested run type %q which is not allowed", decision.RunType),
			}
		}
		return decision, nil
	}
}

// decisionPrompt renders the decision request into one strict-JSON-answer
// prompt.
func decisionPrompt(req orchestrator.DecisionRequest) string {
	var b strings.Builder
	b.WriteString("You orchestrate background tasks for a chat assistant.\n")
	b.WriteString("Answer with ONE JSON object and nothing else, shaped as either\n")
	b.WriteString(`{"kind":"reply","content":"..."} or `)
	b.WriteString(`{"kind":"run","run_type":"run_code_snippet","title":"...","input":{"language":"python","code":"..."},"max_steps":3} or `)
	b.WriteString(`{"kind":"reply_and_run","content":"...","run_type":"run_code_snippet","title":"...","input":{...}}`)
	b.WriteString("\n\n")

	for _, m := range req.HistoryMessages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	if len(req.RecentRuns) > 0 {
		b.WriteString("\nRecent background runs:\n")
		for _, r := range req.RecentRuns {
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Type, r.Status, r.Title)
		}
	}
	if req.PreviousObservation != "" {
		fmt.Fprintf(&b, "\nObservation from the previous step:\n%s\n", req.PreviousObservation)
	}
	fmt.Fprintf(&b, "\nUser message:\n%s\n", req.UserMessage)
	fmt.Fprintf(&b, "\nThis is decision step %d.\n", req.StepIndex)
	return b.String()
}

// parseDecision extracts the first JSON object from raw and decodes it as a
// Decision. ok=false means no parseable decision was present.
func parseDecision(raw string) (oasis.Decision, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return oasis.Decision{}, false
	}
	var d oasis.Decision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return oasis.Decision{}, false
	}
	switch d.Kind {
	case oasis.DecisionReply, oasis.DecisionRun, oasis.DecisionReplyAndRun:
		return d, true
	default:
		return oasis.Decision{}, false
	}
}
