package handlers

import (
	"context"
	"fmt"
	"strings"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/facts"
	"github.com/nevindra/runcore/taskctx"
	"github.com/nevindra/runcore/worker"
)

// SummarizeInput is the input shape for summarize_conversation.
type SummarizeInput struct {
	oasis.RunInput
	Messages     []oasis.ChatMessageRecord `json:"messages,omitempty"` // optional: provided inline
	FactsLimit   int                       `json:"facts_limit,omitempty"`
	HistoryLimit int                       `json:"history_limit,omitempty"`
}

// SummarizeDeps are the collaborators the handler needs beyond the run
// itself: a message history source, a facts source, and an LLM.
type SummarizeDeps struct {
	Messages oasis.MessageStore
	Facts    oasis.FactStore
	LLM      oasis.LLM

	// MaxPromptChars caps the rendered prompt (MAX_PROMPT_CHARS). Zero
	// disables the cap.
	MaxPromptChars int
}

// Summarize builds a closure implementing worker.Handler for
// summarize_conversation: fetch_messages -> fetch_facts -> build_prompt ->
// llm_generate.
func Summarize(deps SummarizeDeps) worker.HandlerFunc {
	return func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input SummarizeInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
		}

		tc := taskctx.New(run.Type, input.RunInput)

		var messages []oasis.ChatMessageRecord
		err := tc.Step(ctx, "fetch_messages", func(meta map[string]any) error {
			if len(input.Messages) > 0 {
				messages = input.Messages
				meta["source"] = "provided"
				return nil
			}
			if deps.Messages == nil {
				meta["source"] = "none"
				return nil
			}
			limit := input.HistoryLimit
			if limit <= 0 {
				limit = 50
			}
			msgs, err := deps.Messages.ListMessages(ctx, run.ConversationID, limit)
			if err != nil {
				return &oasis.RuntimeError{Cause: err}
			}
			messages = msgs
			meta["source"] = "store"
			meta["count"] = len(messages)
			return nil
		})
		if err != nil {
			return tc.Build(), err
		}

		var factsResult facts.Result
		var snapshotID string
		_ = tc.Step(ctx, "fetch_facts", func(meta map[string]any) error {
			factsResult = facts.Fetch(ctx, deps.Facts, run.ConversationID, input.FactsLimit)
			snapshotID = facts.ComputeSnapshotID(factsResult.Facts)
			meta["source"] = factsResult.Source
			meta["count"] = len(factsResult.Facts)
			return nil
		})
		tc.SetFactsSnapshot(snapshotID, factsResult.Source)

		var prompt string
		_ = tc.Step(ctx, "build_prompt", func(meta map[string]any) error {
			prompt = buildSummaryPrompt(messages, factsResult.Facts)
			if deps.MaxPromptChars > 0 && len(prompt) > deps.MaxPromptChars {
				prompt = truncateRuneBoundary(prompt, deps.MaxPromptChars)
				meta["prompt_truncated"] = true
			}
			meta["prompt_len"] = len(prompt)
			return nil
		})

		var summary string
		err = tc.Step(ctx, "llm_generate", func(meta map[string]any) error {
			if deps.LLM == nil {
				return &oasis.RuntimeError{Cause: fmt.Errorf("no llm configured")}
			}
			out, err := deps.LLM.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			summary = out
			meta["summary_len"] = len(summary)
			return nil
		})
		if err != nil {
			// LLM exception: ok=false, envelope preserved as-is.
			return tc.Build(), nil
		}

		tc.SetResult(map[string]any{"summary": summary})
		tc.SetArtifacts(map[string]any{
			"summary": map[string]any{"text": summary, "html": renderMarkdownHTML(summary)},
			"facts": map[string]any{
				"snapshot_id": snapshotID,
				"source":      factsResult.Source,
			},
		})
		return tc.Build(), nil
	}
}

func buildSummaryPrompt(messages []oasis.ChatMessageRecord, active []oasis.Fact) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation as concise markdown.\n\n")
	if len(active) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range active {
			fmt.Fprintf(&b, "- %s: %v\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}
	b.WriteString("Conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
