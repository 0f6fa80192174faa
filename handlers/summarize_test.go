package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/worker"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeLLM) GenerateMessages(ctx context.Context, _ []oasis.ChatMessage) (string, error) {
	return f.Generate(ctx, "")
}

type fixedFactStore struct{ facts []oasis.Fact }

func (f fixedFactStore) ListFacts(_ context.Context, scope oasis.FactScope, _ oasis.FactStatus, _, _ string) ([]oasis.Fact, error) {
	if scope == oasis.FactScopeGlobal {
		return f.facts, nil
	}
	return nil, nil
}

func summarizeRun(t *testing.T, messages []oasis.ChatMessageRecord) oasis.Run {
	t.Helper()
	input, err := json.Marshal(map[string]any{"messages": messages, "conversation_id": "c1"})
	if err != nil {
		t.Fatal(err)
	}
	return oasis.Run{ID: "r1", Type: "summarize_conversation", ConversationID: "c1", Input: input}
}

func stepNames(out oasis.TaskResult) []string {
	names := make([]string, len(out.Steps))
	for i, s := range out.Steps {
		names[i] = s.Name
	}
	return names
}

func TestSummarizeStepSequenceAndArtifacts(t *testing.T) {
	llm := &fakeLLM{reply: "## Summary\nThey discussed cats."}
	h := Summarize(SummarizeDeps{
		Facts: fixedFactStore{facts: []oasis.Fact{{ID: "1", Key: "likes", Value: "cats", Status: oasis.FactActive}}},
		LLM:   llm,
	})

	out, err := h.Handle(context.Background(), summarizeRun(t, []oasis.ChatMessageRecord{
		{Role: "user", Content: "I like cats"},
	}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("envelope not ok: %+v", out.Error)
	}

	want := []string{"fetch_messages", "fetch_facts", "build_prompt", "llm_generate"}
	got := stepNames(out)
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps = %v, want %v", got, want)
		}
	}

	var artifacts map[string]any
	if err := json.Unmarshal(out.Artifacts, &artifacts); err != nil {
		t.Fatal(err)
	}
	summary := artifacts["summary"].(map[string]any)
	if summary["text"] != llm.reply {
		t.Errorf("summary text = %v", summary["text"])
	}
	facts := artifacts["facts"].(map[string]any)
	if len(facts["snapshot_id"].(string)) != 64 {
		t.Errorf("snapshot_id = %v, want 64-hex", facts["snapshot_id"])
	}
	if facts["source"] != "store" {
		t.Errorf("facts source = %v, want store", facts["source"])
	}
	if out.FactsSnapshotID == "" || out.FactsSnapshotSource != "store" {
		t.Errorf("envelope facts snapshot = %q/%q", out.FactsSnapshotID, out.FactsSnapshotSource)
	}
}

func TestSummarizeLLMFailurePreservesEnvelope(t *testing.T) {
	h := Summarize(SummarizeDeps{
		Facts: fixedFactStore{},
		LLM:   &fakeLLM{err: errors.New("model overloaded")},
	})

	out, err := h.Handle(context.Background(), summarizeRun(t, []oasis.ChatMessageRecord{
		{Role: "user", Content: "hi"},
	}), nil)
	if err != nil {
		t.Fatalf("LLM failure must return the envelope, not an error: %v", err)
	}
	if out.OK {
		t.Fatal("envelope must not be ok after an LLM failure")
	}
	if out.Error == nil || out.Error.Step != "llm_generate" {
		t.Fatalf("error = %+v, want step llm_generate", out.Error)
	}
	// All prior steps still recorded.
	if got := stepNames(out); len(got) != 4 {
		t.Errorf("steps = %v, want all four recorded", got)
	}
}

func TestSleepZeroSecondsCompletesImmediately(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"seconds": 0})
	run := oasis.Run{ID: "r1", Type: "sleep", Input: input}

	out, err := Sleep(context.Background(), run, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("envelope not ok: %+v", out.Error)
	}
	var result map[string]any
	json.Unmarshal(out.Result, &result)
	if result["slept"] != float64(0) {
		t.Errorf("slept = %v", result["slept"])
	}
}

func TestSleepAbortsWhenHeartbeatReportsCancel(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"seconds": 30})
	run := oasis.Run{ID: "r1", Type: "sleep", Input: input}

	_, err := Sleep(context.Background(), run, func(context.Context) error {
		return worker.ErrCanceled
	})
	if !errors.Is(err, worker.ErrCanceled) {
		t.Fatalf("got %v, want ErrCanceled", err)
	}
}
