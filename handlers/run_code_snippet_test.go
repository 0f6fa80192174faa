package handlers

import (
	"context"
	"encoding/json"
	"testing"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/toolcatalog"
)

// fakeSkillsProvider answers skill.python.run/skill.shell.run with a fixed
// exec result, recording the last invoked tool name and args.
type fakeSkillsProvider struct {
	result   map[string]any
	err      error
	lastName string
	lastArgs json.RawMessage
}

func (p *fakeSkillsProvider) ID() string { return "skills" }

func (p *fakeSkillsProvider) List(ctx context.Context) ([]toolcatalog.ToolMeta, error) {
	return []toolcatalog.ToolMeta{
		{Name: "skill.python.run", ProviderID: "skills"},
		{Name: "skill.shell.run", ProviderID: "skills"},
	}, nil
}

func (p *fakeSkillsProvider) Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	p.lastName = name
	p.lastArgs = args
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func newSkillsRuntime(t *testing.T, p *fakeSkillsProvider) *toolcatalog.Runtime {
	t.Helper()
	cat := toolcatalog.NewCatalog([]string{"skills"})
	cat.Register(p)
	return toolcatalog.NewRuntime(cat)
}

func TestRunCodeSnippetPython(t *testing.T) {
	p := &fakeSkillsProvider{result: map[string]any{
		"exec_id": "exec-1", "status": "succeeded", "exit_code": 0, "stdout": "hello\n", "stderr": "",
	}}
	rt := newSkillsRuntime(t, p)
	h := RunCodeSnippet(RunCodeSnippetDeps{Tools: rt})

	run := oasis.Run{Type: "run_code_snippet", Input: json.RawMessage(`{"language":"python","code":"print('hello')"}`)}
	out, err := h(context.Background(), run, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok=true, error=%+v", out.Error)
	}
	if p.lastName != "skill.python.run" {
		t.Fatalf("invoked %q, want skill.python.run", p.lastName)
	}

	var result struct {
		ExecID      string `json:"exec_id"`
		Status      string `json:"status"`
		ExitCode    int    `json:"exit_code"`
		Observation string `json:"observation"`
		Reply       string `json:"reply"`
	}
	if err := json.Unmarshal(out.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ExecID != "exec-1" || result.Status != "succeeded" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Reply == "" {
		t.Fatal("expected non-empty reply")
	}
}

func TestRunCodeSnippetShell(t *testing.T) {
	p := &fakeSkillsProvider{result: map[string]any{
		"exec_id": "exec-2", "status": "succeeded", "exit_code": 0, "stdout": "ok\n",
	}}
	rt := newSkillsRuntime(t, p)
	h := RunCodeSnippet(RunCodeSnippetDeps{Tools: rt})

	run := oasis.Run{Type: "run_code_snippet", Input: json.RawMessage(`{"language":"shell","script":"echo ok"}`)}
	out, err := h(context.Background(), run, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok=true, error=%+v", out.Error)
	}
	if p.lastName != "skill.shell.run" {
		t.Fatalf("invoked %q, want skill.shell.run", p.lastName)
	}
}

func TestRunCodeSnippetMissingCode(t *testing.T) {
	h := RunCodeSnippet(RunCodeSnippetDeps{})
	run := oasis.Run{Type: "run_code_snippet", Input: json.RawMessage(`{"language":"python"}`)}
	_, err := h(context.Background(), run, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for missing code")
	}
}

func TestRunCodeSnippetUnsupportedLanguage(t *testing.T) {
	h := RunCodeSnippet(RunCodeSnippetDeps{})
	run := oasis.Run{Type: "run_code_snippet", Input: json.RawMessage(`{"language":"ruby","code":"puts 1"}`)}
	_, err := h(context.Background(), run, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestRunCodeSnippetToolFailurePreservesEnvelope(t *testing.T) {
	p := &fakeSkillsProvider{err: &oasis.RuntimeError{Cause: errExecFailed}}
	rt := newSkillsRuntime(t, p)
	h := RunCodeSnippet(RunCodeSnippetDeps{Tools: rt})

	run := oasis.Run{Type: "run_code_snippet", Input: json.RawMessage(`{"language":"python","code":"1/0"}`)}
	out, err := h(context.Background(), run, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK {
		t.Fatal("expected ok=false on tool failure")
	}
	if out.Error == nil || out.Error.Code != oasis.CodeRuntimeError {
		t.Fatalf("expected RUNTIME_ERROR, got %+v", out.Error)
	}
}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

var errExecFailed = &sentinelError{msg: "exec failed"}
