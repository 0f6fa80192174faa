package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/taskctx"
	"github.com/nevindra/runcore/toolcatalog"
	"github.com/nevindra/runcore/worker"
)

// Supported run_code_snippet languages.
const (
	LanguagePython = "python"
	LanguageShell  = "shell"
)

// replyStdoutPreviewLen bounds the stdout excerpt embedded in the
// UI-facing reply string and in the orchestrator-facing observation.
const replyStdoutPreviewLen = 400

// RunCodeSnippetInput is the input shape for run_code_snippet.
type RunCodeSnippetInput struct {
	oasis.RunInput
	Language  string `json:"language"`
	Code      string `json:"code,omitempty"`
	Script    string `json:"script,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// RunCodeSnippetDeps are the collaborators run_code_snippet needs. Tools is
// expected to already have the skills provider registered against the
// project's effective settings snapshot — the skill is resolved by tool
// name (skill.python.run / skill.shell.run), not re-derived here.
type RunCodeSnippetDeps struct {
	Tools *toolcatalog.Runtime
	LLM   oasis.LLM
}

// RunCodeSnippet builds a closure implementing worker.Handler for
// run_code_snippet: validate -> tool.skill.<python.run|shell.run>.
func RunCodeSnippet(deps RunCodeSnippetDeps) worker.HandlerFunc {
	return func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input RunCodeSnippetInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
		}

		skillName, body, err := buildSkillInvocation(input)
		if err != nil {
			return oasis.TaskResult{}, err
		}

		tc := taskctx.New(run.Type, input.RunInput)

		v, err := deps.Tools.Invoke(ctx, tc, skillName, body, deps.LLM)
		if err != nil {
			return tc.Build(), nil
		}
		execResult, ok := v.(map[string]any)
		if !ok {
			return tc.Build(), nil
		}

		execID := stringField(execResult, "exec_id")
		status := stringField(execResult, "status")
		exitCode := intField(execResult, "exit_code")
		stdout := stringField(execResult, "stdout")
		stderr := stringField(execResult, "stderr")
		observation := buildObservation(stdout, stderr, exitCode)
		reply := buildReply(status, exitCode, stdout)

		tc.SetResult(map[string]any{
			"exec_id":     execID,
			"status":      status,
			"exit_code":   exitCode,
			"observation": observation,
			"reply":       reply,
		})
		tc.SetArtifacts(map[string]any{
			"exec_id": execID,
			"stdout":  stdout,
			"stderr":  stderr,
		})

		return tc.Build(), nil
	}
}

// buildSkillInvocation resolves the run_code_snippet input into a tool
// name (skill.python.run / skill.shell.run) and a JSON request body for
// the skill's invoke endpoint.
func buildSkillInvocation(input RunCodeSnippetInput) (string, json.RawMessage, error) {
	var skillName string
	payload := map[string]any{}
	switch input.Language {
	case LanguagePython:
		skillName = "skill.python.run"
		if strings.TrimSpace(input.Code) == "" {
			return "", nil, &oasis.InvalidInputError{Reason: "python run_code_snippet requires code"}
		}
		payload["code"] = input.Code
	case LanguageShell:
		skillName = "skill.shell.run"
		if strings.TrimSpace(input.Script) == "" {
			return "", nil, &oasis.InvalidInputError{Reason: "shell run_code_snippet requires script"}
		}
		payload["script"] = input.Script
	default:
		return "", nil, &oasis.InvalidInputError{Reason: "language must be python or shell, got " + input.Language}
	}
	if input.TimeoutMs > 0 {
		payload["timeout_ms"] = input.TimeoutMs
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, &oasis.InvalidInputError{Reason: err.Error()}
	}
	return skillName, body, nil
}

// buildObservation is the compact text an orchestrator step feeds back as
// previous_observation for the next decision.
func buildObservation(stdout, stderr string, exitCode int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit_code=%d", exitCode)
	if s := strings.TrimSpace(stdout); s != "" {
		b.WriteString("\nstdout:\n" + truncate(s, replyStdoutPreviewLen))
	}
	if s := strings.TrimSpace(stderr); s != "" {
		b.WriteString("\nstderr:\n" + truncate(s, replyStdoutPreviewLen))
	}
	return b.String()
}

// buildReply composes the UI-facing text, embedding a stdout preview.
func buildReply(status string, exitCode int, stdout string) string {
	preview := truncate(strings.TrimSpace(stdout), replyStdoutPreviewLen)
	if preview == "" {
		return fmt.Sprintf("Ran (%s, exit %d) with no output.", status, exitCode)
	}
	return fmt.Sprintf("Ran (%s, exit %d):\n%s", status, exitCode, preview)
}

// truncate bounds s to max bytes without attempting rune-safety beyond
// plain slicing, matching the terse truncation helpers elsewhere in this
// package's sibling providers.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
