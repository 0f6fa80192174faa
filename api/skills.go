package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/sandbox"
)

const maxSkillInvokeBodyBytes = 8 << 20 // 8MB, generous for inline code/script bodies

// skillManifest is one catalog entry, the wire shape GET /skills returns —
// mirrors providers/skills.Manifest field-for-field since that package
// decodes this response directly.
type skillManifest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Runtime     string          `json:"runtime"` // python | shell
	Interface   json.RawMessage `json:"interface,omitempty"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
	Limits      json.RawMessage `json:"limits,omitempty"`

	defaultPath string // path under root/<id>/ to run when args carry no inline code/script
}

// SkillHandlers backs the Skill API: GET /skills lists the catalog
// loaded from Root at startup, POST /skills/{id}/invoke runs one invocation
// in the sandbox under the manifest's policy limits merged over defaults.
type SkillHandlers struct {
	Runner *sandbox.Runner
	Root    string // directory of <id>/manifest.json [+ main.py|main.sh]
	WorkspaceRoot string // host-native dir bind-mounted into the container

	mu        sync.RWMutex
	manifests map[string]skillManifest
}

// NewSkillHandlers loads every <id>/manifest.json under root once at
// startup; a missing or empty root yields an empty catalog rather than an
// error, matching SkillsProvider's own degrade-to-fallback posture on the
// client side.
func NewSkillHandlers(runner *sandbox.Runner, root, workspaceRoot string) *SkillHandlers {
	h := &SkillHandlers{Runner: runner, Root: root, WorkspaceRoot: workspaceRoot}
	h.reload()
	return h
}

func (h *SkillHandlers) reload() {
	manifests := map[string]skillManifest{}
	entries, err := os.ReadDir(h.Root)
	if err != nil {
		h.mu.Lock()
		h.manifests = manifests
		h.mu.Unlock()
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(h.Root, entry.Name())
		raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
		if err != nil {
			continue
		}
		var m skillManifest
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m.ID == "" {
			m.ID = entry.Name()
		}
		switch m.Runtime {
		case "python":
			m.defaultPath = filepath.Join(dir, "main.py")
		case "shell":
			m.defaultPath = filepath.Join(dir, "main.sh")
		}
		manifests[m.ID] = m
	}
	h.mu.Lock()
	h.manifests = manifests
	h.mu.Unlock()
}

func (h *SkillHandlers) list(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	out := make([]skillManifest, 0, len(h.manifests))
	for _, m := range h.manifests {
		out = append(out, m)
	}
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

// invokeRequest is POST /skills/{id}/invoke's body: whatever args the
// caller's tool name maps to. code/script/timeout_ms/project_id/
// policy_overrides are the fields this handler understands; anything else
// is ignored.
type invokeRequest struct {
	Code            string          `json:"code,omitempty"`
	Script          string          `json:"script,omitempty"`
	TimeoutMs       int             `json:"timeout_ms,omitempty"`
	ProjectID       string          `json:"project_id,omitempty"`
	PolicyOverrides json.RawMessage `json:"policy_overrides,omitempty"`
}

func (h *SkillHandlers) invoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	manifest, known := h.manifests[id]
	h.mu.RUnlock()
	if !known {
		writeCodedError(w, &oasis.ToolNotFoundError{Name: "skill." + id})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSkillInvokeBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req invokeRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeCodedError(w, &oasis.InvalidArgumentError{Reason: "invalid JSON: " + err.Error()})
			return
		}
	}

	sandboxReq, err := buildSandboxRequest(manifest, req)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	sandboxReq.WorkspaceHost = h.WorkspaceRoot

	result, err := h.Runner.Exec(r.Context(), sandboxReq)
	if err != nil {
		var timeoutErr *oasis.SandboxTimeoutError
		if errors.As(err, &timeoutErr) {
			writeJSON(w, http.StatusInternalServerError,
				invokeResponse(sandboxReq, result, "TIMEOUT", map[string]string{"code": "TIMEOUT"}))
			return
		}
		var sandboxErr oasis.CodedError
		if errors.As(err, &sandboxErr) {
			writeCodedError(w, sandboxErr)
			return
		}
		writeCodedError(w, &oasis.RuntimeError{Cause: err})
		return
	}

	status := "SUCCEEDED"
	if result.ExitCode != 0 {
		status = "FAILED"
	}
	writeJSON(w, http.StatusOK, invokeResponse(sandboxReq, result, status, nil))
}

// invokeResponse renders the sandbox outcome: terminal status, artifact
// paths, truncation flags, and inline stdout/stderr previews the
// run_code_snippet handler embeds in its reply.
func invokeResponse(req sandbox.Request, res sandbox.Result, status string, errorReason any) map[string]any {
	out := map[string]any{
		"exec_id":          req.ExecID,
		"status":           status,
		"exit_code":        res.ExitCode,
		"artifacts_dir":    res.ArtifactsDir,
		"stdout_path":      filepath.Join(res.ArtifactsDir, "stdout.txt"),
		"stderr_path":      filepath.Join(res.ArtifactsDir, "stderr.txt"),
		"stdout_truncated": res.StdoutTrunc,
		"stderr_truncated": res.StderrTrunc,
		"stdout":           res.Stdout,
		"stderr":           res.Stderr,
	}
	if errorReason != nil {
		out["error_reason"] = errorReason
	}
	return out
}

func buildSandboxRequest(m skillManifest, req invokeRequest) (sandbox.Request, error) {
	var kind sandbox.Kind
	switch m.Runtime {
	case "python":
		kind = sandbox.KindPython
	case "shell":
		kind = sandbox.KindShell
	default:
		return sandbox.Request{}, &oasis.InvalidArgumentError{Reason: "unsupported skill runtime: " + m.Runtime}
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}

	manifestLimits, err := sandbox.PolicyFromJSON(m.Limits)
	if err != nil {
		return sandbox.Request{}, &oasis.InvalidArgumentError{Reason: "malformed manifest limits: " + err.Error()}
	}
	overrides, err := sandbox.PolicyFromJSON(req.PolicyOverrides)
	if err != nil {
		return sandbox.Request{}, &oasis.InvalidArgumentError{Reason: "malformed policy_overrides: " + err.Error()}
	}
	if req.TimeoutMs > 0 {
		overrides.TimeoutMs = req.TimeoutMs
	}
	policy := sandbox.MergePolicy(sandbox.DefaultPolicy(), manifestLimits, overrides)

	out := sandbox.Request{
		ExecID:    uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		Policy:    policy,
	}
	switch kind {
	case sandbox.KindPython:
		if req.Code != "" {
			out.Code = req.Code
		}
	case sandbox.KindShell:
		if req.Script != "" {
			out.Script = req.Script
		}
	}
	if out.Code == "" && out.Script == "" {
		if m.defaultPath == "" {
			return sandbox.Request{}, &oasis.InvalidInputError{Reason: "skill invoke requires code/script and manifest has no default script"}
		}
		raw, err := os.ReadFile(m.defaultPath)
		if err != nil {
			return sandbox.Request{}, &oasis.RuntimeError{Cause: err}
		}
		switch kind {
		case sandbox.KindPython:
			out.Code = string(raw)
		case sandbox.KindShell:
			out.Script = string(raw)
		}
	}
	return out, nil
}
