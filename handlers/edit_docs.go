package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/taskctx"
	"github.com/nevindra/runcore/worker"
)

// EditDocsDeps are the collaborators the two-phase edit_docs_* handlers
// need: the run store (to load the propose run's envelope during
// apply/cancel) and the workspace root edits are confined to.
type EditDocsDeps struct {
	Store         oasis.Store
	WorkspacePath string
}

// EditDocsProposeInput is the input shape for edit_docs_propose.
type EditDocsProposeInput struct {
	oasis.RunInput
	Path    string `json:"path"`
	NewText string `json:"new_text"`
}

// EditDocsPropose builds a closure implementing worker.Handler for
// edit_docs_propose: read_target -> compute_diff. The diff is never
// written to disk here; task_state=WAIT_CONFIRM signals the caller must
// invoke edit_docs_apply with the returned patch_id before anything
// changes on disk.
func EditDocsPropose(deps EditDocsDeps) worker.HandlerFunc {
	return func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input EditDocsProposeInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
		}
		resolved, err := resolveEditPath(deps.WorkspacePath, input.Path)
		if err != nil {
			return oasis.TaskResult{}, err
		}

		tc := taskctx.New(run.Type, input.RunInput)

		var oldText string
		err = tc.Step(ctx, "read_target", func(meta map[string]any) error {
			data, err := os.ReadFile(resolved)
			if err != nil {
				if os.IsNotExist(err) {
					oldText = ""
					meta["existed"] = false
					return nil
				}
				return &oasis.RuntimeError{Cause: err}
			}
			oldText = string(data)
			meta["existed"] = true
			meta["bytes"] = len(oldText)
			return nil
		})
		if err != nil {
			return tc.Build(), nil
		}

		var diffText, patchID string
		err = tc.Step(ctx, "compute_diff", func(meta map[string]any) error {
			diffText = unifiedDiff(input.Path, oldText, input.NewText)
			patchID = oasis.ComputePatchID(diffText)
			meta["patch_id_short"] = patchID[:oasis.PatchIDShortLen]
			return nil
		})
		if err != nil {
			return tc.Build(), nil
		}

		patch := oasis.Patch{
			PatchID:      patchID,
			PatchIDShort: patchID[:oasis.PatchIDShortLen],
			Diff:         diffText,
			Files:        []string{input.Path},
			Applied:      false,
		}
		tc.SetResult(map[string]any{"task_state": "WAIT_CONFIRM", "patch_id": patch.PatchID})
		tc.SetArtifacts(patch)

		return tc.Build(), nil
	}
}

// EditDocsApplyInput is the input shape for edit_docs_apply.
type EditDocsApplyInput struct {
	oasis.RunInput
	PatchID string `json:"patch_id"`
}

// EditDocsApply builds a closure implementing worker.Handler for
// edit_docs_apply: load the propose run's artifacts, verify patch_id
// (accepting any unique prefix), and write new_text over the target file.
func EditDocsApply(deps EditDocsDeps) worker.HandlerFunc {
	return func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input EditDocsApplyInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
		}
		if input.ParentRunID == "" {
			return oasis.TaskResult{}, &oasis.InvalidInputError{Reason: "edit_docs_apply requires parent_run_id"}
		}

		tc := taskctx.New(run.Type, input.RunInput)

		var parentPatch oasis.Patch
		var proposeInput EditDocsProposeInput
		err := tc.Step(ctx, "load_parent", func(meta map[string]any) error {
			parent, err := deps.Store.GetRun(ctx, input.ParentRunID)
			if err != nil {
				return &oasis.RuntimeError{Cause: err}
			}
			if parent.Output == nil {
				return &oasis.InvalidInputError{Reason: "parent run has no output envelope"}
			}
			if err := decodeArtifacts(parent.Output.Artifacts, &parentPatch); err != nil {
				return &oasis.InvalidInputError{Reason: "parent artifacts are not a patch: " + err.Error()}
			}
			if err := unmarshalInput(parent.Input, &proposeInput); err != nil {
				return &oasis.InvalidInputError{Reason: "parent input unreadable: " + err.Error()}
			}
			meta["parent_run_id"] = input.ParentRunID
			return nil
		})
		if err != nil {
			return tc.Build(), nil
		}

		err = tc.Step(ctx, "verify_patch_id", func(meta map[string]any) error {
			meta["input_patch_id"] = input.PatchID
			if !oasis.PatchIDMatches(parentPatch.PatchID, input.PatchID) {
				return &oasis.PatchMismatchError{Got: input.PatchID, Want: parentPatch.PatchID}
			}
			return nil
		})
		if err != nil {
			return tc.Build(), nil
		}

		resolved, err := resolveEditPath(deps.WorkspacePath, proposeInput.Path)
		if err != nil {
			return oasis.TaskResult{}, err
		}

		err = tc.Step(ctx, "apply_patch", func(meta map[string]any) error {
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return &oasis.RuntimeError{Cause: err}
			}
			if err := os.WriteFile(resolved, []byte(proposeInput.NewText), 0o644); err != nil {
				return &oasis.RuntimeError{Cause: err}
			}
			meta["bytes_written"] = len(proposeInput.NewText)
			return nil
		})
		if err != nil {
			return tc.Build(), nil
		}

		patch := parentPatch
		patch.Applied = true
		tc.SetResult(map[string]any{"task_state": "APPLIED", "patch_id": patch.PatchID, "applied": true})
		tc.SetArtifacts(patch)

		return tc.Build(), nil
	}
}

// EditDocsCancelInput is the input shape for edit_docs_cancel.
type EditDocsCancelInput struct {
	oasis.RunInput
	PatchID string `json:"patch_id"`
}

// EditDocsCancel builds a closure implementing worker.Handler for
// edit_docs_cancel: no disk mutation, just echoes patch_id with
// canceled=true after confirming parent_run_id names the propose run.
func EditDocsCancel(deps EditDocsDeps) worker.HandlerFunc {
	return func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input EditDocsCancelInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
		}
		if input.ParentRunID == "" {
			return oasis.TaskResult{}, &oasis.InvalidInputError{Reason: "edit_docs_cancel requires parent_run_id"}
		}

		tc := taskctx.New(run.Type, input.RunInput)

		var parentPatch oasis.Patch
		err := tc.Step(ctx, "load_parent", func(meta map[string]any) error {
			parent, err := deps.Store.GetRun(ctx, input.ParentRunID)
			if err != nil {
				return &oasis.RuntimeError{Cause: err}
			}
			if parent.Output == nil {
				return &oasis.InvalidInputError{Reason: "parent run has no output envelope"}
			}
			if err := decodeArtifacts(parent.Output.Artifacts, &parentPatch); err != nil {
				return &oasis.InvalidInputError{Reason: "parent artifacts are not a patch: " + err.Error()}
			}
			meta["parent_run_id"] = input.ParentRunID
			return nil
		})
		if err != nil {
			return tc.Build(), nil
		}

		if input.PatchID != "" && !oasis.PatchIDMatches(parentPatch.PatchID, input.PatchID) {
			_ = tc.Step(ctx, "verify_patch_id", func(meta map[string]any) error {
				return &oasis.PatchMismatchError{Got: input.PatchID, Want: parentPatch.PatchID}
			})
			return tc.Build(), nil
		}

		patch := parentPatch
		patch.Applied = false
		tc.SetResult(map[string]any{"task_state": "CANCELED", "patch_id": patch.PatchID, "canceled": true})
		tc.SetArtifacts(map[string]any{"patch_id": patch.PatchID, "canceled": true})

		return tc.Build(), nil
	}
}

// resolveEditPath anchors path under workspacePath, rejecting absolute
// paths and ".." segments before any file is read or written.
func resolveEditPath(workspacePath, path string) (string, error) {
	if path == "" {
		return "", &oasis.InvalidInputError{Reason: "path must be non-empty"}
	}
	if filepath.IsAbs(path) {
		return "", &oasis.InvalidArgumentError{Reason: "absolute paths not allowed: " + path}
	}
	if strings.Contains(path, "..") {
		return "", &oasis.InvalidArgumentError{Reason: "path traversal not allowed: " + path}
	}
	resolved := filepath.Join(workspacePath, path)
	if !strings.HasPrefix(resolved, workspacePath) {
		return "", &oasis.InvalidArgumentError{Reason: "path escapes workspace: " + path}
	}
	return resolved, nil
}

// unifiedDiff computes a unified diff of oldText -> newText for filename:
// DiffMain then DiffCleanupSemantic to collapse noisy single-character
// hunks before formatting.
func unifiedDiff(filename, oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(oldText, diffs)
	body := dmp.PatchToText(patches)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", filename)
	fmt.Fprintf(&b, "+++ b/%s\n", filename)
	b.WriteString(body)
	return b.String()
}

// decodeArtifacts re-decodes a run's artifacts payload into dst, since
// Output.Artifacts is stored as opaque json.RawMessage.
func decodeArtifacts(raw json.RawMessage, dst *oasis.Patch) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty artifacts")
	}
	return json.Unmarshal(raw, dst)
}
