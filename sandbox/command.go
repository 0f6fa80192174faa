package sandbox

import (
	"path/filepath"
	"strings"

	oasis "github.com/nevindra/runcore"
)

// Kind is the exec request's command shape: shell runs an arbitrary
// script, python runs inline code or a script already staged under
// /workspace/inputs.
type Kind string

const (
	KindShell  Kind = "shell"
	KindPython Kind = "python"
)

// Request is one sandbox exec request, already carrying its resolved
// workspace root (host-native path) and merged Policy.
type Request struct {
	ExecID      string
	ProjectID   string
	Kind        Kind
	Script      string // shell: the script body
	Code        string // python: inline code, mutually exclusive with Path
	Path        string // python: path under /workspace/inputs to run instead of Code
	WorkspaceHost string // host-native workspace root to bind-mount at /workspace
	Image       string
	Policy      Policy
}

// BuildCommand validates the request shape and returns the argv Docker
// should run inside the container. Path traversal (absolute paths, ".."
// segments) in Path is rejected before anything touches the filesystem.
func BuildCommand(req Request) ([]string, error) {
	switch req.Kind {
	case KindShell:
		if strings.TrimSpace(req.Script) == "" {
			return nil, &oasis.InvalidArgumentError{Reason: "shell exec requires a non-empty script"}
		}
		return []string{"bash", "-lc", req.Script}, nil
	case KindPython:
		if req.Code != "" && req.Path != "" {
			return nil, &oasis.InvalidArgumentError{Reason: "python exec accepts code or path, not both"}
		}
		if req.Code != "" {
			return []string{"python", "-c", req.Code}, nil
		}
		if req.Path != "" {
			safe, err := safeInputPath(req.Path)
			if err != nil {
				return nil, err
			}
			return []string{"python", safe}, nil
		}
		return nil, &oasis.InvalidArgumentError{Reason: "python exec requires code or path"}
	default:
		return nil, &oasis.InvalidArgumentError{Reason: "unsupported kind: " + string(req.Kind)}
	}
}

// safeInputPath rejects absolute paths and ".." segments, then anchors the
// result under /workspace/inputs.
func safeInputPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return "", &oasis.InvalidArgumentError{Reason: "path must be relative: " + p}
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &oasis.InvalidArgumentError{Reason: "path escapes workspace: " + p}
	}
	return filepath.Join("/workspace/inputs", clean), nil
}
