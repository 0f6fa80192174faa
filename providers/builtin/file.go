package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/toolcatalog"
)

// readPreviewMax caps file_read output so a large file never bloats a step's
// result preview or the run envelope.
const readPreviewMax = 8000

// fileTools implements the builtin.file_* family, confined to one workspace
// root. Every path is resolved relative to the root; traversal and absolute
// paths fail with InvalidArgument before touching the filesystem.
type fileTools struct {
	root string
}

func newFileTools(root string) *fileTools {
	return &fileTools{root: root}
}

func (t *fileTools) list() []toolcatalog.ToolMeta {
	meta := func(name, schema, risk string, sideEffects bool) toolcatalog.ToolMeta {
		return toolcatalog.ToolMeta{
			Name:            "builtin." + name,
			ProviderID:      "builtin",
			RiskLevel:       risk,
			SideEffects:     sideEffects,
			CapabilityLevel: toolcatalog.CapabilityL0,
			InputSchema:     json.RawMessage(schema),
		}
	}
	return []toolcatalog.ToolMeta{
		meta("file_read",
			`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"}},"required":["path"]}`,
			toolcatalog.RiskReadOnly, false),
		meta("file_write",
			`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`,
			toolcatalog.RiskWrite, true),
		meta("file_list",
			`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to workspace (empty or '.' for root)"}}}`,
			toolcatalog.RiskReadOnly, false),
		meta("file_delete",
			`{"type":"object","properties":{"path":{"type":"string","description":"File or empty directory path relative to workspace"}},"required":["path"]}`,
			toolcatalog.RiskWrite, true),
		meta("file_stat",
			`{"type":"object","properties":{"path":{"type":"string","description":"File or directory path relative to workspace"}},"required":["path"]}`,
			toolcatalog.RiskReadOnly, false),
	}
}

func (t *fileTools) invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, &oasis.InvalidInputError{Reason: "decode args: " + err.Error()}
	}

	path := params.Path
	if path == "" {
		path = "."
	}
	resolved, err := t.resolve(path)
	if err != nil {
		return nil, err
	}

	switch name {
	case "file_read":
		return t.read(resolved)
	case "file_write":
		return t.write(resolved, params.Content)
	case "file_list":
		return t.listDir(resolved)
	case "file_delete":
		return t.remove(resolved)
	case "file_stat":
		return t.stat(resolved)
	default:
		return nil, &oasis.ToolNotFoundError{Name: "builtin." + name}
	}
}

// resolve joins path under the workspace root, rejecting absolute paths and
// any traversal that would escape it.
func (t *fileTools) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", &oasis.InvalidArgumentError{Reason: "absolute paths not allowed: " + path}
	}
	if strings.Contains(path, "..") {
		return "", &oasis.InvalidArgumentError{Reason: "path traversal not allowed: " + path}
	}
	resolved := filepath.Join(t.root, filepath.Clean(path))
	if resolved != t.root && !strings.HasPrefix(resolved, t.root+string(filepath.Separator)) {
		return "", &oasis.InvalidArgumentError{Reason: "path escapes workspace: " + path}
	}
	return resolved, nil
}

func (t *fileTools) read(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &oasis.InvalidArgumentError{Reason: "read: " + err.Error()}
	}
	content := string(data)
	truncated := false
	if len(content) > readPreviewMax {
		content = content[:readPreviewMax]
		truncated = true
	}
	return map[string]any{"content": content, "truncated": truncated, "size": len(data)}, nil
}

func (t *fileTools) write(path, content string) (any, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &oasis.RuntimeError{Cause: err}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, &oasis.RuntimeError{Cause: err}
	}
	return map[string]any{"written_bytes": len(content), "path": filepath.Base(path)}, nil
}

func (t *fileTools) listDir(path string) (any, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &oasis.InvalidArgumentError{Reason: "list: " + err.Error()}
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		items = append(items, map[string]any{"name": e.Name(), "type": kind})
	}
	return map[string]any{"entries": items}, nil
}

func (t *fileTools) remove(path string) (any, error) {
	if err := os.Remove(path); err != nil {
		return nil, &oasis.InvalidArgumentError{Reason: "delete: " + err.Error()}
	}
	return map[string]any{"deleted": filepath.Base(path)}, nil
}

func (t *fileTools) stat(path string) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &oasis.InvalidArgumentError{Reason: "stat: " + err.Error()}
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"type":     kind,
		"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
	}, nil
}
