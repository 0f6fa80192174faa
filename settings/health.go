package settings

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/nevindra/runcore/sandbox"
)

// DockerInfo summarizes what Probe could learn about the local Docker
// installation. Every field is best-effort; a failed lookup just leaves
// the field at its zero value instead of failing Probe.
type DockerInfo struct {
	CLIPath string `json:"cli_path,omitempty"`
	Version string `json:"version,omitempty"`
	Context string `json:"context,omitempty"`
	Info    string `json:"info,omitempty"`
	Err     string `json:"err,omitempty"`
}

// Health is the health probe result: never raises, always returns a
// best-effort snapshot of the runtime this process would execute sandbox
// runs in.
type Health struct {
	RuntimeMode      string     `json:"runtime_mode"`
	WorkspaceHost    string     `json:"workspace_host"`
	WorkspaceDocker  string     `json:"workspace_docker"`
	Docker           DockerInfo `json:"docker"`
	GOOS             string     `json:"goos"`
	GOARCH           string     `json:"goarch"`
	WorkspaceWritable bool      `json:"workspace_writable"`
	CheckedAt        time.Time  `json:"checked_at"`
}

// Probe inspects the host's Docker CLI and sandbox workspace roots. It
// never returns an error: every sub-check degrades to a zero value or an
// Err string on failure so a health endpoint always has something to
// report.
func Probe(ctx context.Context, workspaceRoot string, now time.Time) Health {
	mode := sandbox.DetectRuntime()
	adapter := sandbox.NewPathAdapter(mode)
	dockerPath, err := adapter.DockerMountPath(workspaceRoot)
	if err != nil {
		dockerPath = workspaceRoot
	}

	h := Health{
		RuntimeMode:     string(mode),
		WorkspaceHost:   workspaceRoot,
		WorkspaceDocker: dockerPath,
		GOOS:            runtime.GOOS,
		GOARCH:          runtime.GOARCH,
		Docker:          probeDocker(ctx),
		CheckedAt:       now,
	}
	h.WorkspaceWritable = checkWritable(workspaceRoot)
	return h
}

func probeDocker(ctx context.Context) DockerInfo {
	var d DockerInfo
	path, err := exec.LookPath("docker")
	if err != nil {
		d.Err = "docker CLI not found in PATH"
		return d
	}
	d.CLIPath = path

	d.Version = runDockerSubcommand(ctx, "version", "--format", "{{.Server.Version}}")
	d.Context = runDockerSubcommand(ctx, "context", "show")
	d.Info = runDockerSubcommand(ctx, "info", "--format", "{{.ServerVersion}} / {{.OperatingSystem}}")
	return d
}

func runDockerSubcommand(ctx context.Context, args ...string) string {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, "docker", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func checkWritable(root string) bool {
	if root == "" {
		return false
	}
	probe := filepath.Join(root, ".runcore-health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}
